package enrich_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcanalyst/qcanalyst/internal/enrich"
	"github.com/qcanalyst/qcanalyst/internal/log"
	"github.com/qcanalyst/qcanalyst/internal/testutil"
)

type seedHousehold struct {
	caseID         string
	classification int
	benefit        float64
	amountError    float64
	weight         float64
}

func seedHouseholds(t *testing.T, db *testutil.TestDB, fiscalYear int, hhs []seedHousehold) {
	t.Helper()
	ctx := context.Background()
	for _, h := range hhs {
		_, err := db.Pool.Exec(ctx,
			`INSERT INTO households
			   (case_id, fiscal_year, case_classification, snap_benefit, amount_error, household_weight)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			h.caseID, fiscalYear, h.classification, h.benefit, h.amountError, h.weight)
		require.NoError(t, err)
	}
}

func TestEnrichAttachesDescriptions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	enricher := enrich.NewEnricher(db.Pool, log.NewNop())

	columns := []string{"case_id", "case_classification", "snap_benefit"}
	rows := [][]any{
		{"101", int64(1), 281.0},
		{"102", int64(3), 150.0},
		{"103", nil, 90.0},
	}

	outCols, outRows, err := enricher.Enrich(ctx, columns, rows)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"case_id", "case_classification", "case_classification_description", "snap_benefit",
	}, outCols)
	require.Len(t, outRows, 3)
	assert.Equal(t, "Included in official error rate calculations", outRows[0][2])
	assert.Equal(t, "Excluded by FNS administrative rule", outRows[1][2])
	assert.Nil(t, outRows[2][2])
}

func TestEnrichPassesThroughUncodedColumns(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	enricher := enrich.NewEnricher(db.Pool, log.NewNop())

	columns := []string{"case_id", "snap_benefit"}
	rows := [][]any{{"101", 281.0}}

	outCols, outRows, err := enricher.Enrich(context.Background(), columns, rows)
	require.NoError(t, err)
	assert.Equal(t, columns, outCols)
	assert.Equal(t, rows, outRows)
}

func TestStatsSampleVersusPopulation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	seedHouseholds(t, db, 2023, []seedHousehold{
		{"101", 1, 281, 0, 450},
		{"102", 1, 150, 0, 380},
		{"103", 2, 90, 0, 500},
	})

	stats := enrich.NewStats(db.Pool, log.NewNop())

	sample, err := stats.SampleSize(ctx, 2023)
	require.NoError(t, err)
	assert.Equal(t, 3, sample)

	population, err := stats.PopulationEstimate(ctx, 2023)
	require.NoError(t, err)
	assert.InDelta(t, 1330.0, population, 0.001)

	overview, err := stats.Overview(ctx)
	require.NoError(t, err)
	require.Len(t, overview.FiscalYears, 1)
	fy := overview.FiscalYears[0]
	assert.Equal(t, 2023, fy.FiscalYear)
	assert.Equal(t, 3, fy.SampleHouseholds)
	assert.InDelta(t, 1330.0, fy.PopulationEstimate, 0.001)
}

func TestStatsByState(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	seed := func(caseID string, fiscalYear, stateCode int, stateName any, benefit, weight float64, size int) {
		_, err := db.Pool.Exec(ctx,
			`INSERT INTO households
			   (case_id, fiscal_year, state_code, state_name, snap_benefit,
			    household_weight, certified_household_size)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			caseID, fiscalYear, stateCode, stateName, benefit, weight, size)
		require.NoError(t, err)
	}
	// California rows carry no state name; the reference table supplies it.
	seed("101", 2023, 6, nil, 200, 100, 2)
	seed("102", 2023, 6, nil, 400, 300, 4)
	seed("201", 2023, 48, "Texas", 100, 50, 1)
	seed("301", 2022, 48, "Texas", 500, 80, 5)

	stats := enrich.NewStats(db.Pool, log.NewNop())

	states, err := stats.ByState(ctx, 2023)
	require.NoError(t, err)
	require.Len(t, states, 2)

	ca := states[0]
	assert.Equal(t, 6, ca.StateCode)
	assert.Equal(t, "California", ca.StateName)
	assert.Equal(t, 2, ca.SampleHouseholds)
	assert.InDelta(t, 400.0, ca.PopulationEstimate, 0.001)
	assert.InDelta(t, 300.0, ca.AvgBenefit, 0.001)
	// (200*100 + 400*300) / 400 weighted dollars per household.
	assert.InDelta(t, 350.0, ca.WeightedAvgBenefit, 0.001)
	assert.InDelta(t, 3.0, ca.AvgHouseholdSize, 0.001)

	tx := states[1]
	assert.Equal(t, 48, tx.StateCode)
	assert.Equal(t, "Texas", tx.StateName)
	assert.Equal(t, 1, tx.SampleHouseholds)

	// Fiscal year 0 spans every loaded year.
	all, err := stats.ByState(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 2, all[1].SampleHouseholds)
}

func fixedTolerance(amount float64) enrich.ToleranceFunc {
	return func(int) float64 { return amount }
}

func TestStateErrorRates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// Equal weights make the arithmetic easy to follow. Tolerance is 54:
	// case 101 is an overpayment above threshold, 102 an underpayment
	// above threshold, 103 within tolerance, 104 error-free.
	seedHouseholds(t, db, 2023, []seedHousehold{
		{"101", 1, 300, 100, 10},
		{"102", 1, 200, -80, 10},
		{"103", 1, 250, 40, 10},
		{"104", 1, 250, 0, 10},
		// Excluded classifications never enter the calculation.
		{"201", 2, 1000, 900, 10},
		{"202", 3, 1000, 900, 10},
	})

	rates := enrich.NewRates(db.Pool, fixedTolerance(54), log.NewNop())
	got, err := rates.StateErrorRates(ctx, 2023)
	require.NoError(t, err)

	assert.Equal(t, 4, got.SampleCases)
	assert.Equal(t, 54.0, got.ToleranceThreshold)

	// Weighted benefits: (300+200+250+250)*10 = 10000.
	// Above-threshold weighted errors: (100+80)*10 = 1800.
	assert.InDelta(t, 18.0, got.PaymentErrorRate, 0.001)
	assert.InDelta(t, 10.0, got.OverpaymentRate, 0.001)
	assert.InDelta(t, 8.0, got.UnderpaymentRate, 0.001)
	// 2 of 4 sampled cases exceed tolerance, unweighted.
	assert.InDelta(t, 50.0, got.CaseErrorRate, 0.001)
}

func TestStateErrorRatesToleranceExcludesNumeratorOnly(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// A single case within tolerance: zero numerator, nonzero denominator.
	seedHouseholds(t, db, 2023, []seedHousehold{
		{"101", 1, 300, 40, 10},
	})

	rates := enrich.NewRates(db.Pool, fixedTolerance(54), log.NewNop())
	got, err := rates.StateErrorRates(ctx, 2023)
	require.NoError(t, err)

	assert.Equal(t, 1, got.SampleCases)
	assert.Zero(t, got.PaymentErrorRate)
	assert.Zero(t, got.CaseErrorRate)
}

func TestStateErrorRatesEmptyYear(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	rates := enrich.NewRates(db.Pool, fixedTolerance(54), log.NewNop())
	got, err := rates.StateErrorRates(context.Background(), 1999)
	require.NoError(t, err)

	assert.Zero(t, got.SampleCases)
	assert.Zero(t, got.PaymentErrorRate)
	assert.Zero(t, got.OverpaymentRate)
	assert.Zero(t, got.UnderpaymentRate)
	assert.Zero(t, got.CaseErrorRate)
}
