package enrich

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qcanalyst/qcanalyst/internal/log"
)

// Stats computes aggregate figures over the normalized schema. Population
// estimates and sample counts are deliberately separate methods and fields:
// mixing weighted and unweighted figures in one statistic is a correctness
// bug, so there is no ambiguous "count" anywhere in this API.
type Stats struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

func NewStats(pool *pgxpool.Pool, logger log.Logger) *Stats {
	return &Stats{pool: pool, logger: logger}
}

// FiscalYearStats summarizes one loaded fiscal year.
type FiscalYearStats struct {
	FiscalYear int `json:"fiscal_year"`
	// SampleHouseholds is the unweighted number of sampled cases.
	SampleHouseholds int `json:"sample_households"`
	// PopulationEstimate is the weighted projection onto the full
	// caseload, using the monthly household weight.
	PopulationEstimate float64 `json:"population_estimate"`
	SampleMembers      int     `json:"sample_members"`
	SampleErrors       int     `json:"sample_errors"`
	AvgBenefit         float64 `json:"avg_benefit"`
	WeightedAvgBenefit float64 `json:"weighted_avg_benefit"`
}

// Overview lists every loaded fiscal year with its headline figures.
type Overview struct {
	FiscalYears []FiscalYearStats `json:"fiscal_years"`
	// TotalSampleHouseholds is unweighted, across all years.
	TotalSampleHouseholds int `json:"total_sample_households"`
}

// SampleSize returns the unweighted count of sampled households for a
// fiscal year.
func (s *Stats) SampleSize(ctx context.Context, fiscalYear int) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM households WHERE fiscal_year = $1`,
		fiscalYear).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sample size: %w", err)
	}
	return n, nil
}

// PopulationEstimate projects the sample onto the population using the
// monthly household weight: sum of weights, not a row count.
func (s *Stats) PopulationEstimate(ctx context.Context, fiscalYear int) (float64, error) {
	var estimate float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(household_weight), 0)
		 FROM households WHERE fiscal_year = $1`,
		fiscalYear).Scan(&estimate)
	if err != nil {
		return 0, fmt.Errorf("population estimate: %w", err)
	}
	return estimate, nil
}

// StateStats summarizes one state's loaded cases, keeping the same
// sample-versus-population split as FiscalYearStats.
type StateStats struct {
	StateCode          int     `json:"state_code"`
	StateName          string  `json:"state_name"`
	SampleHouseholds   int     `json:"sample_households"`
	PopulationEstimate float64 `json:"population_estimate"`
	AvgBenefit         float64 `json:"avg_benefit"`
	WeightedAvgBenefit float64 `json:"weighted_avg_benefit"`
	AvgHouseholdSize   float64 `json:"avg_household_size"`
}

// ByState breaks the loaded caseload down per state, ordered by FIPS code.
// fiscalYear of 0 spans all loaded years. State names missing from the
// extract fall back to the reference table.
func (s *Stats) ByState(ctx context.Context, fiscalYear int) ([]StateStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT h.state_code,
		        COALESCE(h.state_name, r.name, ''),
		        COUNT(*),
		        COALESCE(SUM(h.household_weight), 0),
		        COALESCE(AVG(h.snap_benefit), 0),
		        COALESCE(SUM(h.snap_benefit * h.household_weight)
		                 / NULLIF(SUM(h.household_weight), 0), 0),
		        COALESCE(AVG(h.certified_household_size), 0)
		 FROM households h
		 LEFT JOIN ref_state r ON r.fips_code = h.state_code
		 WHERE h.state_code IS NOT NULL
		   AND ($1 = 0 OR h.fiscal_year = $1)
		 GROUP BY h.state_code, COALESCE(h.state_name, r.name, '')
		 ORDER BY h.state_code`, fiscalYear)
	if err != nil {
		return nil, fmt.Errorf("by-state statistics: %w", err)
	}
	defer rows.Close()

	var states []StateStats
	for rows.Next() {
		var st StateStats
		if err := rows.Scan(&st.StateCode, &st.StateName, &st.SampleHouseholds,
			&st.PopulationEstimate, &st.AvgBenefit, &st.WeightedAvgBenefit,
			&st.AvgHouseholdSize); err != nil {
			return nil, fmt.Errorf("scan by-state statistics: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// Overview summarizes all loaded fiscal years.
func (s *Stats) Overview(ctx context.Context) (*Overview, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT h.fiscal_year,
		        COUNT(*),
		        COALESCE(SUM(h.household_weight), 0),
		        COALESCE(AVG(h.snap_benefit), 0),
		        COALESCE(SUM(h.snap_benefit * h.household_weight)
		                 / NULLIF(SUM(h.household_weight), 0), 0),
		        (SELECT COUNT(*) FROM household_members m WHERE m.fiscal_year = h.fiscal_year),
		        (SELECT COUNT(*) FROM qc_errors e WHERE e.fiscal_year = h.fiscal_year)
		 FROM households h
		 GROUP BY h.fiscal_year
		 ORDER BY h.fiscal_year`)
	if err != nil {
		return nil, fmt.Errorf("overview: %w", err)
	}
	defer rows.Close()

	overview := &Overview{}
	for rows.Next() {
		var fy FiscalYearStats
		if err := rows.Scan(&fy.FiscalYear, &fy.SampleHouseholds,
			&fy.PopulationEstimate, &fy.AvgBenefit, &fy.WeightedAvgBenefit,
			&fy.SampleMembers, &fy.SampleErrors); err != nil {
			return nil, fmt.Errorf("scan overview: %w", err)
		}
		overview.FiscalYears = append(overview.FiscalYears, fy)
		overview.TotalSampleHouseholds += fy.SampleHouseholds
	}
	return overview, rows.Err()
}
