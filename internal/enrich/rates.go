package enrich

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qcanalyst/qcanalyst/internal/log"
)

// ToleranceFunc looks up the published tolerance threshold for a fiscal
// year. Injected rather than read from ambient state so concurrent
// computations over different rule sets cannot cross-talk.
type ToleranceFunc func(fiscalYear int) float64

// ErrorRates holds the official error-rate figures for one fiscal year.
// All rates are percentages. Payment, overpayment and underpayment rates
// are weighted; the case error rate is an unweighted share of sampled
// cases.
type ErrorRates struct {
	FiscalYear         int     `json:"fiscal_year"`
	ToleranceThreshold float64 `json:"tolerance_threshold"`
	PaymentErrorRate   float64 `json:"payment_error_rate"`
	OverpaymentRate    float64 `json:"overpayment_rate"`
	UnderpaymentRate   float64 `json:"underpayment_rate"`
	CaseErrorRate      float64 `json:"case_error_rate"`
	// SampleCases is the unweighted number of cases in the official
	// calculation, after classification filtering.
	SampleCases int `json:"sample_cases"`
}

// Rates computes the official SNAP error rates.
type Rates struct {
	pool      *pgxpool.Pool
	tolerance ToleranceFunc
	logger    log.Logger
}

func NewRates(pool *pgxpool.Pool, tolerance ToleranceFunc, logger log.Logger) *Rates {
	return &Rates{pool: pool, tolerance: tolerance, logger: logger}
}

// StateErrorRates computes the official error rates for one fiscal year.
//
// Only case_classification = 1 households enter the calculation; SSA- and
// FNS-excluded cases never touch numerator or denominator. An error at or
// below the year's tolerance threshold is excluded from every numerator
// but its household still counts in the denominators.
func (r *Rates) StateErrorRates(ctx context.Context, fiscalYear int) (*ErrorRates, error) {
	threshold := r.tolerance(fiscalYear)

	rates := &ErrorRates{FiscalYear: fiscalYear, ToleranceThreshold: threshold}
	err := r.pool.QueryRow(ctx,
		`SELECT
		   COUNT(*),
		   COALESCE(
		     SUM(CASE WHEN ABS(amount_error) > $2
		              THEN ABS(amount_error) * household_weight ELSE 0 END)
		     / NULLIF(SUM(snap_benefit * household_weight), 0) * 100, 0),
		   COALESCE(
		     SUM(CASE WHEN amount_error > $2
		              THEN amount_error * household_weight ELSE 0 END)
		     / NULLIF(SUM(snap_benefit * household_weight), 0) * 100, 0),
		   COALESCE(
		     SUM(CASE WHEN amount_error < -$2
		              THEN ABS(amount_error) * household_weight ELSE 0 END)
		     / NULLIF(SUM(snap_benefit * household_weight), 0) * 100, 0),
		   COALESCE(
		     COUNT(*) FILTER (WHERE ABS(amount_error) > $2)::double precision
		     / NULLIF(COUNT(*), 0) * 100, 0)
		 FROM households
		 WHERE fiscal_year = $1 AND case_classification = 1`,
		fiscalYear, threshold).Scan(
		&rates.SampleCases,
		&rates.PaymentErrorRate,
		&rates.OverpaymentRate,
		&rates.UnderpaymentRate,
		&rates.CaseErrorRate)
	if err != nil {
		return nil, fmt.Errorf("state error rates: %w", err)
	}

	r.logger.Debug("error rates computed",
		"fiscal_year", fiscalYear,
		"tolerance", threshold,
		"sample_cases", rates.SampleCases,
		"payment_error_rate", rates.PaymentErrorRate)
	return rates, nil
}
