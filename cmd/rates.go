package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/qcanalyst/qcanalyst/internal/enrich"
)

// runRates prints the official weighted error rates for one fiscal year:
//
//	qcanalyst rates 2023
func runRates(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("rates requires a fiscal year")
	}
	fiscalYear, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid fiscal year %q: %w", args[0], err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rates, err := enrich.NewRates(a.pool, a.tolerance(), a.logger).StateErrorRates(ctx, fiscalYear)
	if err != nil {
		return err
	}

	fmt.Printf("Fiscal Year %d (tolerance threshold $%.2f, %d sample cases)\n",
		rates.FiscalYear, rates.ToleranceThreshold, rates.SampleCases)
	fmt.Printf("  Payment error rate:  %6.2f%%\n", rates.PaymentErrorRate)
	fmt.Printf("  Overpayment rate:    %6.2f%%\n", rates.OverpaymentRate)
	fmt.Printf("  Underpayment rate:   %6.2f%%\n", rates.UnderpaymentRate)
	fmt.Printf("  Case error rate:     %6.2f%%\n", rates.CaseErrorRate)
	return nil
}
