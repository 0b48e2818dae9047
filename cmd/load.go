package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"github.com/qcanalyst/qcanalyst/internal/etl"
)

// runLoad executes one ETL job from the command line:
//
//	qcanalyst load 2023 data/qc_fy2023.csv [--force]
func runLoad(args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	force := fs.Bool("force", false, "replace an already loaded fiscal year")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: qcanalyst load <fiscal-year> <file.csv> [--force]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return fmt.Errorf("load requires a fiscal year and a file path")
	}

	fiscalYear, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid fiscal year %q: %w", fs.Arg(0), err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	status, err := a.loader.Load(ctx, etl.Options{
		FiscalYear: fiscalYear,
		FilePath:   fs.Arg(1),
		Force:      *force,
		LoadedBy:   currentUser(),
		Method:     "cli",
	})
	if status != nil {
		printStatus(status)
	}
	return err
}

func printStatus(s *etl.Status) {
	fmt.Printf("Job:        %s\n", s.JobID)
	fmt.Printf("Status:     %s\n", s.State)
	fmt.Printf("File:       %s\n", s.Filename)
	fmt.Printf("Rows:       %d read, %d loaded, %d skipped\n",
		s.Counts.RowsRead, s.Counts.RowsLoaded, s.Counts.RowsSkipped)
	fmt.Printf("Created:    %d households, %d members, %d errors\n",
		s.Counts.Households, s.Counts.Members, s.Counts.Errors)
	fmt.Printf("Duration:   %s\n", s.CompletedAt.Sub(s.StartedAt).Round(10*time.Millisecond))
	if s.ErrorMessage != "" {
		fmt.Printf("Error:      %s\n", s.ErrorMessage)
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}
