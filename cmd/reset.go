package cmd

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
)

// runReset deletes loaded data for one fiscal year, or everything:
//
//	qcanalyst reset 2023
//	qcanalyst reset all [--yes]
func runReset(args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: qcanalyst reset <fiscal-year>|all [--yes]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("reset requires a fiscal year or \"all\"")
	}

	target := fs.Arg(0)
	if !*yes && !confirm(fmt.Sprintf("Delete all loaded data for %s? [y/N] ", target)) {
		fmt.Println("Aborted.")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if target == "all" {
		if err := a.loader.ResetAll(ctx); err != nil {
			return err
		}
		fmt.Println("All loaded data removed.")
		return nil
	}

	fiscalYear, err := strconv.Atoi(target)
	if err != nil {
		return fmt.Errorf("invalid fiscal year %q: %w", target, err)
	}
	if err := a.loader.Reset(ctx, fiscalYear); err != nil {
		return err
	}
	fmt.Printf("Fiscal year %d removed.\n", fiscalYear)
	return nil
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
