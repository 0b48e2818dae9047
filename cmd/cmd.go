// Package cmd provides the qcanalyst CLI commands.
//
// Commands:
//   - load: run the ETL pipeline for one fiscal year file
//   - serve: HTTP API server
//   - reset: remove one fiscal year or all loaded data
//   - rates: print the official error rates for a fiscal year
//
// All commands handle SIGINT/SIGTERM via context cancellation; a load
// stops at the next row boundary.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/qcanalyst/qcanalyst/api"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "development"
	BuildTime = "unknown"
)

// Execute is the main entry point for the qcanalyst CLI.
func Execute() error {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "load":
		return runLoad(os.Args[2:])
	case "serve":
		return runServe(os.Args[2:])
	case "reset":
		return runReset(os.Args[2:])
	case "rates":
		return runRates(os.Args[2:])
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

func runVersion() {
	fmt.Printf("qcanalyst %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("qcanalyst - SNAP Quality Control analytics")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  qcanalyst load <fiscal-year> <file.csv> [--force]   Load a QC extract")
	fmt.Printf("  qcanalyst serve [addr]                              Start HTTP API server (default: %s)\n", api.DefaultAddr)
	fmt.Println("  qcanalyst reset <fiscal-year>|all                   Remove loaded data")
	fmt.Println("  qcanalyst rates <fiscal-year>                       Print official error rates")
	fmt.Println("  qcanalyst --version                                 Show version information")
	fmt.Println("  qcanalyst --help                                    Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  DATABASE_URL       Optional: PostgreSQL connection URL")
	fmt.Println("  GEMINI_API_KEY     Optional: enables natural-language queries on /api/ask")
	fmt.Println("  DEBUG              Optional: enable debug logging")
}
