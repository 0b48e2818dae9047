package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/qcanalyst/qcanalyst/api"
	"github.com/qcanalyst/qcanalyst/internal/config"
	"github.com/qcanalyst/qcanalyst/internal/enrich"
	"github.com/qcanalyst/qcanalyst/internal/query"
)

// runServe starts the HTTP API server:
//
//	qcanalyst serve [addr]
func runServe(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.ServeAddr
	if len(args) > 0 {
		addr = args[0]
	}

	deps := api.Deps{
		Pool:     a.pool,
		Executor: query.NewExecutor(a.pool, a.cfg.QueryLimit, config.MaxQueryLimit, a.logger),
		Enricher: enrich.NewEnricher(a.pool, a.logger),
		Stats:    enrich.NewStats(a.pool, a.logger),
		Rates:    enrich.NewRates(a.pool, a.tolerance(), a.logger),
		Loader:   a.loader,
		Writer:   a.writer,
		Logger:   a.logger,
	}

	// Natural-language queries need a model; without a key the API still
	// serves direct SQL.
	if os.Getenv("GEMINI_API_KEY") != "" {
		gen, err := query.NewGenkitGenerator(ctx, a.cfg.FullModelName(), a.logger)
		if err != nil {
			return fmt.Errorf("initialize SQL generator: %w", err)
		}
		deps.Generator = gen
	} else {
		a.logger.Warn("GEMINI_API_KEY not set, /api/ask limited to direct SQL")
	}

	return api.NewServer(deps).Run(ctx, addr)
}
