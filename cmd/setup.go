package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qcanalyst/qcanalyst/db"
	"github.com/qcanalyst/qcanalyst/internal/config"
	"github.com/qcanalyst/qcanalyst/internal/enrich"
	"github.com/qcanalyst/qcanalyst/internal/etl"
	"github.com/qcanalyst/qcanalyst/internal/log"
)

// app bundles the pieces every command needs: validated config, a
// database pool with migrations applied, and the ETL loader.
type app struct {
	cfg    *config.Config
	pool   *pgxpool.Pool
	writer *etl.Writer
	loader *etl.Loader
	logger log.Logger
}

func newApp(ctx context.Context) (*app, error) {
	// Load validates before returning.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := log.New(log.Config{Level: logLevel()})

	if err := db.Migrate(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	mapping := etl.DefaultMapping()
	mapping.MaxMembers = cfg.MaxMembers
	mapping.MaxErrors = cfg.MaxErrors

	writer := etl.NewWriter(pool, mapping, logger)
	loader := etl.NewLoader(writer, mapping, cfg.LockDir, cfg.BatchSize, logger)

	return &app{
		cfg:    cfg,
		pool:   pool,
		writer: writer,
		loader: loader,
		logger: logger,
	}, nil
}

func (a *app) Close() {
	a.pool.Close()
}

// tolerance adapts the configured per-year thresholds to the signature
// the error-rate calculator takes. ToleranceThreshold already falls back
// to the most recent configured year, then to the built-in default.
func (a *app) tolerance() enrich.ToleranceFunc {
	return func(fiscalYear int) float64 {
		amount, _ := a.cfg.ToleranceThreshold(fiscalYear)
		return amount
	}
}

func logLevel() slog.Level {
	if os.Getenv("DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
