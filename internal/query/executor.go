package query

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qcanalyst/qcanalyst/internal/log"
)

// Result carries query rows plus execution metadata.
type Result struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
	// Truncated is set when the row limit cut the result short.
	Truncated  bool    `json:"truncated"`
	DurationMS float64 `json:"duration_ms"`
}

// Executor runs validated read-only SQL with a hard row limit.
type Executor struct {
	pool         *pgxpool.Pool
	defaultLimit int
	maxLimit     int
	logger       log.Logger
}

func NewExecutor(pool *pgxpool.Pool, defaultLimit, maxLimit int, logger log.Logger) *Executor {
	return &Executor{pool: pool, defaultLimit: defaultLimit, maxLimit: maxLimit, logger: logger}
}

// Execute validates sql as read-only and runs it. The limit is applied
// while scanning, so an unbounded query cannot flood the caller; limit <= 0
// uses the configured default and anything above the maximum is clamped.
func (e *Executor) Execute(ctx context.Context, sql string, limit int) (*Result, error) {
	if err := ValidateReadOnly(sql); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = e.defaultLimit
	}
	if limit > e.maxLimit {
		limit = e.maxLimit
	}

	// A read-only transaction backstops the keyword guard: side-effecting
	// functions the lexer cannot recognize (setval, nextval) fail here.
	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	start := time.Now()
	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &Result{Columns: make([]string, len(fields))}
	for i, f := range fields {
		result.Columns[i] = f.Name
	}

	for rows.Next() {
		if result.RowCount >= limit {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read query row: %w", err)
		}
		result.Rows = append(result.Rows, values)
		result.RowCount++
	}
	if !result.Truncated {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("execute query: %w", err)
		}
	}

	result.DurationMS = float64(time.Since(start).Microseconds()) / 1000
	e.logger.Debug("query executed",
		"rows", result.RowCount,
		"truncated", result.Truncated,
		"duration_ms", result.DurationMS)
	return result, nil
}
