package etl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qcanalyst/qcanalyst/internal/log"
)

var (
	// ErrAlreadyLoaded rejects a reload of a fiscal year that has a
	// completed provenance record. Force a reset first.
	ErrAlreadyLoaded = errors.New("fiscal year already loaded")

	// ErrRowConflict marks a single-row constraint violation. The loader
	// counts the row as skipped and continues.
	ErrRowConflict = errors.New("row conflicts with existing data")
)

// Counts are the final figures of one load. They are reported to the caller
// and persisted in data_load_history even when the load fails partway.
type Counts struct {
	RowsRead    int `json:"rows_read"`
	RowsLoaded  int `json:"rows_loaded"`
	RowsSkipped int `json:"rows_skipped"`
	Households  int `json:"households_created"`
	Members     int `json:"members_created"`
	Errors      int `json:"errors_created"`
}

// LoadRecord is one data_load_history row.
type LoadRecord struct {
	ID              int64      `json:"id"`
	FiscalYear      int        `json:"fiscal_year"`
	Filename        string     `json:"filename"`
	FileSizeBytes   int64      `json:"file_size_bytes"`
	TotalRowsInFile int        `json:"total_rows_in_file"`
	RowsLoaded      int        `json:"rows_loaded"`
	RowsSkipped     int        `json:"rows_skipped"`
	Households      int        `json:"households_created"`
	Members         int        `json:"members_created"`
	Errors          int        `json:"errors_created"`
	Status          string     `json:"load_status"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
	LoadedBy        string     `json:"loaded_by,omitempty"`
	LoadMethod      string     `json:"load_method,omitempty"`
}

// Writer persists validated record sets. One source row's household and
// children commit or roll back together; no batching ever crosses that
// boundary.
type Writer struct {
	pool    *pgxpool.Pool
	mapping *Mapping
	logger  log.Logger

	householdSQL  string
	householdCols []string
	memberSQL     string
	memberCols    []string
	errorSQL      string
	errorCols     []string
}

func NewWriter(pool *pgxpool.Pool, mapping *Mapping, logger log.Logger) *Writer {
	w := &Writer{pool: pool, mapping: mapping, logger: logger}

	w.householdCols = destinationColumns(mapping.Household,
		"household_type", "income_category")
	w.householdSQL = insertSQL("households",
		[]string{"case_id", "fiscal_year"}, w.householdCols)

	w.memberCols = destinationColumns(mapping.Person,
		"earned_income_total", "unearned_income_total", "total_income")
	w.memberSQL = insertSQL("household_members",
		[]string{"case_id", "fiscal_year", "member_number"}, w.memberCols)

	w.errorCols = destinationColumns(mapping.Error)
	w.errorSQL = insertSQL("qc_errors",
		[]string{"case_id", "fiscal_year", "error_number"}, w.errorCols)

	return w
}

// destinationColumns lists rule destinations plus derived columns, with
// case_id excluded since it is part of every key prefix.
func destinationColumns(rules []Rule, derived ...string) []string {
	cols := make([]string, 0, len(rules)+len(derived))
	for _, r := range rules {
		if r.Column == "case_id" {
			continue
		}
		cols = append(cols, r.Column)
	}
	return append(cols, derived...)
}

func insertSQL(table string, keyCols, cols []string) string {
	all := append(append([]string{}, keyCols...), cols...)
	placeholders := make([]string, len(all))
	for i := range all {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(all, ", "), strings.Join(placeholders, ", "))
}

func fieldArgs(key []any, cols []string, fields map[string]any) []any {
	args := append([]any{}, key...)
	for _, col := range cols {
		args = append(args, fields[col])
	}
	return args
}

// WriteRow persists one row set in its own transaction. Constraint
// violations come back as ErrRowConflict; anything else is fatal to the
// load.
func (w *Writer) WriteRow(ctx context.Context, rs *RowSet) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin row transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	h := rs.Household
	_, err = tx.Exec(ctx, w.householdSQL,
		fieldArgs([]any{h.CaseID, h.FiscalYear}, w.householdCols, h.Fields)...)
	if err != nil {
		return classifyWriteError("households", rs.RowNumber, err)
	}

	for _, m := range rs.Members {
		_, err = tx.Exec(ctx, w.memberSQL,
			fieldArgs([]any{m.CaseID, m.FiscalYear, m.MemberNumber}, w.memberCols, m.Fields)...)
		if err != nil {
			return classifyWriteError("household_members", rs.RowNumber, err)
		}
	}

	for _, e := range rs.Errors {
		_, err = tx.Exec(ctx, w.errorSQL,
			fieldArgs([]any{e.CaseID, e.FiscalYear, e.ErrorNumber}, w.errorCols, e.Fields)...)
		if err != nil {
			return classifyWriteError("qc_errors", rs.RowNumber, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit row %d: %w", rs.RowNumber, err)
	}
	return nil
}

func classifyWriteError(table string, row int, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation, pgerrcode.ForeignKeyViolation, pgerrcode.CheckViolation:
			return fmt.Errorf("%w: row %d, table %s: %s", ErrRowConflict, row, table, pgErr.Message)
		}
	}
	return fmt.Errorf("write %s row %d: %w", table, row, err)
}

// CheckNotLoaded is the idempotency pre-flight: it fails with
// ErrAlreadyLoaded when a completed load already exists for the fiscal
// year.
func (w *Writer) CheckNotLoaded(ctx context.Context, fiscalYear int) error {
	var filename string
	err := w.pool.QueryRow(ctx,
		`SELECT filename FROM data_load_history
		 WHERE fiscal_year = $1 AND load_status = 'completed'
		 ORDER BY started_at DESC LIMIT 1`,
		fiscalYear).Scan(&filename)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check load history: %w", err)
	}
	return fmt.Errorf("%w: fiscal year %d was loaded from %s", ErrAlreadyLoaded, fiscalYear, filename)
}

// BeginLoad opens the provenance record for a load and returns its id.
func (w *Writer) BeginLoad(ctx context.Context, fiscalYear int, filename string, sizeBytes int64, loadedBy, method string) (int64, error) {
	var id int64
	err := w.pool.QueryRow(ctx,
		`INSERT INTO data_load_history
		   (fiscal_year, filename, file_size_bytes, load_status, loaded_by, load_method)
		 VALUES ($1, $2, $3, 'in_progress', $4, $5)
		 RETURNING id`,
		fiscalYear, filename, sizeBytes, loadedBy, method).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record load start: %w", err)
	}
	return id, nil
}

// UpdateProgress refreshes the running counts on an in-progress provenance
// row so long loads can be watched from data_load_history. Best effort: a
// stale checkpoint never fails the load, FinishLoad overwrites it anyway.
func (w *Writer) UpdateProgress(ctx context.Context, id int64, counts Counts) error {
	_, err := w.pool.Exec(ctx,
		`UPDATE data_load_history SET
		   total_rows_in_file = $2,
		   rows_loaded = $3,
		   rows_skipped = $4,
		   households_created = $5,
		   members_created = $6,
		   errors_created = $7
		 WHERE id = $1 AND load_status = 'in_progress'`,
		id, counts.RowsRead, counts.RowsLoaded, counts.RowsSkipped,
		counts.Households, counts.Members, counts.Errors)
	if err != nil {
		return fmt.Errorf("record load progress: %w", err)
	}
	return nil
}

// FinishLoad closes the provenance record with a terminal status and final
// counts, even when the load failed partway.
func (w *Writer) FinishLoad(ctx context.Context, id int64, status string, counts Counts, errMsg string) error {
	var msg any
	if errMsg != "" {
		msg = errMsg
	}
	_, err := w.pool.Exec(ctx,
		`UPDATE data_load_history SET
		   total_rows_in_file = $2,
		   rows_loaded = $3,
		   rows_skipped = $4,
		   households_created = $5,
		   members_created = $6,
		   errors_created = $7,
		   load_status = $8,
		   error_message = $9,
		   completed_at = now(),
		   duration_seconds = EXTRACT(EPOCH FROM now() - started_at)::int
		 WHERE id = $1`,
		id, counts.RowsRead, counts.RowsLoaded, counts.RowsSkipped,
		counts.Households, counts.Members, counts.Errors, status, msg)
	if err != nil {
		return fmt.Errorf("record load finish: %w", err)
	}
	return nil
}

// ResetFiscalYear removes one fiscal year's households (children cascade)
// and its load history, clearing the way for a forced reload.
func (w *Writer) ResetFiscalYear(ctx context.Context, fiscalYear int) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM households WHERE fiscal_year = $1`, fiscalYear)
	if err != nil {
		return fmt.Errorf("reset households: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM data_load_history WHERE fiscal_year = $1`, fiscalYear); err != nil {
		return fmt.Errorf("reset load history: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}

	w.logger.Info("fiscal year reset",
		"fiscal_year", fiscalYear,
		"households_removed", tag.RowsAffected())
	return nil
}

// ResetFull wipes all loaded data and provenance. Reference tables stay.
func (w *Writer) ResetFull(ctx context.Context) error {
	_, err := w.pool.Exec(ctx,
		`TRUNCATE households, household_members, qc_errors, data_load_history RESTART IDENTITY`)
	if err != nil {
		return fmt.Errorf("full reset: %w", err)
	}
	w.logger.Info("all loaded data reset")
	return nil
}

// ListLoads returns load history newest first.
func (w *Writer) ListLoads(ctx context.Context, limit int) ([]LoadRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := w.pool.Query(ctx,
		`SELECT id, fiscal_year, filename,
		        COALESCE(file_size_bytes, 0),
		        COALESCE(total_rows_in_file, 0),
		        COALESCE(rows_loaded, 0),
		        COALESCE(rows_skipped, 0),
		        COALESCE(households_created, 0),
		        COALESCE(members_created, 0),
		        COALESCE(errors_created, 0),
		        load_status,
		        COALESCE(error_message, ''),
		        started_at, completed_at,
		        COALESCE(duration_seconds, 0),
		        COALESCE(loaded_by, ''),
		        COALESCE(load_method, '')
		 FROM data_load_history
		 ORDER BY started_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list loads: %w", err)
	}
	defer rows.Close()

	var records []LoadRecord
	for rows.Next() {
		var r LoadRecord
		if err := rows.Scan(&r.ID, &r.FiscalYear, &r.Filename,
			&r.FileSizeBytes, &r.TotalRowsInFile, &r.RowsLoaded, &r.RowsSkipped,
			&r.Households, &r.Members, &r.Errors,
			&r.Status, &r.ErrorMessage,
			&r.StartedAt, &r.CompletedAt, &r.DurationSeconds,
			&r.LoadedBy, &r.LoadMethod); err != nil {
			return nil, fmt.Errorf("scan load record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
