package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/qcanalyst/qcanalyst/internal/log"
)

// ErrLoadInProgress means another load or reset holds the exclusive lock.
var ErrLoadInProgress = errors.New("another load or reset is in progress")

// ErrEmptyFile means the extract contained a header but no data rows.
var ErrEmptyFile = errors.New("no data rows in file")

// Options configure one load run.
type Options struct {
	FiscalYear int
	FilePath   string
	// Force resets the fiscal year before loading instead of rejecting a
	// reload.
	Force    bool
	LoadedBy string
	// Method records how the load was started, "cli" or "api".
	Method string
}

// Status is the caller-visible result of a load. Counts are final even
// when the load failed partway.
type Status struct {
	JobID        string    `json:"job_id"`
	FiscalYear   int       `json:"fiscal_year"`
	Filename     string    `json:"filename"`
	State        string    `json:"status"`
	Counts       Counts    `json:"counts"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

const (
	StateInProgress = "in_progress"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

// Loader runs the pipeline: Reader -> Transformer -> Validator -> Writer.
// A file lock serializes loads and resets so overlapping fiscal-year runs
// cannot interleave.
type Loader struct {
	writer  *Writer
	mapping *Mapping
	lockDir string
	// batchSize is the row interval between provenance checkpoints; the
	// per-row transaction discipline is unaffected.
	batchSize int
	logger    log.Logger
}

func NewLoader(writer *Writer, mapping *Mapping, lockDir string, batchSize int, logger log.Logger) *Loader {
	return &Loader{writer: writer, mapping: mapping, lockDir: lockDir, batchSize: batchSize, logger: logger}
}

func (l *Loader) acquireLock() (*flock.Flock, error) {
	if err := os.MkdirAll(l.lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(filepath.Join(l.lockDir, "load.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire load lock: %w", err)
	}
	if !ok {
		return nil, ErrLoadInProgress
	}
	return lock, nil
}

// Load runs one complete ETL job. Row-level problems skip the row and
// continue; unrecoverable errors stop the load with a failed provenance
// record and partial counts left in place.
func (l *Loader) Load(ctx context.Context, opts Options) (*Status, error) {
	lock, err := l.acquireLock()
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	status := &Status{
		JobID:      uuid.NewString(),
		FiscalYear: opts.FiscalYear,
		Filename:   filepath.Base(opts.FilePath),
		State:      StateInProgress,
		StartedAt:  time.Now(),
	}
	logger := l.logger.With("job_id", status.JobID, "fiscal_year", opts.FiscalYear)

	if opts.Force {
		if err := l.writer.ResetFiscalYear(ctx, opts.FiscalYear); err != nil {
			return nil, err
		}
	} else if err := l.writer.CheckNotLoaded(ctx, opts.FiscalYear); err != nil {
		return nil, err
	}

	reader, err := Open(opts.FilePath, l.mapping)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	loadID, err := l.writer.BeginLoad(ctx, opts.FiscalYear, status.Filename,
		reader.Size(), opts.LoadedBy, opts.Method)
	if err != nil {
		return nil, err
	}

	logger.Info("load started", "file", opts.FilePath, "size_bytes", reader.Size())

	transformer := NewTransformer(l.mapping, opts.FiscalYear)
	validator := NewValidator()

	fail := func(cause error) (*Status, error) {
		status.State = StateFailed
		status.ErrorMessage = cause.Error()
		status.CompletedAt = time.Now()
		if ferr := l.writer.FinishLoad(context.WithoutCancel(ctx), loadID,
			StateFailed, status.Counts, cause.Error()); ferr != nil {
			logger.Error("could not record failed load", "error", ferr)
		}
		logger.Error("load failed", "error", cause,
			"rows_read", status.Counts.RowsRead, "rows_loaded", status.Counts.RowsLoaded)
		return status, cause
	}

	for {
		// Cancellation is honored only between rows, never mid-row, so
		// a household can never commit without its children.
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("load canceled: %w", err))
		}

		row, err := reader.Next()
		if err == io.EOF {
			break
		}
		status.Counts.RowsRead++
		if l.batchSize > 0 && status.Counts.RowsRead%l.batchSize == 0 {
			if perr := l.writer.UpdateProgress(ctx, loadID, status.Counts); perr != nil {
				logger.Warn("progress checkpoint failed", "error", perr)
			}
		}
		if err != nil {
			status.Counts.RowsSkipped++
			logger.Warn("unreadable row skipped", "error", err)
			continue
		}

		rs, err := transformer.Transform(row)
		if err != nil {
			status.Counts.RowsSkipped++
			logger.Warn("row skipped", "error", err)
			continue
		}

		outcome := validator.Validate(rs)
		for _, f := range outcome.Fixes {
			logger.Debug("soft correction", "detail", f)
		}
		switch outcome.Severity {
		case SeveritySkip:
			status.Counts.RowsSkipped++
			for _, reason := range outcome.Reasons {
				logger.Warn("row skipped", "reason", reason)
			}
			continue
		case SeverityAbort:
			return fail(fmt.Errorf("validation abort: %v", outcome.Reasons))
		}

		if err := l.writer.WriteRow(ctx, rs); err != nil {
			if errors.Is(err, ErrRowConflict) {
				status.Counts.RowsSkipped++
				logger.Warn("row skipped", "error", err)
				continue
			}
			return fail(err)
		}

		status.Counts.RowsLoaded++
		status.Counts.Households++
		status.Counts.Members += len(rs.Members)
		status.Counts.Errors += len(rs.Errors)
	}

	// A header-only extract is a bad file, not a successful load of
	// nothing.
	if status.Counts.RowsRead == 0 {
		return fail(ErrEmptyFile)
	}

	status.State = StateCompleted
	status.CompletedAt = time.Now()
	if err := l.writer.FinishLoad(ctx, loadID, StateCompleted, status.Counts, ""); err != nil {
		return fail(err)
	}

	logger.Info("load completed",
		"rows_read", status.Counts.RowsRead,
		"rows_loaded", status.Counts.RowsLoaded,
		"rows_skipped", status.Counts.RowsSkipped,
		"households", status.Counts.Households,
		"members", status.Counts.Members,
		"errors", status.Counts.Errors,
		"duration", status.CompletedAt.Sub(status.StartedAt).Round(time.Millisecond))
	return status, nil
}

// Reset removes one fiscal year under the same exclusive lock loads use.
func (l *Loader) Reset(ctx context.Context, fiscalYear int) error {
	lock, err := l.acquireLock()
	if err != nil {
		return err
	}
	defer lock.Unlock()
	return l.writer.ResetFiscalYear(ctx, fiscalYear)
}

// ResetAll wipes every loaded fiscal year and the load history.
func (l *Loader) ResetAll(ctx context.Context) error {
	lock, err := l.acquireLock()
	if err != nil {
		return err
	}
	defer lock.Unlock()
	return l.writer.ResetFull(ctx)
}
