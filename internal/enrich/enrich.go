// Package enrich is the read-path layer over the normalized schema: it
// attaches human-readable descriptions to coded columns and computes
// weighted population statistics and the official error rates.
package enrich

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qcanalyst/qcanalyst/internal/log"
)

// codeColumns maps coded result columns to the reference table that
// explains them. Any result column named here can be enriched.
var codeColumns = map[string]string{
	"case_classification":     "ref_case_classification",
	"status":                  "ref_status",
	"state_code":              "ref_state",
	"sex":                     "ref_sex",
	"snap_affiliation_code":   "ref_snap_affiliation",
	"element_code":            "ref_element",
	"nature_code":             "ref_nature",
	"responsible_agency":      "ref_agency_responsibility",
	"discovery_method":        "ref_discovery",
	"error_finding":           "ref_error_finding",
	"categorical_eligibility": "ref_categorical_eligibility",
	"expedited_service":       "ref_expedited_service",
}

// Enricher joins coded query results against the reference tables. Lookup
// maps are cached per reference table for the Enricher's lifetime since
// reference data is static.
type Enricher struct {
	pool   *pgxpool.Pool
	logger log.Logger
	cache  map[string]map[int64]string
}

func NewEnricher(pool *pgxpool.Pool, logger log.Logger) *Enricher {
	return &Enricher{
		pool:   pool,
		logger: logger,
		cache:  make(map[string]map[int64]string),
	}
}

// Enrich appends a "<column>_description" column after every recognized
// coded column in the result. Unknown codes get an empty description
// rather than failing the query.
func (e *Enricher) Enrich(ctx context.Context, columns []string, rows [][]any) ([]string, [][]any, error) {
	var coded []int
	for i, col := range columns {
		if _, ok := codeColumns[col]; ok {
			coded = append(coded, i)
		}
	}
	if len(coded) == 0 {
		return columns, rows, nil
	}

	lookups := make(map[int]map[int64]string, len(coded))
	for _, idx := range coded {
		lookup, err := e.lookup(ctx, codeColumns[columns[idx]])
		if err != nil {
			return nil, nil, err
		}
		lookups[idx] = lookup
	}

	outCols := make([]string, 0, len(columns)+len(coded))
	for i, col := range columns {
		outCols = append(outCols, col)
		if _, ok := lookups[i]; ok {
			outCols = append(outCols, col+"_description")
		}
	}

	outRows := make([][]any, len(rows))
	for r, row := range rows {
		out := make([]any, 0, len(outCols))
		for i, val := range row {
			out = append(out, val)
			lookup, ok := lookups[i]
			if !ok {
				continue
			}
			code, isCode := asCode(val)
			if !isCode {
				out = append(out, nil)
				continue
			}
			out = append(out, lookup[code])
		}
		outRows[r] = out
	}

	return outCols, outRows, nil
}

// lookup loads one reference table's code -> description map, caching it.
func (e *Enricher) lookup(ctx context.Context, table string) (map[int64]string, error) {
	if cached, ok := e.cache[table]; ok {
		return cached, nil
	}

	keyCol := "code"
	if table == "ref_state" {
		keyCol = "fips_code"
	}
	descCol := "description"
	if table == "ref_state" {
		descCol = "name"
	}

	rows, err := e.pool.Query(ctx,
		fmt.Sprintf("SELECT %s, %s FROM %s", keyCol, descCol, table))
	if err != nil {
		return nil, fmt.Errorf("load reference table %s: %w", table, err)
	}
	defer rows.Close()

	lookup := make(map[int64]string)
	for rows.Next() {
		var code int64
		var desc string
		if err := rows.Scan(&code, &desc); err != nil {
			return nil, fmt.Errorf("scan reference table %s: %w", table, err)
		}
		lookup[code] = desc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read reference table %s: %w", table, err)
	}

	e.cache[table] = lookup
	e.logger.Debug("reference table cached", "table", table, "entries", len(lookup))
	return lookup, nil
}

func asCode(val any) (int64, bool) {
	switch v := val.(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int16:
		return int64(v), true
	case int:
		return int64(v), true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}
