package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qcanalyst/qcanalyst/internal/enrich"
	"github.com/qcanalyst/qcanalyst/internal/log"
	"github.com/qcanalyst/qcanalyst/internal/query"
)

// QueryHandler serves the read-only query boundary and the
// natural-language ask endpoint.
type QueryHandler struct {
	pool      *pgxpool.Pool
	executor  *query.Executor
	enricher  *enrich.Enricher
	generator query.Generator
	logger    log.Logger
}

func NewQueryHandler(pool *pgxpool.Pool, executor *query.Executor, enricher *enrich.Enricher, generator query.Generator, logger log.Logger) *QueryHandler {
	return &QueryHandler{
		pool:      pool,
		executor:  executor,
		enricher:  enricher,
		generator: generator,
		logger:    logger,
	}
}

// RegisterRoutes registers query routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.runQuery)
	mux.HandleFunc("POST /api/ask", h.ask)
}

// QueryRequest is the request body for POST /api/query.
type QueryRequest struct {
	SQL   string `json:"sql"`
	Limit int    `json:"limit,omitempty"`
}

// QueryResponse is the response body for query and ask endpoints.
type QueryResponse struct {
	// SQL echoes the executed statement; for ask requests this is the
	// generated query.
	SQL        string   `json:"sql"`
	Columns    []string `json:"columns"`
	Rows       [][]any  `json:"rows"`
	RowCount   int      `json:"row_count"`
	Truncated  bool     `json:"truncated"`
	DurationMS float64  `json:"duration_ms"`
}

// AskRequest is the request body for POST /api/ask. Question may also be
// direct SQL, which skips generation.
type AskRequest struct {
	Question string `json:"question"`
	Limit    int    `json:"limit,omitempty"`
}

func (h *QueryHandler) runQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON with a sql field")
		return
	}
	if req.SQL == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "sql is required")
		return
	}

	h.execute(w, r, req.SQL, req.Limit)
}

func (h *QueryHandler) ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON with a question field")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "question is required")
		return
	}

	sql := req.Question
	if !query.IsDirectSQL(req.Question) {
		if h.generator == nil {
			writeError(w, http.StatusServiceUnavailable, "no_generator",
				"no language model is configured; send direct SQL instead")
			return
		}

		schemaCtx, err := query.SchemaContext(r.Context(), h.pool)
		if err != nil {
			h.logger.Error("schema context failed", "error", err)
			writeError(w, http.StatusInternalServerError, "schema_error", "could not describe schema")
			return
		}

		sql, err = h.generator.GenerateSQL(r.Context(), req.Question, schemaCtx)
		if err != nil {
			h.logger.Error("sql generation failed", "error", err, "question", req.Question)
			writeError(w, http.StatusBadGateway, "generation_failed", err.Error())
			return
		}
	}

	h.execute(w, r, sql, req.Limit)
}

func (h *QueryHandler) execute(w http.ResponseWriter, r *http.Request, sql string, limit int) {
	result, err := h.executor.Execute(r.Context(), sql, limit)
	if err != nil {
		if errors.Is(err, query.ErrNotReadOnly) {
			writeError(w, http.StatusForbidden, "not_read_only", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "query_failed", err.Error())
		return
	}

	columns, rows, err := h.enricher.Enrich(r.Context(), result.Columns, result.Rows)
	if err != nil {
		h.logger.Error("enrichment failed", "error", err)
		writeError(w, http.StatusInternalServerError, "enrichment_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		SQL:        sql,
		Columns:    columns,
		Rows:       rows,
		RowCount:   result.RowCount,
		Truncated:  result.Truncated,
		DurationMS: result.DurationMS,
	})
}
