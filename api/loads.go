package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/qcanalyst/qcanalyst/internal/etl"
	"github.com/qcanalyst/qcanalyst/internal/log"
)

// LoadHandler serves ETL load and reset endpoints.
type LoadHandler struct {
	loader *etl.Loader
	writer *etl.Writer
	logger log.Logger
}

func NewLoadHandler(loader *etl.Loader, writer *etl.Writer, logger log.Logger) *LoadHandler {
	return &LoadHandler{loader: loader, writer: writer, logger: logger}
}

// RegisterRoutes registers load routes on the given mux.
func (h *LoadHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/loads", h.list)
	mux.HandleFunc("POST /api/loads", h.run)
	mux.HandleFunc("DELETE /api/loads/{fiscalYear}", h.reset)
}

// LoadRequest is the request body for POST /api/loads. FilePath must be
// readable by the server process.
type LoadRequest struct {
	FiscalYear int    `json:"fiscal_year"`
	FilePath   string `json:"file_path"`
	Force      bool   `json:"force,omitempty"`
	LoadedBy   string `json:"loaded_by,omitempty"`
}

func (h *LoadHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	loads, err := h.writer.ListLoads(r.Context(), limit)
	if err != nil {
		h.logger.Error("list loads failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	if loads == nil {
		loads = []etl.LoadRecord{}
	}
	writeJSON(w, http.StatusOK, loads)
}

// run executes a load synchronously and returns its final status. A failed
// load still answers with the status body so callers can audit the partial
// counts.
func (h *LoadHandler) run(w http.ResponseWriter, r *http.Request) {
	var req LoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}
	if req.FiscalYear <= 0 || req.FilePath == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "fiscal_year and file_path are required")
		return
	}

	status, err := h.loader.Load(r.Context(), etl.Options{
		FiscalYear: req.FiscalYear,
		FilePath:   req.FilePath,
		Force:      req.Force,
		LoadedBy:   req.LoadedBy,
		Method:     "api",
	})
	switch {
	case errors.Is(err, etl.ErrAlreadyLoaded), errors.Is(err, etl.ErrLoadInProgress):
		writeError(w, http.StatusConflict, "load_conflict", err.Error())
		return
	case errors.Is(err, etl.ErrMalformedFile):
		writeError(w, http.StatusBadRequest, "malformed_file", err.Error())
		return
	case errors.Is(err, etl.ErrEmptyFile):
		writeError(w, http.StatusBadRequest, "empty_file", err.Error())
		return
	case err != nil && status != nil:
		// Partial load: report the terminal status with its counts.
		writeJSON(w, http.StatusInternalServerError, status)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "load_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *LoadHandler) reset(w http.ResponseWriter, r *http.Request) {
	fiscalYear, err := strconv.Atoi(r.PathValue("fiscalYear"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "fiscal year must be an integer")
		return
	}

	if err := h.loader.Reset(r.Context(), fiscalYear); err != nil {
		if errors.Is(err, etl.ErrLoadInProgress) {
			writeError(w, http.StatusConflict, "load_conflict", err.Error())
			return
		}
		h.logger.Error("reset failed", "error", err, "fiscal_year", fiscalYear)
		writeError(w, http.StatusInternalServerError, "reset_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"fiscal_year": fiscalYear,
		"status":      "reset",
	})
}
