package api

import (
	"net/http"
	"strconv"

	"github.com/qcanalyst/qcanalyst/internal/enrich"
	"github.com/qcanalyst/qcanalyst/internal/log"
)

// StatsHandler serves aggregate statistics endpoints.
type StatsHandler struct {
	stats  *enrich.Stats
	rates  *enrich.Rates
	logger log.Logger
}

func NewStatsHandler(stats *enrich.Stats, rates *enrich.Rates, logger log.Logger) *StatsHandler {
	return &StatsHandler{stats: stats, rates: rates, logger: logger}
}

// RegisterRoutes registers statistics routes on the given mux.
func (h *StatsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/stats/overview", h.overview)
	mux.HandleFunc("GET /api/stats/by-state", h.byState)
	mux.HandleFunc("GET /api/stats/error-rates", h.errorRates)
}

func (h *StatsHandler) overview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.stats.Overview(r.Context())
	if err != nil {
		h.logger.Error("overview failed", "error", err)
		writeError(w, http.StatusInternalServerError, "stats_failed", err.Error())
		return
	}
	if overview.FiscalYears == nil {
		overview.FiscalYears = []enrich.FiscalYearStats{}
	}
	writeJSON(w, http.StatusOK, overview)
}

// byState serves the per-state breakdown; fiscal_year is optional and
// defaults to all loaded years.
func (h *StatsHandler) byState(w http.ResponseWriter, r *http.Request) {
	fiscalYear := 0
	if v := r.URL.Query().Get("fiscal_year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "fiscal_year must be a non-negative integer")
			return
		}
		fiscalYear = n
	}

	states, err := h.stats.ByState(r.Context(), fiscalYear)
	if err != nil {
		h.logger.Error("by-state statistics failed", "error", err, "fiscal_year", fiscalYear)
		writeError(w, http.StatusInternalServerError, "stats_failed", err.Error())
		return
	}
	if states == nil {
		states = []enrich.StateStats{}
	}
	writeJSON(w, http.StatusOK, states)
}

func (h *StatsHandler) errorRates(w http.ResponseWriter, r *http.Request) {
	fiscalYear, err := strconv.Atoi(r.URL.Query().Get("fiscal_year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "fiscal_year query parameter is required")
		return
	}

	rates, err := h.rates.StateErrorRates(r.Context(), fiscalYear)
	if err != nil {
		h.logger.Error("error rates failed", "error", err, "fiscal_year", fiscalYear)
		writeError(w, http.StatusInternalServerError, "stats_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rates)
}
