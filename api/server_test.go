package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcanalyst/qcanalyst/api"
	"github.com/qcanalyst/qcanalyst/internal/enrich"
	"github.com/qcanalyst/qcanalyst/internal/etl"
	"github.com/qcanalyst/qcanalyst/internal/log"
	"github.com/qcanalyst/qcanalyst/internal/query"
	"github.com/qcanalyst/qcanalyst/internal/testutil"
)

// stubGenerator returns a canned statement for any question.
type stubGenerator struct {
	sql string
	err error
}

func (s *stubGenerator) GenerateSQL(context.Context, string, string) (string, error) {
	return s.sql, s.err
}

func newTestServer(t *testing.T, db *testutil.TestDB, gen query.Generator) http.Handler {
	t.Helper()
	logger := log.NewNop()
	mapping := etl.DefaultMapping()
	writer := etl.NewWriter(db.Pool, mapping, logger)
	srv := api.NewServer(api.Deps{
		Pool:      db.Pool,
		Executor:  query.NewExecutor(db.Pool, 100, 10000, logger),
		Enricher:  enrich.NewEnricher(db.Pool, logger),
		Stats:     enrich.NewStats(db.Pool, logger),
		Rates:     enrich.NewRates(db.Pool, func(int) float64 { return 54 }, logger),
		Loader:    etl.NewLoader(writer, mapping, t.TempDir(), 500, logger),
		Writer:    writer,
		Generator: gen,
		Logger:    logger,
	})
	return srv.Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func seedHousehold(t *testing.T, db *testutil.TestDB, caseID string, classification int, benefit float64) {
	t.Helper()
	_, err := db.Pool.Exec(context.Background(),
		`INSERT INTO households (case_id, fiscal_year, state_code, case_classification, snap_benefit, household_weight)
		 VALUES ($1, 2023, 6, $2, $3, 100)`,
		caseID, classification, benefit)
	require.NoError(t, err)
}

func TestHealthEndpoints(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	handler := newTestServer(t, db, nil)

	rec := doJSON(t, handler, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = doJSON(t, handler, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", rec.Body.String())
}

func TestQueryEndpoint(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	seedHousehold(t, db, "101", 1, 281)
	handler := newTestServer(t, db, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/query", api.QueryRequest{
		SQL: "SELECT case_id, case_classification FROM households ORDER BY case_id",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp api.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.RowCount)
	// Coded columns come back enriched.
	assert.Equal(t, []string{"case_id", "case_classification", "case_classification_description"}, resp.Columns)
	assert.Equal(t, "Included in official error rate calculations", resp.Rows[0][2])
}

func TestQueryEndpointRejectsWrites(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	handler := newTestServer(t, db, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/query", api.QueryRequest{
		SQL: "DELETE FROM households",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_read_only", resp.Error)
}

func TestQueryEndpointValidation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	handler := newTestServer(t, db, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/query", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskWithDirectSQL(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	seedHousehold(t, db, "101", 1, 281)
	handler := newTestServer(t, db, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/ask", api.AskRequest{
		Question: "SELECT COUNT(*) AS n FROM households",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp api.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.RowCount)
}

func TestAskWithoutGenerator(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	handler := newTestServer(t, db, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/ask", api.AskRequest{
		Question: "how many households are loaded?",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAskWithGenerator(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	seedHousehold(t, db, "101", 1, 281)
	seedHousehold(t, db, "102", 1, 150)
	gen := &stubGenerator{sql: "SELECT COUNT(*) AS sample_size FROM households"}
	handler := newTestServer(t, db, gen)

	rec := doJSON(t, handler, http.MethodPost, "/api/ask", api.AskRequest{
		Question: "how many sampled households are there?",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp api.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, gen.sql, resp.SQL)
	assert.Equal(t, 1, resp.RowCount)
}

func TestLoadEndpoints(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	handler := newTestServer(t, db, nil)

	extract := "HHLDNO,STATE,YRMONTH,FSBEN,HWGT\n101,6,202310,281.00,450\n102,6,202310,150.00,380\n"
	path := filepath.Join(t.TempDir(), "fy2023.csv")
	require.NoError(t, os.WriteFile(path, []byte(extract), 0o644))

	rec := doJSON(t, handler, http.MethodPost, "/api/loads", api.LoadRequest{
		FiscalYear: 2023,
		FilePath:   path,
		LoadedBy:   "tester",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var status etl.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, etl.StateCompleted, status.State)
	assert.Equal(t, 2, status.Counts.RowsLoaded)

	// Reload without force conflicts.
	rec = doJSON(t, handler, http.MethodPost, "/api/loads", api.LoadRequest{
		FiscalYear: 2023,
		FilePath:   path,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// History shows the completed load.
	rec = doJSON(t, handler, http.MethodGet, "/api/loads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var loads []etl.LoadRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loads))
	require.Len(t, loads, 1)
	assert.Equal(t, "completed", loads[0].Status)
	assert.Equal(t, "api", loads[0].LoadMethod)

	// Reset clears the year and allows a fresh load.
	rec = doJSON(t, handler, http.MethodDelete, "/api/loads/2023", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/loads", api.LoadRequest{
		FiscalYear: 2023,
		FilePath:   path,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoadEndpointMalformedFile(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	handler := newTestServer(t, db, nil)

	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("HHLDNO,STATE\n1,6\n"), 0o644))

	rec := doJSON(t, handler, http.MethodPost, "/api/loads", api.LoadRequest{
		FiscalYear: 2023,
		FilePath:   path,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsEndpoints(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	seedHousehold(t, db, "101", 1, 281)
	seedHousehold(t, db, "102", 2, 150)
	handler := newTestServer(t, db, nil)

	rec := doJSON(t, handler, http.MethodGet, "/api/stats/overview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var overview enrich.Overview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &overview))
	require.Len(t, overview.FiscalYears, 1)
	assert.Equal(t, 2, overview.FiscalYears[0].SampleHouseholds)
	assert.InDelta(t, 200.0, overview.FiscalYears[0].PopulationEstimate, 0.001)

	rec = doJSON(t, handler, http.MethodGet, "/api/stats/by-state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var states []enrich.StateStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &states))
	require.Len(t, states, 1)
	assert.Equal(t, 6, states[0].StateCode)
	assert.Equal(t, "California", states[0].StateName)
	assert.Equal(t, 2, states[0].SampleHouseholds)

	rec = doJSON(t, handler, http.MethodGet, "/api/stats/by-state?fiscal_year=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodGet,
		fmt.Sprintf("/api/stats/error-rates?fiscal_year=%d", 2023), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rates enrich.ErrorRates
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rates))
	// Only the classification = 1 case enters the official figures.
	assert.Equal(t, 1, rates.SampleCases)

	rec = doJSON(t, handler, http.MethodGet, "/api/stats/error-rates", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
