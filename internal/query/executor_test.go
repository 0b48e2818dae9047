package query_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcanalyst/qcanalyst/internal/log"
	"github.com/qcanalyst/qcanalyst/internal/query"
	"github.com/qcanalyst/qcanalyst/internal/testutil"
)

func seedCases(t *testing.T, db *testutil.TestDB, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		_, err := db.Pool.Exec(ctx,
			`INSERT INTO households (case_id, fiscal_year, snap_benefit) VALUES ($1, 2023, $2)`,
			string(rune('a'+i-1)), float64(100*i))
		require.NoError(t, err)
	}
}

func TestExecuteReturnsRowsAndMetadata(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	seedCases(t, db, 3)

	ex := query.NewExecutor(db.Pool, 100, 10000, log.NewNop())
	res, err := ex.Execute(context.Background(),
		"SELECT case_id, snap_benefit FROM households ORDER BY case_id", 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"case_id", "snap_benefit"}, res.Columns)
	assert.Equal(t, 3, res.RowCount)
	assert.Len(t, res.Rows, 3)
	assert.False(t, res.Truncated)
	assert.GreaterOrEqual(t, res.DurationMS, 0.0)
	assert.Equal(t, "a", res.Rows[0][0])
}

func TestExecuteAppliesLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	seedCases(t, db, 5)

	ex := query.NewExecutor(db.Pool, 100, 10000, log.NewNop())
	res, err := ex.Execute(context.Background(),
		"SELECT case_id FROM households ORDER BY case_id", 2)
	require.NoError(t, err)

	assert.Equal(t, 2, res.RowCount)
	assert.True(t, res.Truncated)
}

func TestExecuteClampsExcessiveLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	seedCases(t, db, 3)

	ex := query.NewExecutor(db.Pool, 100, 2, log.NewNop())
	res, err := ex.Execute(context.Background(),
		"SELECT case_id FROM households ORDER BY case_id", 999999)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowCount)
	assert.True(t, res.Truncated)
}

func TestExecuteRejectsWrites(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ex := query.NewExecutor(db.Pool, 100, 10000, log.NewNop())
	_, err := ex.Execute(context.Background(), "DELETE FROM households", 10)
	require.ErrorIs(t, err, query.ErrNotReadOnly)

	// Nothing reached the database.
	var n int
	require.NoError(t, db.Pool.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM households").Scan(&n))
	assert.Zero(t, n)
}

func TestExecuteBlocksSideEffectingFunctions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	// setval carries no forbidden keyword, so only the read-only
	// transaction stops it.
	ex := query.NewExecutor(db.Pool, 100, 10000, log.NewNop())
	_, err := ex.Execute(context.Background(),
		"SELECT setval('data_load_history_id_seq', 100)", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")

	var last int64
	require.NoError(t, db.Pool.QueryRow(context.Background(),
		"SELECT last_value FROM data_load_history_id_seq").Scan(&last))
	assert.EqualValues(t, 1, last)
}

func TestSchemaContext(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	schema, err := query.SchemaContext(context.Background(), db.Pool)
	require.NoError(t, err)

	assert.Contains(t, schema, "TABLE households")
	assert.Contains(t, schema, "TABLE household_members")
	assert.Contains(t, schema, "TABLE qc_errors")
	assert.Contains(t, schema, "TABLE ref_element")
	assert.Contains(t, schema, "case_id TEXT NOT NULL")
	// Column comments flow through so the generator sees semantics.
	assert.Contains(t, schema, "positive = overpayment")
	assert.NotContains(t, schema, "schema_migrations")
}
