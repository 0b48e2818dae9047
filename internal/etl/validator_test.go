package etl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func householdSet(caseID string, fields map[string]any) *RowSet {
	if fields == nil {
		fields = map[string]any{}
	}
	return &RowSet{
		RowNumber: 1,
		Household: HouseholdRecord{CaseID: caseID, FiscalYear: 2023, Fields: fields},
	}
}

func TestValidateAcceptsCleanRow(t *testing.T) {
	out := NewValidator().Validate(householdSet("101", map[string]any{
		"snap_benefit":     281.00,
		"snap_unit_size":   int64(2),
		"household_weight": 450.12,
	}))
	assert.Equal(t, SeverityAccept, out.Severity)
	assert.Empty(t, out.Reasons)
}

func TestValidateRejectsDuplicateCaseID(t *testing.T) {
	v := NewValidator()

	out := v.Validate(householdSet("101", nil))
	require.Equal(t, SeverityAccept, out.Severity)

	out = v.Validate(householdSet("101", nil))
	assert.Equal(t, SeveritySkip, out.Severity)
	require.Len(t, out.Reasons, 1)
	assert.Contains(t, out.Reasons[0], "duplicate case_id 101")
}

func TestValidateSkippedRowDoesNotReserveCaseID(t *testing.T) {
	v := NewValidator()

	out := v.Validate(householdSet("101", map[string]any{"snap_unit_size": int64(-1)}))
	require.Equal(t, SeveritySkip, out.Severity)

	// The skipped row never reached the database, so the id is still free.
	out = v.Validate(householdSet("101", nil))
	assert.Equal(t, SeverityAccept, out.Severity)
}

func TestValidateRejectsMissingCaseID(t *testing.T) {
	out := NewValidator().Validate(householdSet("", nil))
	assert.Equal(t, SeveritySkip, out.Severity)
	assert.Contains(t, out.Reasons[0], "missing case identifier")
}

func TestValidateRejectsNegativeCounts(t *testing.T) {
	out := NewValidator().Validate(householdSet("101", map[string]any{
		"snap_unit_size": int64(-2),
		"num_children":   int64(-1),
	}))
	assert.Equal(t, SeveritySkip, out.Severity)
	// Severity-max reducer: both findings are reported, not just the first.
	assert.Len(t, out.Reasons, 2)
}

func TestValidateRejectsMemberAgeOutOfRange(t *testing.T) {
	rs := householdSet("101", nil)
	rs.Members = []MemberRecord{{
		CaseID: "101", FiscalYear: 2023, MemberNumber: 1,
		Fields: map[string]any{"age": int64(147)},
	}}

	out := NewValidator().Validate(rs)
	assert.Equal(t, SeveritySkip, out.Severity)
	assert.Contains(t, out.Reasons[0], "age out of range")
}

func TestValidateRejectsNegativeErrorAmount(t *testing.T) {
	rs := householdSet("101", nil)
	rs.Errors = []ErrorRecord{{
		CaseID: "101", FiscalYear: 2023, ErrorNumber: 1,
		Fields: map[string]any{"error_amount": -54.00},
	}}

	out := NewValidator().Validate(rs)
	assert.Equal(t, SeveritySkip, out.Severity)
}

func TestValidateClearsNonPositiveWeight(t *testing.T) {
	fields := map[string]any{"household_weight": 0.0, "fiscal_year_weight": -3.0}
	out := NewValidator().Validate(householdSet("101", fields))

	assert.Equal(t, SeverityAccept, out.Severity)
	assert.Len(t, out.Fixes, 2)
	assert.NotContains(t, fields, "household_weight")
	assert.NotContains(t, fields, "fiscal_year_weight")
}

func TestValidateClearsLeakedSentinels(t *testing.T) {
	fields := map[string]any{
		"gross_income": 99999.0,
		"net_income":   840.0,
	}
	out := NewValidator().Validate(householdSet("101", fields))

	assert.Equal(t, SeverityAccept, out.Severity)
	assert.NotContains(t, fields, "gross_income")
	assert.Equal(t, 840.0, fields["net_income"])
	require.Len(t, out.Fixes, 1)
	assert.Contains(t, out.Fixes[0], "gross_income")
}

func TestSentinelNumber(t *testing.T) {
	assert.True(t, sentinelNumber(9999))
	assert.True(t, sentinelNumber(999999))
	assert.False(t, sentinelNumber(99))
	assert.False(t, sentinelNumber(9998))
	assert.False(t, sentinelNumber(9999.5))
	assert.False(t, sentinelNumber(-9999))
}
