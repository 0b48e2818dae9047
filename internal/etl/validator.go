package etl

import (
	"fmt"
	"math"
)

// Severity orders validation outcomes. Higher wins when multiple checks
// fire on one row.
type Severity int

const (
	SeverityAccept Severity = iota
	SeveritySkip
	SeverityAbort
)

func (s Severity) String() string {
	switch s {
	case SeverityAccept:
		return "accept"
	case SeveritySkip:
		return "skip"
	case SeverityAbort:
		return "abort"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Outcome is the result of validating one row set. Every applicable check
// runs before the worst severity is chosen, so Reasons is a complete
// diagnostic report rather than the first failure.
type Outcome struct {
	Severity Severity
	// Reasons explain skip and abort findings.
	Reasons []string
	// Fixes record soft corrections applied in place.
	Fixes []string
}

func (o *Outcome) skip(format string, args ...any) {
	o.Reasons = append(o.Reasons, fmt.Sprintf(format, args...))
	if o.Severity < SeveritySkip {
		o.Severity = SeveritySkip
	}
}

func (o *Outcome) fix(format string, args ...any) {
	o.Fixes = append(o.Fixes, fmt.Sprintf(format, args...))
}

// Validator applies row-level invariants before persistence. It tracks case
// identifiers across the load to reject in-file duplicates, so one Validator
// serves exactly one load.
type Validator struct {
	seen map[string]struct{}
}

func NewValidator() *Validator {
	return &Validator{seen: make(map[string]struct{})}
}

// Validate checks one transformed row set and may apply soft corrections to
// it in place. It never persists anything.
func (v *Validator) Validate(rs *RowSet) Outcome {
	var out Outcome

	if rs.Household.CaseID == "" {
		out.skip("row %d: missing case identifier", rs.RowNumber)
	} else if _, dup := v.seen[rs.Household.CaseID]; dup {
		out.skip("row %d: duplicate case_id %s in this file", rs.RowNumber, rs.Household.CaseID)
	}

	v.checkHousehold(rs, &out)
	for i := range rs.Members {
		v.checkMember(rs, &rs.Members[i], &out)
	}
	for i := range rs.Errors {
		v.checkError(rs, &rs.Errors[i], &out)
	}

	if out.Severity == SeverityAccept && rs.Household.CaseID != "" {
		v.seen[rs.Household.CaseID] = struct{}{}
	}
	return out
}

var countColumns = []string{
	"raw_household_size", "certified_household_size", "snap_unit_size",
	"num_noncitizens", "num_disabled", "num_elderly", "num_children",
}

func (v *Validator) checkHousehold(rs *RowSet, out *Outcome) {
	fields := rs.Household.Fields

	for _, col := range countColumns {
		if n, ok := fields[col].(int64); ok && n < 0 {
			out.skip("row %d: %s is negative (%d)", rs.RowNumber, col, n)
		}
	}

	if ben, ok := fields["snap_benefit"].(float64); ok && ben < 0 {
		out.skip("row %d: snap_benefit is negative (%.2f)", rs.RowNumber, ben)
	}

	// Sampling weights must be positive to be usable; a zero or negative
	// weight is a fill value the sentinel mapping did not cover.
	for _, col := range []string{"household_weight", "fiscal_year_weight"} {
		if w, ok := fields[col].(float64); ok && w <= 0 {
			delete(fields, col)
			out.fix("row %d: cleared non-positive %s (%.4f)", rs.RowNumber, col, w)
		}
	}

	v.clearLeakedSentinels(rs.RowNumber, fields, out)
}

func (v *Validator) checkMember(rs *RowSet, m *MemberRecord, out *Outcome) {
	if age, ok := m.Fields["age"].(int64); ok && (age < 0 || age > 120) {
		out.skip("row %d: member %d age out of range (%d)", rs.RowNumber, m.MemberNumber, age)
	}
	v.clearLeakedSentinels(rs.RowNumber, m.Fields, out)
}

func (v *Validator) checkError(rs *RowSet, e *ErrorRecord, out *Outcome) {
	if amt, ok := e.Fields["error_amount"].(float64); ok && amt < 0 {
		out.skip("row %d: error %d amount is negative (%.2f)", rs.RowNumber, e.ErrorNumber, amt)
	}
	v.clearLeakedSentinels(rs.RowNumber, e.Fields, out)
}

// clearLeakedSentinels double-checks the transformer's sentinel mapping:
// any numeric that still reads as an all-nines fill value is nulled here
// instead of being stored as a literal large number.
func (v *Validator) clearLeakedSentinels(row int, fields map[string]any, out *Outcome) {
	for col, val := range fields {
		f, ok := val.(float64)
		if !ok {
			if n, iok := val.(int64); iok {
				f = float64(n)
				ok = true
			}
		}
		if ok && sentinelNumber(f) {
			delete(fields, col)
			out.fix("row %d: cleared sentinel value in %s (%v)", row, col, val)
		}
	}
}

// sentinelNumber reports all-nines fill values of four digits or more:
// 9999, 99999, 999999 and so on.
func sentinelNumber(f float64) bool {
	if f != math.Trunc(f) || f < 9999 {
		return false
	}
	n := int64(f)
	for n > 0 {
		if n%10 != 9 {
			return false
		}
		n /= 10
	}
	return true
}
