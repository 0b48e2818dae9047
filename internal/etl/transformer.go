package etl

import (
	"fmt"
	"strconv"
)

// HouseholdRecord is one normalized households row. Fields is keyed by
// destination column; absent keys become NULL at insert time.
type HouseholdRecord struct {
	CaseID     string
	FiscalYear int
	Fields     map[string]any
}

// MemberRecord is one normalized household_members row.
type MemberRecord struct {
	CaseID       string
	FiscalYear   int
	MemberNumber int
	Fields       map[string]any
}

// ErrorRecord is one normalized qc_errors row.
type ErrorRecord struct {
	CaseID      string
	FiscalYear  int
	ErrorNumber int
	Fields      map[string]any
}

// RowSet is the output of transforming one wide source row: exactly one
// household plus its occupied member and error slots.
type RowSet struct {
	RowNumber int
	Household HouseholdRecord
	Members   []MemberRecord
	Errors    []ErrorRecord
}

// Transformer converts wide source rows into normalized record sets,
// applying the column mapping, type coercion, sentinel translation and
// derived-field computation.
type Transformer struct {
	mapping    *Mapping
	fiscalYear int
}

func NewTransformer(mapping *Mapping, fiscalYear int) *Transformer {
	return &Transformer{mapping: mapping, fiscalYear: fiscalYear}
}

// Transform converts one source row. A coercion failure aborts the whole
// row with an error naming the offending column and value, so the caller
// can skip it and keep loading.
func (t *Transformer) Transform(row Row) (*RowSet, error) {
	household, err := t.extractHousehold(row)
	if err != nil {
		return nil, err
	}

	rs := &RowSet{RowNumber: row.Number, Household: household}

	for slot := 1; slot <= t.mapping.MaxMembers; slot++ {
		disc := SlotColumn(t.mapping.MemberDiscriminator, slot)
		raw, ok := row.Values[disc]
		if !ok || blankValue(raw) {
			continue
		}
		fields, err := t.extractSlot(row, t.mapping.Person, slot)
		if err != nil {
			return nil, err
		}
		deriveMemberIncome(fields)
		rs.Members = append(rs.Members, MemberRecord{
			CaseID:       household.CaseID,
			FiscalYear:   t.fiscalYear,
			MemberNumber: slot,
			Fields:       fields,
		})
	}

	for slot := 1; slot <= t.mapping.MaxErrors; slot++ {
		disc := SlotColumn(t.mapping.ErrorDiscriminator, slot)
		raw, ok := row.Values[disc]
		if !ok || blankValue(raw) {
			continue
		}
		fields, err := t.extractSlot(row, t.mapping.Error, slot)
		if err != nil {
			return nil, err
		}
		rs.Errors = append(rs.Errors, ErrorRecord{
			CaseID:      household.CaseID,
			FiscalYear:  t.fiscalYear,
			ErrorNumber: slot,
			Fields:      fields,
		})
	}

	return rs, nil
}

func (t *Transformer) extractHousehold(row Row) (HouseholdRecord, error) {
	fields := make(map[string]any, len(t.mapping.Household))
	for _, rule := range t.mapping.Household {
		raw, ok := row.Values[rule.Source]
		if !ok || rule.IsMissing(raw) {
			continue
		}
		v, err := coerce(rule, raw)
		if err != nil {
			return HouseholdRecord{}, fmt.Errorf("row %d: column %s: %w", row.Number, rule.Source, err)
		}
		fields[rule.Column] = v
	}

	caseID, _ := fields["case_id"].(string)
	if caseID == "" {
		// The identifier is the source row position when the extract
		// carries no explicit one.
		caseID = strconv.Itoa(row.Number)
		fields["case_id"] = caseID
	}

	deriveAmountError(fields)
	if ht := classifyHouseholdType(fields); ht != "" {
		fields["household_type"] = ht
	}
	if ic := classifyIncomeCategory(fields); ic != "" {
		fields["income_category"] = ic
	}

	return HouseholdRecord{CaseID: caseID, FiscalYear: t.fiscalYear, Fields: fields}, nil
}

func (t *Transformer) extractSlot(row Row, rules []Rule, slot int) (map[string]any, error) {
	fields := make(map[string]any, len(rules))
	for _, rule := range rules {
		source := SlotColumn(rule.Source, slot)
		raw, ok := row.Values[source]
		if !ok || rule.IsMissing(raw) {
			continue
		}
		v, err := coerce(rule, raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: column %s: %w", row.Number, source, err)
		}
		fields[rule.Column] = v
	}
	return fields, nil
}

// coerce parses a non-missing raw value according to the rule's kind.
func coerce(rule Rule, raw string) (any, error) {
	switch rule.Kind {
	case KindText:
		return raw, nil
	case KindInteger, KindCode:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			// Some extracts format integer codes as decimals (e.g. "2.0").
			f, ferr := strconv.ParseFloat(raw, 64)
			if ferr != nil || f != float64(int64(f)) {
				return nil, fmt.Errorf("value %q is not an integer", raw)
			}
			n = int64(f)
		}
		return n, nil
	case KindDecimal:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q is not a number", raw)
		}
		return f, nil
	case KindFlag:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q is not an indicator", raw)
		}
		return n != 0, nil
	default:
		return nil, fmt.Errorf("unknown field kind %d", rule.Kind)
	}
}

// deriveAmountError fills amount_error from raw_benefit - snap_benefit when
// the source did not carry it.
func deriveAmountError(fields map[string]any) {
	if _, ok := fields["amount_error"]; ok {
		return
	}
	raw, rok := fields["raw_benefit"].(float64)
	ben, bok := fields["snap_benefit"].(float64)
	if rok && bok {
		fields["amount_error"] = raw - ben
	}
}

// householdTypeRules classify composition; first match wins.
var householdTypeRules = []struct {
	name  string
	match func(fields map[string]any) bool
}{
	{"elderly", func(f map[string]any) bool { return intField(f, "num_elderly") > 0 }},
	{"disabled", func(f map[string]any) bool { return intField(f, "num_disabled") > 0 }},
	{"with_children", func(f map[string]any) bool { return intField(f, "num_children") > 0 }},
	{"single_adult", func(f map[string]any) bool { return intField(f, "snap_unit_size") == 1 }},
	{"multiple_adults", func(f map[string]any) bool { return intField(f, "snap_unit_size") > 1 }},
}

func classifyHouseholdType(fields map[string]any) string {
	for _, r := range householdTypeRules {
		if r.match(fields) {
			return r.name
		}
	}
	return ""
}

// incomeCategoryRules band the household by percent of the poverty line;
// first match wins. A household with no recorded gross income is its own
// band regardless of the poverty figure.
var incomeCategoryRules = []struct {
	name  string
	match func(fields map[string]any) bool
}{
	{"no_income", func(f map[string]any) bool {
		v, ok := f["gross_income"].(float64)
		return ok && v == 0
	}},
	{"deep_poverty", func(f map[string]any) bool { return povertyAtMost(f, 50) }},
	{"below_poverty", func(f map[string]any) bool { return povertyAtMost(f, 100) }},
	{"near_poverty", func(f map[string]any) bool { return povertyAtMost(f, 130) }},
	{"above_130_percent", func(f map[string]any) bool {
		_, ok := f["poverty_level"].(float64)
		return ok
	}},
}

func classifyIncomeCategory(fields map[string]any) string {
	for _, r := range incomeCategoryRules {
		if r.match(fields) {
			return r.name
		}
	}
	return ""
}

func povertyAtMost(fields map[string]any, pct float64) bool {
	v, ok := fields["poverty_level"].(float64)
	return ok && v <= pct
}

func intField(fields map[string]any, col string) int64 {
	v, _ := fields[col].(int64)
	return v
}

var earnedIncomeColumns = []string{
	"wages", "self_employment_income", "earned_income_tax_credit", "other_earned_income",
}

var unearnedIncomeColumns = []string{
	"social_security", "ssi", "veterans_benefits", "unemployment",
	"workers_compensation", "tanf", "child_support", "general_assistance",
	"education_loans", "other_government_income", "contributions",
	"deemed_income", "other_unearned_income",
}

// deriveMemberIncome computes per-member income totals over whichever
// components were reported. A member with no reported components in a group
// gets no total, preserving the missing/zero distinction.
func deriveMemberIncome(fields map[string]any) {
	earned, eok := sumFields(fields, earnedIncomeColumns)
	if eok {
		fields["earned_income_total"] = earned
	}
	unearned, uok := sumFields(fields, unearnedIncomeColumns)
	if uok {
		fields["unearned_income_total"] = unearned
	}
	if eok || uok {
		fields["total_income"] = earned + unearned
	}
}

func sumFields(fields map[string]any, cols []string) (float64, bool) {
	var sum float64
	var seen bool
	for _, col := range cols {
		if v, ok := fields[col].(float64); ok {
			sum += v
			seen = true
		}
	}
	return sum, seen
}
