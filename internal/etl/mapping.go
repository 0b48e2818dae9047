// Package etl implements the pipeline that turns wide-format QC review
// extracts into the normalized schema: Reader -> Transformer -> Validator ->
// Writer, orchestrated by Loader.
package etl

import "strconv"

// Kind is the semantic type of a mapped field. It drives coercion in the
// transformer and sentinel detection in Rule.IsMissing.
type Kind int

const (
	// KindText stores the raw value as-is.
	KindText Kind = iota
	// KindInteger is a plain integer quantity (counts, sizes, dates as YYYYMM).
	KindInteger
	// KindCode is an integer whose meaning lives in a ref_* lookup table.
	KindCode
	// KindDecimal is a dollar amount or weight.
	KindDecimal
	// KindFlag is a 0/1 indicator stored as boolean.
	KindFlag
)

// Rule maps one wide-format source variable to one destination column.
type Rule struct {
	// Source is the base variable name in the extract header. Person and
	// error rules are suffixed with the slot number (WAGES -> WAGES3).
	Source string
	// Column is the destination column in the normalized schema.
	Column string
	Kind   Kind
	// Missing lists raw values that encode "not collected" for this field
	// on top of the blank forms every field treats as missing.
	Missing []string
}

// IsMissing reports whether a raw source value encodes "not collected".
// Blank, "NA" and "." are always missing; numeric kinds additionally treat
// all-nines fill values (9999 and wider) as missing.
func (r Rule) IsMissing(raw string) bool {
	if blankValue(raw) {
		return true
	}
	for _, m := range r.Missing {
		if raw == m {
			return true
		}
	}
	if r.Kind == KindInteger || r.Kind == KindDecimal {
		return allNines(raw)
	}
	return false
}

// blankValue reports the blank forms every field treats as missing. The
// same check decides whether a member or error slot is occupied.
func blankValue(raw string) bool {
	switch raw {
	case "", "NA", ".":
		return true
	}
	return false
}

// allNines reports whether s is a fill value like 9999 or 99999.99. The
// four-digit minimum keeps legitimate values such as age 99 intact.
func allNines(s string) bool {
	digits := 0
	for _, c := range s {
		switch {
		case c == '9':
			digits++
		case c == '.' || c == '-':
		default:
			return false
		}
	}
	return digits >= 4
}

// Mapping is the full wide-to-normalized column mapping for one extract
// layout. The person and error rule sets repeat once per slot; a slot is
// occupied when its discriminator column has a non-missing value.
type Mapping struct {
	Household []Rule
	Person    []Rule
	Error     []Rule

	MaxMembers int
	MaxErrors  int

	// MemberDiscriminator and ErrorDiscriminator are the base variables
	// whose presence marks a slot as occupied.
	MemberDiscriminator string
	ErrorDiscriminator  string

	// Required lists header columns that must exist for the file to be
	// processable at all.
	Required []string
}

// SlotColumn builds the wide-format column name for a slot-repeated
// variable, e.g. SlotColumn("WAGES", 3) == "WAGES3".
func SlotColumn(base string, slot int) string {
	return base + strconv.Itoa(slot)
}

// DefaultMapping returns the mapping for the published QC datafile layout.
func DefaultMapping() *Mapping {
	return &Mapping{
		Household:           householdRules,
		Person:              personRules,
		Error:               errorRules,
		MaxMembers:          17,
		MaxErrors:           9,
		MemberDiscriminator: "FSAFIL",
		ErrorDiscriminator:  "ELEMENT",
		Required:            []string{"HHLDNO", "STATE", "YRMONTH", "FSBEN"},
	}
}

var householdRules = []Rule{
	// Identifier and classification
	{Source: "HHLDNO", Column: "case_id", Kind: KindText},
	{Source: "CASE", Column: "case_classification", Kind: KindCode},

	// Geographic and administrative
	{Source: "REGIONCD", Column: "region_code", Kind: KindCode},
	{Source: "STATE", Column: "state_code", Kind: KindCode},
	{Source: "STATENAME", Column: "state_name", Kind: KindText},
	{Source: "YRMONTH", Column: "year_month", Kind: KindInteger, Missing: []string{"999999"}},
	{Source: "STATUS", Column: "status", Kind: KindCode},
	{Source: "STRATUM", Column: "stratum", Kind: KindInteger},

	// Composition
	{Source: "RAWHSIZE", Column: "raw_household_size", Kind: KindInteger, Missing: []string{"99"}},
	{Source: "CERTHHSZ", Column: "certified_household_size", Kind: KindInteger, Missing: []string{"99"}},
	{Source: "FSUSIZE", Column: "snap_unit_size", Kind: KindInteger, Missing: []string{"99"}},
	{Source: "FSNONCIT", Column: "num_noncitizens", Kind: KindInteger, Missing: []string{"99"}},
	{Source: "FSDIS", Column: "num_disabled", Kind: KindInteger, Missing: []string{"99"}},
	{Source: "FSELDER", Column: "num_elderly", Kind: KindInteger, Missing: []string{"99"}},
	{Source: "FSKID", Column: "num_children", Kind: KindInteger, Missing: []string{"99"}},
	{Source: "COMPOSITION", Column: "composition_code", Kind: KindCode},

	// Financial summary
	{Source: "RAWGROSS", Column: "gross_income", Kind: KindDecimal},
	{Source: "RAWNET", Column: "net_income", Kind: KindDecimal},
	{Source: "RAWERND", Column: "earned_income", Kind: KindDecimal},
	{Source: "FSUNEARN", Column: "unearned_income", Kind: KindDecimal},

	// Assets
	{Source: "LIQRESOR", Column: "liquid_resources", Kind: KindDecimal},
	{Source: "REALPROP", Column: "real_property", Kind: KindDecimal},
	{Source: "FSVEHAST", Column: "vehicle_assets", Kind: KindDecimal},
	{Source: "FSASSET", Column: "total_assets", Kind: KindDecimal},

	// Deductions
	{Source: "FSSTDDED", Column: "standard_deduction", Kind: KindDecimal},
	{Source: "FSERNDED", Column: "earned_income_deduction", Kind: KindDecimal},
	{Source: "FSDEPDED", Column: "dependent_care_deduction", Kind: KindDecimal},
	{Source: "FSMEDDED", Column: "medical_deduction", Kind: KindDecimal},
	{Source: "SHELDED", Column: "shelter_deduction", Kind: KindDecimal},
	{Source: "FSTOTDED", Column: "total_deductions", Kind: KindDecimal},

	// Housing
	{Source: "RENT", Column: "rent", Kind: KindDecimal},
	{Source: "UTIL", Column: "utilities", Kind: KindDecimal},
	{Source: "FSCSEXP", Column: "shelter_expense", Kind: KindDecimal},
	{Source: "HOMELESS_DED", Column: "homeless_deduction", Kind: KindDecimal},

	// Benefits
	{Source: "FSBEN", Column: "snap_benefit", Kind: KindDecimal},
	{Source: "RAWBEN", Column: "raw_benefit", Kind: KindDecimal},
	{Source: "BENMAX", Column: "maximum_benefit", Kind: KindDecimal},
	{Source: "MINIMUM_BEN", Column: "minimum_benefit", Kind: KindDecimal},

	// Eligibility and certification
	{Source: "CAT_ELIG", Column: "categorical_eligibility", Kind: KindCode},
	{Source: "EXPEDSER", Column: "expedited_service", Kind: KindCode},
	{Source: "CERTMTH", Column: "certification_month", Kind: KindInteger, Missing: []string{"99"}},
	{Source: "LASTCERT", Column: "last_certification_date", Kind: KindInteger, Missing: []string{"999999"}},

	// Poverty and work status
	{Source: "TPOV", Column: "poverty_level", Kind: KindDecimal},
	{Source: "WRK_POOR", Column: "working_poor_indicator", Kind: KindFlag},
	{Source: "TANF_IND", Column: "tanf_indicator", Kind: KindFlag},

	// QC findings
	{Source: "AMTERR", Column: "amount_error", Kind: KindDecimal},
	{Source: "FSGRTEST", Column: "gross_test_result", Kind: KindCode},
	{Source: "FSNETEST", Column: "net_test_result", Kind: KindCode},

	// Sampling weights
	{Source: "HWGT", Column: "household_weight", Kind: KindDecimal},
	{Source: "FYWGT", Column: "fiscal_year_weight", Kind: KindDecimal},
}

var personRules = []Rule{
	// Demographics
	{Source: "FSAFIL", Column: "snap_affiliation_code", Kind: KindCode},
	{Source: "AGE", Column: "age", Kind: KindInteger},
	{Source: "SEX", Column: "sex", Kind: KindCode},
	{Source: "RACETH", Column: "race_ethnicity", Kind: KindCode},
	{Source: "REL", Column: "relationship_to_head", Kind: KindCode},
	{Source: "CTZN", Column: "citizenship_status", Kind: KindCode},
	{Source: "YRSED", Column: "years_education", Kind: KindInteger, Missing: []string{"99"}},

	// Status indicators
	{Source: "DIS", Column: "disability_indicator", Kind: KindFlag},
	{Source: "FOSTER", Column: "foster_child_indicator", Kind: KindFlag},
	{Source: "WRKREG", Column: "work_registration_status", Kind: KindCode},
	{Source: "ABWDST", Column: "abawd_status", Kind: KindCode},
	{Source: "WORK", Column: "working_indicator", Kind: KindFlag},

	// Employment
	{Source: "EMPRG", Column: "employment_region", Kind: KindCode},
	{Source: "EMPSTA", Column: "employment_status_a", Kind: KindCode},
	{Source: "EMPSTB", Column: "employment_status_b", Kind: KindCode},

	// Earned income
	{Source: "WAGES", Column: "wages", Kind: KindDecimal},
	{Source: "SLFEMP", Column: "self_employment_income", Kind: KindDecimal},
	{Source: "EITC", Column: "earned_income_tax_credit", Kind: KindDecimal},
	{Source: "OTHERN", Column: "other_earned_income", Kind: KindDecimal},

	// Unearned income
	{Source: "SOCSEC", Column: "social_security", Kind: KindDecimal},
	{Source: "SSI", Column: "ssi", Kind: KindDecimal},
	{Source: "VET", Column: "veterans_benefits", Kind: KindDecimal},
	{Source: "UNEMP", Column: "unemployment", Kind: KindDecimal},
	{Source: "WCOMP", Column: "workers_compensation", Kind: KindDecimal},
	{Source: "TANF", Column: "tanf", Kind: KindDecimal},
	{Source: "CSUPRT", Column: "child_support", Kind: KindDecimal},
	{Source: "GA", Column: "general_assistance", Kind: KindDecimal},
	{Source: "EDLOAN", Column: "education_loans", Kind: KindDecimal},
	{Source: "OTHGOV", Column: "other_government_income", Kind: KindDecimal},
	{Source: "CONT", Column: "contributions", Kind: KindDecimal},
	{Source: "DEEM", Column: "deemed_income", Kind: KindDecimal},
	{Source: "OTHUN", Column: "other_unearned_income", Kind: KindDecimal},

	// Deductions and expenses
	{Source: "DPCOST", Column: "dependent_care_cost", Kind: KindDecimal},
	{Source: "ENERGY", Column: "energy_assistance", Kind: KindDecimal},
	{Source: "WGESUP", Column: "wage_supplement", Kind: KindDecimal},
	{Source: "DIVER", Column: "diversion_payment", Kind: KindDecimal},
}

var errorRules = []Rule{
	{Source: "ELEMENT", Column: "element_code", Kind: KindCode},
	{Source: "NATURE", Column: "nature_code", Kind: KindCode},
	{Source: "AGENCY", Column: "responsible_agency", Kind: KindCode},
	{Source: "AMOUNT", Column: "error_amount", Kind: KindDecimal},
	{Source: "DISCOV", Column: "discovery_method", Kind: KindCode},
	{Source: "VERIF", Column: "verification_status", Kind: KindCode},
	{Source: "OCCDATE", Column: "occurrence_date", Kind: KindInteger, Missing: []string{"999999"}},
	{Source: "TIMEPER", Column: "time_period", Kind: KindInteger, Missing: []string{"99"}},
	{Source: "E_FINDG", Column: "error_finding", Kind: KindCode},
}
