// Package domain defines the core interfaces and types for Kestrel.
package domain

import "strconv"

// Record is a single applicant/loan record: a mapping from field name to
// value. Values are strings, float64s, ints, or bools depending on source.
type Record map[string]any

// Canonical field names expected by the scoring agent after normalization.
const (
	FieldApplicationID       = "application_id"
	FieldIncome              = "income"
	FieldLoanAmount          = "loan_amount"
	FieldLoanTermMonths      = "loan_term_months"
	FieldExistingDebt        = "existing_debt"
	FieldCollateralValue     = "collateral_value"
	FieldCreditHistoryLength = "credit_history_length"
	FieldNumDelinquencies    = "num_delinquencies"
	FieldEmploymentYears     = "employment_years"
	FieldDebtToIncome        = "debt_to_income"
	FieldRequestedAmount     = "requested_amount"
	FieldCustomerType        = "customer_type"
	FieldCurrentLoans        = "current_loans"
	FieldMonthlyObligations  = "monthly_obligations"
)

// Derived metric column names.
const (
	FieldDTI = "DTI"
	FieldLTV = "LTV"
	FieldCCR = "CCR"
	FieldITI = "ITI"
	FieldCWI = "CWI"
)

// Customer types.
const (
	CustomerBank    = "bank"
	CustomerNonBank = "non-bank"
)

// Float returns the numeric value of a field, coercing from the types a
// CSV decode or JSON unmarshal can produce. Missing or non-numeric fields
// return 0, the lenient substitution callers rely on.
func (r Record) Float(key string) float64 {
	v, ok := r[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
	}
	return 0
}

// Int returns the field as an int, via the same coercion as Float.
func (r Record) Int(key string) int {
	return int(r.Float(key))
}

// String returns the field as a string, or "" when absent or non-string.
func (r Record) String(key string) string {
	if s, ok := r[key].(string); ok {
		return s
	}
	return ""
}

// Has reports whether the field is present.
func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Batch is an ordered record set: Columns preserves the tabular column
// order for encoding, Records holds one Record per row. A field counts as
// a column of the batch iff it appears in Columns; individual records may
// still lack a value for a present column.
type Batch struct {
	Columns []string `json:"columns"`
	Records []Record `json:"records"`
}

// NewBatch creates a batch with the given column order.
func NewBatch(columns ...string) *Batch {
	return &Batch{Columns: columns}
}

// Len returns the number of records.
func (b *Batch) Len() int {
	return len(b.Records)
}

// HasColumn reports whether the batch carries the named column.
func (b *Batch) HasColumn(name string) bool {
	for _, c := range b.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// AddColumn appends a column if not already present.
func (b *Batch) AddColumn(name string) {
	if !b.HasColumn(name) {
		b.Columns = append(b.Columns, name)
	}
}

// Clone returns a deep copy of the batch (records are cloned, values are not).
func (b *Batch) Clone() *Batch {
	out := &Batch{
		Columns: append([]string(nil), b.Columns...),
		Records: make([]Record, len(b.Records)),
	}
	for i, r := range b.Records {
		out.Records[i] = r.Clone()
	}
	return out
}

// DedupeColumns keeps only the last occurrence of each duplicated column
// name, preserving the position of that last occurrence.
func (b *Batch) DedupeColumns() {
	last := make(map[string]int, len(b.Columns))
	for i, c := range b.Columns {
		last[c] = i
	}
	kept := b.Columns[:0]
	for i, c := range b.Columns {
		if last[c] == i {
			kept = append(kept, c)
		}
	}
	b.Columns = kept
}
