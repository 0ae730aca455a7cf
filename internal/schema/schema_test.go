package schema

import (
	"reflect"
	"testing"

	"github.com/opencredit/kestrel/internal/domain"
)

func TestNormalizeTotality(t *testing.T) {
	// An empty-column batch still gains all six canonical fields.
	b := &domain.Batch{
		Columns: []string{"application_id"},
		Records: []domain.Record{
			{"application_id": "APP_0001"},
			{"application_id": "APP_0002"},
		},
	}

	out := Normalize(b)

	for _, field := range CanonicalFields {
		if !out.HasColumn(field) {
			t.Errorf("missing canonical column %s", field)
		}
		for i, rec := range out.Records {
			if !rec.Has(field) {
				t.Errorf("record %d missing %s", i, field)
			}
		}
	}
}

func TestNormalizeNeverRemovesColumns(t *testing.T) {
	b := &domain.Batch{
		Columns: []string{"application_id", "extra_notes", "income"},
		Records: []domain.Record{
			{"application_id": "APP_0001", "extra_notes": "keep me", "income": 50000.0},
		},
	}

	out := Normalize(b)

	for _, col := range b.Columns {
		if !out.HasColumn(col) {
			t.Errorf("input column %s was removed", col)
		}
	}
	if got := out.Records[0].String("extra_notes"); got != "keep me" {
		t.Errorf("extra_notes = %q, want %q", got, "keep me")
	}
}

func TestNormalizeCopiesAliases(t *testing.T) {
	b := &domain.Batch{
		Columns: []string{"employment_length", "loan_amount", "loan_duration_months"},
		Records: []domain.Record{
			{"employment_length": 7.0, "loan_amount": 25000.0, "loan_duration_months": 36.0},
		},
	}

	out := Normalize(b)
	rec := out.Records[0]

	if got := rec.Float(domain.FieldEmploymentYears); got != 7.0 {
		t.Errorf("employment_years = %v, want 7", got)
	}
	if got := rec.Float(domain.FieldRequestedAmount); got != 25000.0 {
		t.Errorf("requested_amount = %v, want 25000", got)
	}
	if got := rec.Float(domain.FieldLoanTermMonths); got != 36.0 {
		t.Errorf("loan_term_months = %v, want 36", got)
	}
}

func TestNormalizeDebtToIncome(t *testing.T) {
	t.Run("copies DTI when present", func(t *testing.T) {
		b := &domain.Batch{
			Columns: []string{"DTI"},
			Records: []domain.Record{{"DTI": 0.37}},
		}
		out := Normalize(b)
		if got := out.Records[0].Float(domain.FieldDebtToIncome); got != 0.37 {
			t.Errorf("debt_to_income = %v, want 0.37", got)
		}
	})

	t.Run("recomputes and clips from raw fields", func(t *testing.T) {
		b := &domain.Batch{
			Columns: []string{"existing_debt", "income"},
			Records: []domain.Record{
				{"existing_debt": 20000.0, "income": 40000.0},
				{"existing_debt": 500000.0, "income": 100.0}, // clips to 10
				{"existing_debt": 10000.0, "income": 0.0},    // zero income -> 0
			},
		}
		out := Normalize(b)
		if got := out.Records[0].Float(domain.FieldDebtToIncome); got != 0.5 {
			t.Errorf("debt_to_income = %v, want 0.5", got)
		}
		if got := out.Records[1].Float(domain.FieldDebtToIncome); got != 10.0 {
			t.Errorf("clipped debt_to_income = %v, want 10", got)
		}
		if got := out.Records[2].Float(domain.FieldDebtToIncome); got != 0.0 {
			t.Errorf("zero-income debt_to_income = %v, want 0", got)
		}
	})

	t.Run("defaults to zero", func(t *testing.T) {
		b := &domain.Batch{Columns: []string{"x"}, Records: []domain.Record{{"x": 1.0}}}
		out := Normalize(b)
		if got := out.Records[0].Float(domain.FieldDebtToIncome); got != 0.0 {
			t.Errorf("debt_to_income = %v, want 0", got)
		}
	})
}

func TestNormalizeDeterministicSynthesis(t *testing.T) {
	build := func() *domain.Batch {
		b := &domain.Batch{Columns: []string{"application_id"}}
		for i := 0; i < 50; i++ {
			b.Records = append(b.Records, domain.Record{"application_id": i})
		}
		return b
	}

	a := Normalize(build())
	b := Normalize(build())

	for i := range a.Records {
		av := a.Records[i].Float(domain.FieldCreditHistoryLength)
		bv := b.Records[i].Float(domain.FieldCreditHistoryLength)
		if av != bv {
			t.Fatalf("row %d: credit_history_length differs across runs: %v vs %v", i, av, bv)
		}
		if av < 0 || av >= 30 {
			t.Errorf("row %d: credit_history_length = %v, want [0,30)", i, av)
		}

		ad := a.Records[i].Float(domain.FieldNumDelinquencies)
		bd := b.Records[i].Float(domain.FieldNumDelinquencies)
		if ad != bd {
			t.Fatalf("row %d: num_delinquencies differs across runs: %v vs %v", i, ad, bd)
		}
		if ad < 0 || ad > 10 {
			t.Errorf("row %d: num_delinquencies = %v, want [0,10]", i, ad)
		}
	}
}

func TestNormalizePreservesPresentColumns(t *testing.T) {
	b := &domain.Batch{
		Columns: []string{"credit_history_length"},
		Records: []domain.Record{{"credit_history_length": 12.0}},
	}

	out := Normalize(b)

	if got := out.Records[0].Float(domain.FieldCreditHistoryLength); got != 12.0 {
		t.Errorf("present column was overwritten: %v", got)
	}
	if !reflect.DeepEqual(out.Columns[0], "credit_history_length") {
		t.Errorf("column order changed: %v", out.Columns)
	}
}
