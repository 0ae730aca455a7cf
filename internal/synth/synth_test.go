package synth

import (
	"errors"
	"reflect"
	"testing"

	"github.com/opencredit/kestrel/internal/domain"
)

func TestGenerateReproducible(t *testing.T) {
	p := Params{Count: 50, NonBankRatio: 0.3}

	a, err := Generate(p)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate(p)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !reflect.DeepEqual(a, b) {
		t.Error("same params produced different batches")
	}
}

func TestGenerateSeedChangesOutput(t *testing.T) {
	a, _ := Generate(Params{Count: 20, Seed: 1})
	b, _ := Generate(Params{Count: 20, Seed: 2})
	if reflect.DeepEqual(a.Records, b.Records) {
		t.Error("different seeds produced identical batches")
	}
}

func TestGenerateFieldRanges(t *testing.T) {
	batch, err := Generate(Params{Count: 200, NonBankRatio: 0.5})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if batch.Len() != 200 {
		t.Fatalf("len = %d, want 200", batch.Len())
	}

	terms := map[int]bool{12: true, 24: true, 36: true, 48: true, 60: true, 72: true}
	for i, rec := range batch.Records {
		if age := rec.Float("age"); age < 21 || age > 64 {
			t.Errorf("record %d: age %v outside [21,64]", i, age)
		}
		if inc := rec.Float("income"); inc < 25_000 || inc >= 150_000 {
			t.Errorf("record %d: income %v outside [25000,150000)", i, inc)
		}
		if !terms[rec.Int("loan_duration_months")] {
			t.Errorf("record %d: bad loan term %v", i, rec["loan_duration_months"])
		}
		if cs := rec.Float("credit_score"); cs < 300 || cs >= 850 {
			t.Errorf("record %d: credit_score %v outside [300,850)", i, cs)
		}
		if cl := rec.Int("co_loaners"); cl < 0 || cl > 2 {
			t.Errorf("record %d: co_loaners %v outside [0,2]", i, cl)
		}
		switch rec.String("customer_type") {
		case domain.CustomerBank, domain.CustomerNonBank:
		default:
			t.Errorf("record %d: bad customer_type %q", i, rec["customer_type"])
		}
	}
}

func TestGenerateApplicationIDs(t *testing.T) {
	batch, err := Generate(Params{Count: 3})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []string{"APP_0001", "APP_0002", "APP_0003"}
	for i, rec := range batch.Records {
		if got := rec.String("application_id"); got != want[i] {
			t.Errorf("record %d: application_id = %q, want %q", i, got, want[i])
		}
	}
}

func TestGeneratePIIVariants(t *testing.T) {
	raw, err := Generate(Params{Count: 10, IncludePII: true})
	if err != nil {
		t.Fatalf("Generate raw: %v", err)
	}
	anon, err := Generate(Params{Count: 10})
	if err != nil {
		t.Fatalf("Generate anon: %v", err)
	}

	for _, col := range []string{"customer_name", "email", "phone", "address", "national_id"} {
		if !raw.HasColumn(col) {
			t.Errorf("raw batch missing %s", col)
		}
		if anon.HasColumn(col) {
			t.Errorf("anon batch carries %s", col)
		}
	}
	for i, rec := range raw.Records {
		if rec.String("email") == "" {
			t.Errorf("record %d: empty email", i)
		}
	}
}

func TestGenerateDerivedMetricsPresent(t *testing.T) {
	batch, err := Generate(Params{Count: 5})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for _, col := range []string{"DTI", "LTV", "CCR", "ITI", "CWI"} {
		if !batch.HasColumn(col) {
			t.Errorf("missing derived column %s", col)
		}
	}
	for i, rec := range batch.Records {
		if rec.Float("CWI") < 0 || rec.Float("CWI") > 3 {
			t.Errorf("record %d: CWI %v outside [0,3]", i, rec.Float("CWI"))
		}
	}
}

func TestGenerateCurrencyScaling(t *testing.T) {
	usd, err := Generate(Params{Count: 10, CurrencyCode: "USD"})
	if err != nil {
		t.Fatalf("Generate USD: %v", err)
	}
	vnd, err := Generate(Params{Count: 10, CurrencyCode: "VND"})
	if err != nil {
		t.Fatalf("Generate VND: %v", err)
	}

	fx := domain.Currencies["VND"].FX
	for i := range usd.Records {
		u := usd.Records[i].Float("income")
		v := vnd.Records[i].Float("income")
		if v != u*fx {
			t.Errorf("record %d: VND income %v, want %v", i, v, u*fx)
		}
		if vnd.Records[i].String("currency_code") != "VND" {
			t.Errorf("record %d: currency_code = %q", i, vnd.Records[i]["currency_code"])
		}
	}
}

func TestGenerateValidation(t *testing.T) {
	if _, err := Generate(Params{Count: 0}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("count 0: err = %v, want ErrValidation", err)
	}
	if _, err := Generate(Params{Count: 10, NonBankRatio: 1.5}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("ratio 1.5: err = %v, want ErrValidation", err)
	}
}
