// Package synth generates reproducible synthetic credit-application
// batches for demos, benchmarks, and agent training runs.
package synth

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/opencredit/kestrel/internal/domain"
	"github.com/opencredit/kestrel/internal/metrics"
)

// DefaultSeed makes repeated generations with the same parameters
// byte-identical.
const DefaultSeed = 42

// Params controls a generation run.
type Params struct {
	Count        int
	NonBankRatio float64 // fraction of records typed non-bank
	CurrencyCode string  // ISO code from the supported table, default USD
	IncludePII   bool    // raw variant carries name/email/phone/address/national_id
	Seed         int64   // 0 means DefaultSeed
}

func (p *Params) validate() error {
	if p.Count <= 0 {
		return fmt.Errorf("%w: count must be positive", domain.ErrValidation)
	}
	if p.NonBankRatio < 0 || p.NonBankRatio > 1 {
		return fmt.Errorf("%w: non-bank ratio %v outside [0,1]", domain.ErrValidation, p.NonBankRatio)
	}
	return nil
}

var names = []string{
	"Alice Nguyen", "Bao Tran", "Chris Do", "Duy Le", "Emma Tran",
	"Felix Nguyen", "Giang Ho", "Hanh Vo", "Ivan Pham", "Julia Ngo",
}

var addresses = []string{
	"23 Elm St, Boston, MA",
	"19 Pine Ave, San Jose, CA",
	"14 High St, London, UK",
	"55 Nguyen Hue, Ho Chi Minh",
	"78 Oak St, Chicago, IL",
	"10 Broadway, New York, NY",
	"8 Rue Lafayette, Paris, FR",
	"21 Königstr, Berlin, DE",
	"44 Maple Dr, Los Angeles, CA",
	"22 Bay St, Toronto, CA",
}

var collateralTypes = []string{"real_estate", "car", "land", "deposit"}

var loanTerms = []int{12, 24, 36, 48, 60, 72}

// monetaryFields are scaled by the currency's FX multiplier.
var monetaryFields = []string{
	domain.FieldIncome,
	domain.FieldLoanAmount,
	domain.FieldCollateralValue,
	"assets_owned",
	domain.FieldExistingDebt,
}

// Generate produces a synthetic batch. With the same Params the output is
// identical across runs and hosts.
func Generate(p Params) (*domain.Batch, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	seed := p.Seed
	if seed == 0 {
		seed = DefaultSeed
	}
	rng := rand.New(rand.NewSource(seed))
	currency := domain.CurrencyOrDefault(p.CurrencyCode)

	batch := domain.NewBatch(columnsFor(p.IncludePII)...)
	batch.Records = make([]domain.Record, 0, p.Count)

	for i := 1; i <= p.Count; i++ {
		rec := domain.Record{
			domain.FieldApplicationID: fmt.Sprintf("APP_%04d", i),
			"age":                     float64(21 + rng.Intn(44)),
			domain.FieldIncome:        float64(25_000 + rng.Intn(125_000)),
			"employment_length":       float64(rng.Intn(30)),
			domain.FieldLoanAmount:    float64(5_000 + rng.Intn(95_000)),
			"loan_duration_months":    float64(loanTerms[rng.Intn(len(loanTerms))]),
			domain.FieldCollateralValue: float64(8_000 + rng.Intn(192_000)),
			"collateral_type":           collateralTypes[rng.Intn(len(collateralTypes))],
			"co_loaners":                float64(coLoaners(rng)),
			"credit_score":              float64(300 + rng.Intn(550)),
			domain.FieldExistingDebt:    float64(rng.Intn(50_000)),
			"assets_owned":              float64(10_000 + rng.Intn(290_000)),
			domain.FieldCurrentLoans:    float64(rng.Intn(5)),
		}

		if rng.Float64() < p.NonBankRatio {
			rec[domain.FieldCustomerType] = domain.CustomerNonBank
		} else {
			rec[domain.FieldCustomerType] = domain.CustomerBank
		}

		if p.IncludePII {
			name := names[rng.Intn(len(names))]
			rec["customer_name"] = name
			rec["email"] = emailFor(name)
			rec["phone"] = fmt.Sprintf("+1-202-555-%04d", 1000+i-1)
			rec["address"] = addresses[rng.Intn(len(addresses))]
			rec["national_id"] = float64(10_000_000 + rng.Intn(89_999_999))
		}

		metrics.Derive(rec)
		scaleMonetary(rec, currency.FX)
		rec["currency_code"] = currency.Code

		batch.Records = append(batch.Records, rec)
	}

	batch.DedupeColumns()
	return batch, nil
}

// co_loaners distribution: 0 with p=0.70, 1 with p=0.25, 2 with p=0.05.
func coLoaners(rng *rand.Rand) int {
	switch r := rng.Float64(); {
	case r < 0.70:
		return 0
	case r < 0.95:
		return 1
	default:
		return 2
	}
}

func emailFor(name string) string {
	first, last := name, ""
	for i, r := range name {
		if r == ' ' {
			first, last = name[:i], name[i+1:]
			break
		}
	}
	return fmt.Sprintf("%s.%s@gmail.com", lower(first), lower(last))
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

// scaleMonetary converts the monetary fields with the FX multiplier,
// rounded to two decimals.
func scaleMonetary(rec domain.Record, fx float64) {
	for _, f := range monetaryFields {
		rec[f] = math.Round(rec.Float(f)*fx*100) / 100
	}
}

func columnsFor(includePII bool) []string {
	cols := []string{domain.FieldApplicationID}
	if includePII {
		cols = append(cols, "customer_name", "email", "phone", "address", "national_id")
	}
	cols = append(cols,
		"age",
		domain.FieldIncome,
		"employment_length",
		domain.FieldLoanAmount,
		"loan_duration_months",
		domain.FieldCollateralValue,
		"collateral_type",
		"co_loaners",
		"credit_score",
		domain.FieldExistingDebt,
		"assets_owned",
		domain.FieldCurrentLoans,
		domain.FieldCustomerType,
		domain.FieldDTI,
		domain.FieldLTV,
		domain.FieldCCR,
		domain.FieldITI,
		domain.FieldCWI,
		"currency_code",
	)
	return cols
}

// CurrencyCodes lists the supported currency codes in stable order.
func CurrencyCodes() []string {
	codes := make([]string, 0, len(domain.Currencies))
	for code := range domain.Currencies {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
