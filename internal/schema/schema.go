// Package schema maps arbitrary record batches onto the canonical field
// set expected by the scoring agent.
package schema

import (
	"math"
	"math/rand"

	"github.com/opencredit/kestrel/internal/domain"
)

// normalizeSeed is fixed so synthesized columns are deterministic for a
// given batch size and row index, enabling regression tests downstream.
const normalizeSeed = 12345

// delinquencyLambda parameterizes the Poisson draw for num_delinquencies.
const delinquencyLambda = 0.2

// CanonicalFields are the six fields Normalize guarantees on every output
// batch, in column order.
var CanonicalFields = []string{
	domain.FieldEmploymentYears,
	domain.FieldDebtToIncome,
	domain.FieldCreditHistoryLength,
	domain.FieldNumDelinquencies,
	domain.FieldRequestedAmount,
	domain.FieldLoanTermMonths,
}

// Normalize fills in the canonical fields on a copy of the batch. It is
// total: it never fails regardless of which optional fields are present,
// and it only adds columns, never removes.
//
// Synthesis is column-granular: a canonical column already present in the
// batch is left untouched even if individual rows lack a value.
func Normalize(b *domain.Batch) *domain.Batch {
	out := b.Clone()

	if !out.HasColumn(domain.FieldEmploymentYears) {
		for _, rec := range out.Records {
			rec[domain.FieldEmploymentYears] = rec.Float("employment_length")
		}
		out.AddColumn(domain.FieldEmploymentYears)
	}

	if !out.HasColumn(domain.FieldDebtToIncome) {
		fillDebtToIncome(out)
		out.AddColumn(domain.FieldDebtToIncome)
	}

	rng := rand.New(rand.NewSource(normalizeSeed))

	if !out.HasColumn(domain.FieldCreditHistoryLength) {
		for _, rec := range out.Records {
			rec[domain.FieldCreditHistoryLength] = float64(rng.Intn(30))
		}
		out.AddColumn(domain.FieldCreditHistoryLength)
	}

	if !out.HasColumn(domain.FieldNumDelinquencies) {
		for _, rec := range out.Records {
			d := poisson(rng, delinquencyLambda)
			if d > 10 {
				d = 10
			}
			rec[domain.FieldNumDelinquencies] = float64(d)
		}
		out.AddColumn(domain.FieldNumDelinquencies)
	}

	if !out.HasColumn(domain.FieldRequestedAmount) {
		for _, rec := range out.Records {
			rec[domain.FieldRequestedAmount] = rec.Float(domain.FieldLoanAmount)
		}
		out.AddColumn(domain.FieldRequestedAmount)
	}

	if !out.HasColumn(domain.FieldLoanTermMonths) {
		for _, rec := range out.Records {
			rec[domain.FieldLoanTermMonths] = rec.Float("loan_duration_months")
		}
		out.AddColumn(domain.FieldLoanTermMonths)
	}

	out.DedupeColumns()
	return out
}

// fillDebtToIncome copies DTI when derived metrics are present, otherwise
// recomputes existing_debt/income clipped to [0,10], otherwise 0.
func fillDebtToIncome(b *domain.Batch) {
	switch {
	case b.HasColumn(domain.FieldDTI):
		for _, rec := range b.Records {
			rec[domain.FieldDebtToIncome] = rec.Float(domain.FieldDTI)
		}
	case b.HasColumn(domain.FieldExistingDebt) && b.HasColumn(domain.FieldIncome):
		for _, rec := range b.Records {
			income := rec.Float(domain.FieldIncome)
			if income == 0 {
				rec[domain.FieldDebtToIncome] = 0.0
				continue
			}
			dti := rec.Float(domain.FieldExistingDebt) / income
			rec[domain.FieldDebtToIncome] = math.Min(math.Max(dti, 0), 10)
		}
	default:
		for _, rec := range b.Records {
			rec[domain.FieldDebtToIncome] = 0.0
		}
	}
}

// poisson draws a Poisson-distributed int via Knuth's method. Fine for the
// small lambda used here.
func poisson(rng *rand.Rand, lambda float64) int {
	l := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		p *= rng.Float64()
		if p <= l {
			return k
		}
		k++
	}
}
