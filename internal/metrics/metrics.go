// Package metrics computes derived financial ratios for applicant records.
package metrics

import (
	"github.com/opencredit/kestrel/internal/domain"
)

// Epsilon guards every division so a zero denominator yields a very large
// but finite ratio instead of an error or infinity.
const Epsilon = 1e-9

// Derived holds the five derived metrics for one record.
type Derived struct {
	DTI float64 // existing_debt / income
	LTV float64 // loan_amount / collateral_value
	CCR float64 // collateral_value / loan_amount
	ITI float64 // (loan_amount / term_months) / income
	CWI float64 // (1-DTI)+ * (1-LTV)+ * min(CCR, 3)
}

// Compute derives the metrics from the record's raw fields. It is a pure
// function and never fails: all divisions are epsilon-guarded.
func Compute(rec domain.Record) Derived {
	income := rec.Float(domain.FieldIncome)
	loan := rec.Float(domain.FieldLoanAmount)
	collateral := rec.Float(domain.FieldCollateralValue)
	debt := rec.Float(domain.FieldExistingDebt)
	term := rec.Float(domain.FieldLoanTermMonths)
	if term == 0 {
		term = rec.Float("loan_duration_months")
	}

	d := Derived{
		DTI: debt / (income + Epsilon),
		LTV: loan / (collateral + Epsilon),
		CCR: collateral / (loan + Epsilon),
		ITI: (loan / (term + Epsilon)) / (income + Epsilon),
	}
	d.CWI = clamp(1-d.DTI, 0, 1) * clamp(1-d.LTV, 0, 1) * clamp(d.CCR, 0, 3)
	return d
}

// Derive augments the record with DTI, LTV, CCR, ITI, CWI and returns it.
// Already-present metric fields are overwritten.
func Derive(rec domain.Record) domain.Record {
	d := Compute(rec)
	rec[domain.FieldDTI] = d.DTI
	rec[domain.FieldLTV] = d.LTV
	rec[domain.FieldCCR] = d.CCR
	rec[domain.FieldITI] = d.ITI
	rec[domain.FieldCWI] = d.CWI
	return rec
}

// DeriveBatch augments every record in the batch and registers the metric
// columns. The batch is modified in place and returned.
func DeriveBatch(b *domain.Batch) *domain.Batch {
	for _, rec := range b.Records {
		Derive(rec)
	}
	for _, col := range []string{domain.FieldDTI, domain.FieldLTV, domain.FieldCCR, domain.FieldITI, domain.FieldCWI} {
		b.AddColumn(col)
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
