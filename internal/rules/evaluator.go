// Package rules evaluates applicant records against configurable decision
// policies: the classic multi-factor bank rule set, the single-ratio NDI
// rule set, or operator-supplied CEL predicates.
package rules

import (
	"fmt"
	"strings"

	"github.com/opencredit/kestrel/internal/domain"
	"github.com/opencredit/kestrel/internal/metrics"
)

// Reason keys for the classic rule set.
const (
	ReasonDTI             = "dti"
	ReasonEmployment      = "employment_years"
	ReasonCreditHistory   = "credit_history"
	ReasonSalaryFloor     = "salary_floor"
	ReasonDelinquencies   = "delinquencies"
	ReasonCurrentLoans    = "current_loans"
	ReasonRequestedAmount = "requested_amount"
	ReasonLoanTerm        = "loan_term"
	ReasonIncomeDebtRatio = "income_debt_ratio"
)

// Reason keys for the NDI rule set.
const (
	ReasonNDIValue = "ndi_value"
	ReasonNDIRatio = "ndi_ratio"
)

// Evaluator scores records against one validated policy. For custom
// policies the CEL programs are compiled once at construction.
type Evaluator struct {
	policy   *domain.RulePolicy
	programs []compiledRule
}

// NewEvaluator validates the policy and returns an evaluator for it.
// Custom CEL expressions are compiled here so configuration errors surface
// before any record is touched.
func NewEvaluator(policy *domain.RulePolicy) (*Evaluator, error) {
	if policy == nil {
		return nil, fmt.Errorf("%w: policy is required", domain.ErrConfiguration)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	e := &Evaluator{policy: policy}

	if policy.Kind == domain.PolicyCustom {
		programs, err := compileRules(policy.Custom)
		if err != nil {
			return nil, err
		}
		e.programs = programs
	}

	return e, nil
}

// Policy returns the evaluated policy.
func (e *Evaluator) Policy() *domain.RulePolicy {
	return e.policy
}

// Score evaluates every configured predicate against one record and
// returns the fraction passed plus the per-rule breakdown. In lenient
// field mode a missing field is read as 0; in strict mode it aborts.
func (e *Evaluator) Score(rec domain.Record) (float64, map[string]bool, error) {
	if e.policy.FieldModeOrDefault() == domain.FieldStrict {
		if missing := e.missingFields(rec); len(missing) > 0 {
			return 0, nil, fmt.Errorf("%w: record %s missing fields: %s",
				domain.ErrValidation, applicationID(rec), strings.Join(missing, ", "))
		}
	}

	var reasons map[string]bool
	switch e.policy.Kind {
	case domain.PolicyClassic:
		reasons = e.scoreClassic(rec)
	case domain.PolicyNDI:
		reasons = e.scoreNDI(rec)
	case domain.PolicyCustom:
		var err error
		reasons, err = e.scoreCustom(rec)
		if err != nil {
			return 0, nil, err
		}
	}

	passed := 0
	for _, ok := range reasons {
		if ok {
			passed++
		}
	}
	if len(reasons) == 0 {
		return 0, reasons, nil
	}
	return float64(passed) / float64(len(reasons)), reasons, nil
}

func (e *Evaluator) scoreClassic(rec domain.Record) map[string]bool {
	c := e.policy.Classic

	dti := debtToIncome(rec)
	income := rec.Float(domain.FieldIncome)
	requested := requestedAmount(rec)
	term := rec.Int(domain.FieldLoanTermMonths)

	// Compounded debt pressure: the requested amount scaled by the
	// compounding factor plus existing obligations after monthly relief.
	pressure := c.CompoundedDebtFactor*requested +
		(1-c.MonthlyDebtRelief)*rec.Float(domain.FieldExistingDebt)

	return map[string]bool{
		ReasonDTI:             dti <= c.MaxDTI,
		ReasonEmployment:      rec.Float(domain.FieldEmploymentYears) >= c.MinEmploymentYears,
		ReasonCreditHistory:   rec.Float(domain.FieldCreditHistoryLength) >= c.MinCreditHistory,
		ReasonSalaryFloor:     income >= c.SalaryFloor,
		ReasonDelinquencies:   rec.Float(domain.FieldNumDelinquencies) <= c.MaxDelinquencies,
		ReasonCurrentLoans:    rec.Float(domain.FieldCurrentLoans) <= c.MaxCurrentLoans,
		ReasonRequestedAmount: requested >= c.RequestedMin && requested <= c.RequestedMax,
		ReasonLoanTerm:        termAllowed(term, c.AllowedTerms),
		ReasonIncomeDebtRatio: income/(pressure+metrics.Epsilon) >= c.MinIncomeDebtRatio,
	}
}

func (e *Evaluator) scoreNDI(rec domain.Record) map[string]bool {
	n := e.policy.NDI

	income := rec.Float(domain.FieldIncome)
	obligations := rec.Float(domain.FieldMonthlyObligations)
	if !rec.Has(domain.FieldMonthlyObligations) {
		obligations = rec.Float(domain.FieldExistingDebt)
	}

	ndi := income - obligations
	return map[string]bool{
		ReasonNDIValue: ndi >= n.MinValue,
		ReasonNDIRatio: ndi/(income+metrics.Epsilon) >= n.MinRatio,
	}
}

// missingFields lists the fields the configured predicates reference that
// the record lacks.
func (e *Evaluator) missingFields(rec domain.Record) []string {
	var required []string
	switch e.policy.Kind {
	case domain.PolicyClassic:
		required = []string{
			domain.FieldDebtToIncome,
			domain.FieldEmploymentYears,
			domain.FieldCreditHistoryLength,
			domain.FieldIncome,
			domain.FieldNumDelinquencies,
			domain.FieldCurrentLoans,
			domain.FieldRequestedAmount,
			domain.FieldLoanTermMonths,
			domain.FieldExistingDebt,
		}
	case domain.PolicyNDI:
		required = []string{domain.FieldIncome}
	case domain.PolicyCustom:
		// Custom expressions read through the activation map, which
		// defaults absent fields; strict mode checks the canonical set.
		required = []string{domain.FieldIncome, domain.FieldRequestedAmount}
	}

	var missing []string
	for _, f := range required {
		if !hasFieldOrAlias(rec, f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// hasFieldOrAlias accepts the pre-normalization aliases for canonical
// fields so strict mode does not reject batches the normalizer would fix.
func hasFieldOrAlias(rec domain.Record, field string) bool {
	if rec.Has(field) {
		return true
	}
	switch field {
	case domain.FieldDebtToIncome:
		return rec.Has(domain.FieldDTI)
	case domain.FieldRequestedAmount:
		return rec.Has(domain.FieldLoanAmount)
	case domain.FieldLoanTermMonths:
		return rec.Has("loan_duration_months")
	case domain.FieldEmploymentYears:
		return rec.Has("employment_length")
	}
	return false
}

func debtToIncome(rec domain.Record) float64 {
	if rec.Has(domain.FieldDebtToIncome) {
		return rec.Float(domain.FieldDebtToIncome)
	}
	return rec.Float(domain.FieldDTI)
}

func requestedAmount(rec domain.Record) float64 {
	if rec.Has(domain.FieldRequestedAmount) {
		return rec.Float(domain.FieldRequestedAmount)
	}
	return rec.Float(domain.FieldLoanAmount)
}

func termAllowed(term int, allowed []int) bool {
	for _, t := range allowed {
		if term == t {
			return true
		}
	}
	return false
}

func applicationID(rec domain.Record) string {
	if v, ok := rec[domain.FieldApplicationID]; ok {
		return fmt.Sprint(v)
	}
	return "<no id>"
}
