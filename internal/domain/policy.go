package domain

import (
	"fmt"
	"time"
)

// PolicyKind selects the rule family a policy carries.
type PolicyKind string

const (
	// PolicyClassic is the multi-factor bank rule set.
	PolicyClassic PolicyKind = "classic"

	// PolicyNDI is the single-ratio net-disposable-income rule set.
	PolicyNDI PolicyKind = "ndi"

	// PolicyCustom evaluates operator-supplied CEL predicates.
	PolicyCustom PolicyKind = "custom"
)

// FieldMode controls how the evaluator treats a record field referenced by
// a predicate but absent from the record.
type FieldMode string

const (
	// FieldLenient substitutes 0 for missing fields and never fails.
	// This matches the upstream behaviour but can mask data-quality bugs.
	FieldLenient FieldMode = "lenient"

	// FieldStrict aborts the batch with a validation error when a
	// configured predicate references a missing field.
	FieldStrict FieldMode = "strict"
)

// RulePolicy is a tagged union over the supported rule families plus the
// shared decision-mode configuration.
type RulePolicy struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenantId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Kind        PolicyKind `json:"kind"`

	Classic *ClassicRules `json:"classic,omitempty"`
	NDI     *NDIRules     `json:"ndi,omitempty"`
	Custom  []CustomRule  `json:"custom,omitempty"`

	Mode   DecisionMode `json:"mode"`
	Fields FieldMode    `json:"fields,omitempty"` // empty means lenient

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// ClassicRules carries the thresholds for the classic bank rule set.
// Every threshold is evaluated as an independent predicate and recorded
// in the decision's reasons mapping.
type ClassicRules struct {
	MaxDTI               float64 `json:"maxDti"`
	MinEmploymentYears   float64 `json:"minEmploymentYears"`
	MinCreditHistory     float64 `json:"minCreditHistory"`
	SalaryFloor          float64 `json:"salaryFloor"`
	MaxDelinquencies     float64 `json:"maxDelinquencies"`
	MaxCurrentLoans      float64 `json:"maxCurrentLoans"`
	RequestedMin         float64 `json:"requestedMin"`
	RequestedMax         float64 `json:"requestedMax"`
	AllowedTerms         []int   `json:"allowedTerms"`
	MinIncomeDebtRatio   float64 `json:"minIncomeDebtRatio"`
	CompoundedDebtFactor float64 `json:"compoundedDebtFactor"`
	MonthlyDebtRelief    float64 `json:"monthlyDebtRelief"`
}

// NDIRules carries the net-disposable-income thresholds.
// NDI = income - total monthly obligations.
type NDIRules struct {
	MinValue float64 `json:"minValue"` // minimum NDI per month
	MinRatio float64 `json:"minRatio"` // minimum NDI / income
}

// CustomRule is a named CEL predicate over the record. The expression must
// evaluate to a bool.
type CustomRule struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
}

// DecisionMode selects how per-record scores turn into decisions. Exactly
// one of the three modes is active: a fixed threshold, a batch-level target
// approval rate, or a randomized per-batch band.
type DecisionMode struct {
	Threshold  *float64 `json:"threshold,omitempty"`
	TargetRate *float64 `json:"targetRate,omitempty"`

	// RandomBand draws one threshold per batch uniformly from
	// [RandomBandLow, RandomBandHigh]. Active when neither Threshold nor
	// TargetRate is set.
	RandomBand bool  `json:"randomBand,omitempty"`
	RandomSeed int64 `json:"randomSeed,omitempty"`
}

// Bounds of the randomized approval band.
const (
	RandomBandLow  = 0.20
	RandomBandHigh = 0.60
)

// DefaultClassicRules returns the stock classic thresholds.
func DefaultClassicRules() *ClassicRules {
	return &ClassicRules{
		MaxDTI:               0.45,
		MinEmploymentYears:   2,
		MinCreditHistory:     3,
		SalaryFloor:          3000,
		MaxDelinquencies:     2,
		MaxCurrentLoans:      3,
		RequestedMin:         1000,
		RequestedMax:         200000,
		AllowedTerms:         []int{12, 24, 36, 48, 60},
		MinIncomeDebtRatio:   0.35,
		CompoundedDebtFactor: 1.0,
		MonthlyDebtRelief:    0.50,
	}
}

// DefaultNDIRules returns the stock NDI thresholds.
func DefaultNDIRules() *NDIRules {
	return &NDIRules{
		MinValue: 800.0,
		MinRatio: 0.50,
	}
}

// Validate checks the policy for configuration errors. It does not compile
// custom expressions; the rules engine does that with full CEL diagnostics.
func (p *RulePolicy) Validate() error {
	switch p.Kind {
	case PolicyClassic:
		if p.Classic == nil {
			return fmt.Errorf("%w: classic policy requires classic thresholds", ErrConfiguration)
		}
		if err := p.Classic.validate(); err != nil {
			return err
		}
	case PolicyNDI:
		if p.NDI == nil {
			return fmt.Errorf("%w: ndi policy requires ndi thresholds", ErrConfiguration)
		}
		if err := p.NDI.validate(); err != nil {
			return err
		}
	case PolicyCustom:
		if len(p.Custom) == 0 {
			return fmt.Errorf("%w: custom policy requires at least one rule", ErrConfiguration)
		}
		seen := make(map[string]bool, len(p.Custom))
		for _, r := range p.Custom {
			if r.Name == "" || r.Expression == "" {
				return fmt.Errorf("%w: custom rule name and expression are required", ErrConfiguration)
			}
			if seen[r.Name] {
				return fmt.Errorf("%w: duplicate custom rule name %q", ErrConfiguration, r.Name)
			}
			seen[r.Name] = true
		}
	default:
		return fmt.Errorf("%w: unknown policy kind %q", ErrConfiguration, p.Kind)
	}

	if p.Fields != "" && p.Fields != FieldLenient && p.Fields != FieldStrict {
		return fmt.Errorf("%w: unknown field mode %q", ErrConfiguration, p.Fields)
	}

	return p.Mode.validate()
}

func (m DecisionMode) validate() error {
	if m.Threshold != nil && m.TargetRate != nil {
		return fmt.Errorf("%w: threshold and target rate are mutually exclusive", ErrConfiguration)
	}
	if m.Threshold != nil && (*m.Threshold < 0 || *m.Threshold > 1) {
		return fmt.Errorf("%w: threshold %v outside [0,1]", ErrConfiguration, *m.Threshold)
	}
	if m.TargetRate != nil && (*m.TargetRate <= 0 || *m.TargetRate >= 1) {
		return fmt.Errorf("%w: target rate %v outside (0,1)", ErrConfiguration, *m.TargetRate)
	}
	if m.Threshold == nil && m.TargetRate == nil && !m.RandomBand {
		return fmt.Errorf("%w: no decision mode configured", ErrConfiguration)
	}
	return nil
}

func (c *ClassicRules) validate() error {
	if len(c.AllowedTerms) == 0 {
		return fmt.Errorf("%w: allowed loan terms must not be empty", ErrConfiguration)
	}
	if c.MaxDTI < 0 || c.MaxDTI > 10 {
		return fmt.Errorf("%w: max DTI %v outside [0,10]", ErrConfiguration, c.MaxDTI)
	}
	if c.RequestedMin > c.RequestedMax {
		return fmt.Errorf("%w: requested amount min %v exceeds max %v", ErrConfiguration, c.RequestedMin, c.RequestedMax)
	}
	if c.MinIncomeDebtRatio <= 0 {
		return fmt.Errorf("%w: min income/debt ratio must be positive", ErrConfiguration)
	}
	if c.CompoundedDebtFactor <= 0 {
		return fmt.Errorf("%w: compounded debt factor must be positive", ErrConfiguration)
	}
	if c.MonthlyDebtRelief < 0 || c.MonthlyDebtRelief > 1 {
		return fmt.Errorf("%w: monthly debt relief %v outside [0,1]", ErrConfiguration, c.MonthlyDebtRelief)
	}
	return nil
}

func (n *NDIRules) validate() error {
	if n.MinValue < 0 {
		return fmt.Errorf("%w: min NDI value must be non-negative", ErrConfiguration)
	}
	if n.MinRatio < 0 || n.MinRatio > 1 {
		return fmt.Errorf("%w: min NDI ratio %v outside [0,1]", ErrConfiguration, n.MinRatio)
	}
	return nil
}

// FieldModeOrDefault returns the configured field mode, defaulting to lenient.
func (p *RulePolicy) FieldModeOrDefault() FieldMode {
	if p.Fields == "" {
		return FieldLenient
	}
	return p.Fields
}
