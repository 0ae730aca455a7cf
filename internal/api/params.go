package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/opencredit/kestrel/internal/domain"
)

// parsePolicyForm builds a RulePolicy from the multipart form fields of an
// appraisal request. Field names follow the scoring agent's run form so
// existing clients keep working unchanged.
func parsePolicyForm(r *http.Request) (*domain.RulePolicy, error) {
	mode := r.FormValue("rule_mode")
	if mode == "" {
		mode = string(domain.PolicyClassic)
	}

	policy := &domain.RulePolicy{
		Name:    r.FormValue("policy_name"),
		Kind:    domain.PolicyKind(mode),
		Enabled: true,
	}
	if policy.Name == "" {
		policy.Name = "ad-hoc"
	}

	switch policy.Kind {
	case domain.PolicyClassic:
		classic := domain.DefaultClassicRules()
		if err := overlayClassic(r, classic); err != nil {
			return nil, err
		}
		policy.Classic = classic
	case domain.PolicyNDI:
		ndi := domain.DefaultNDIRules()
		if v, ok, err := floatField(r, "ndi_value"); err != nil {
			return nil, err
		} else if ok {
			ndi.MinValue = v
		}
		if v, ok, err := floatField(r, "ndi_ratio"); err != nil {
			return nil, err
		} else if ok {
			ndi.MinRatio = v
		}
		policy.NDI = ndi
	default:
		return nil, fmt.Errorf("%w: unknown rule_mode %q", domain.ErrValidation, mode)
	}

	if err := overlayDecisionMode(r, policy); err != nil {
		return nil, err
	}

	if fm := r.FormValue("field_mode"); fm != "" {
		policy.Fields = domain.FieldMode(fm)
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

// overlayClassic applies any classic threshold fields present in the form
// on top of the defaults.
func overlayClassic(r *http.Request, c *domain.ClassicRules) error {
	fields := []struct {
		name string
		dst  *float64
	}{
		{"max_debt_to_income", &c.MaxDTI},
		{"min_employment_years", &c.MinEmploymentYears},
		{"min_credit_history_length", &c.MinCreditHistory},
		{"salary_floor", &c.SalaryFloor},
		{"max_num_delinquencies", &c.MaxDelinquencies},
		{"max_current_loans", &c.MaxCurrentLoans},
		{"requested_amount_min", &c.RequestedMin},
		{"requested_amount_max", &c.RequestedMax},
		{"min_income_debt_ratio", &c.MinIncomeDebtRatio},
		{"compounded_debt_factor", &c.CompoundedDebtFactor},
		{"monthly_debt_relief", &c.MonthlyDebtRelief},
	}

	for _, f := range fields {
		v, ok, err := floatField(r, f.name)
		if err != nil {
			return err
		}
		if ok {
			*f.dst = v
		}
	}

	if raw := r.FormValue("loan_term_months_allowed"); raw != "" {
		terms, err := parseTerms(raw)
		if err != nil {
			return err
		}
		c.AllowedTerms = terms
	}
	return nil
}

// overlayDecisionMode reads exactly one of threshold, target_approval_rate,
// or random_band from the form. Absent all three, a fixed 0.7 threshold is
// used.
func overlayDecisionMode(r *http.Request, policy *domain.RulePolicy) error {
	if v, ok, err := floatField(r, "threshold"); err != nil {
		return err
	} else if ok {
		policy.Mode.Threshold = &v
	}

	if v, ok, err := floatField(r, "target_approval_rate"); err != nil {
		return err
	} else if ok {
		policy.Mode.TargetRate = &v
	}

	if raw := r.FormValue("random_band"); raw != "" {
		band, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%w: random_band must be a boolean", domain.ErrValidation)
		}
		policy.Mode.RandomBand = band
		if seed := r.FormValue("random_seed"); seed != "" {
			s, err := strconv.ParseInt(seed, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: random_seed must be an integer", domain.ErrValidation)
			}
			policy.Mode.RandomSeed = s
		}
	}

	if policy.Mode.Threshold == nil && policy.Mode.TargetRate == nil && !policy.Mode.RandomBand {
		threshold := 0.7
		policy.Mode.Threshold = &threshold
	}
	return nil
}

// floatField reads an optional float form field. The second return value
// reports whether the field was present.
func floatField(r *http.Request, name string) (float64, bool, error) {
	raw := r.FormValue(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s must be a number", domain.ErrValidation, name)
	}
	return v, true, nil
}

// parseTerms parses a comma-joined list of loan terms, e.g. "12,24,36".
func parseTerms(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	terms := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid loan term %q", domain.ErrValidation, p)
		}
		terms = append(terms, n)
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: loan_term_months_allowed is empty", domain.ErrValidation)
	}
	return terms, nil
}
