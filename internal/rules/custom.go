package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opencredit/kestrel/internal/domain"
)

// compiledRule pairs a custom rule with its compiled CEL program.
type compiledRule struct {
	name    string
	program cel.Program
}

// celEnv builds the CEL environment custom rules are compiled against.
// The full record is available as `rec`, and the common applicant fields
// are bound as typed top-level variables for readable expressions like
// `income / (requested_amount + 1.0) > 0.1`.
func celEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("rec", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("income", cel.DoubleType),
		cel.Variable("requested_amount", cel.DoubleType),
		cel.Variable("existing_debt", cel.DoubleType),
		cel.Variable("collateral_value", cel.DoubleType),
		cel.Variable("debt_to_income", cel.DoubleType),
		cel.Variable("employment_years", cel.DoubleType),
		cel.Variable("credit_history_length", cel.DoubleType),
		cel.Variable("num_delinquencies", cel.DoubleType),
		cel.Variable("current_loans", cel.DoubleType),
		cel.Variable("loan_term_months", cel.IntType),
		cel.Variable("customer_type", cel.StringType),
		cel.Variable("dti", cel.DoubleType),
		cel.Variable("ltv", cel.DoubleType),
		cel.Variable("ccr", cel.DoubleType),
		cel.Variable("iti", cel.DoubleType),
		cel.Variable("cwi", cel.DoubleType),
	)
}

// compileRules compiles every custom rule, rejecting expressions that do
// not produce a boolean.
func compileRules(rules []domain.CustomRule) ([]compiledRule, error) {
	env, err := celEnv()
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}

	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("%w: rule %q: %v", domain.ErrConfiguration, r.Name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("%w: rule %q: expression must return bool, got %s",
				domain.ErrConfiguration, r.Name, ast.OutputType())
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q: %v", domain.ErrConfiguration, r.Name, err)
		}
		compiled = append(compiled, compiledRule{name: r.Name, program: program})
	}
	return compiled, nil
}

// scoreCustom runs every compiled program against the record's activation.
// An expression that errors at runtime counts as a failed rule rather
// than aborting the batch.
func (e *Evaluator) scoreCustom(rec domain.Record) (map[string]bool, error) {
	activation := activationFor(rec)

	reasons := make(map[string]bool, len(e.programs))
	for _, p := range e.programs {
		out, _, err := p.program.Eval(activation)
		if err != nil {
			reasons[p.name] = false
			continue
		}
		b, ok := out.(types.Bool)
		reasons[p.name] = ok && bool(b)
	}
	return reasons, nil
}

func activationFor(rec domain.Record) map[string]any {
	return map[string]any{
		"rec":                   map[string]any(rec),
		"income":                rec.Float(domain.FieldIncome),
		"requested_amount":      requestedAmount(rec),
		"existing_debt":         rec.Float(domain.FieldExistingDebt),
		"collateral_value":      rec.Float(domain.FieldCollateralValue),
		"debt_to_income":        debtToIncome(rec),
		"employment_years":      rec.Float(domain.FieldEmploymentYears),
		"credit_history_length": rec.Float(domain.FieldCreditHistoryLength),
		"num_delinquencies":     rec.Float(domain.FieldNumDelinquencies),
		"current_loans":         rec.Float(domain.FieldCurrentLoans),
		"loan_term_months":      int64(rec.Int(domain.FieldLoanTermMonths)),
		"customer_type":         rec.String(domain.FieldCustomerType),
		"dti":                   rec.Float(domain.FieldDTI),
		"ltv":                   rec.Float(domain.FieldLTV),
		"ccr":                   rec.Float(domain.FieldCCR),
		"iti":                   rec.Float(domain.FieldITI),
		"cwi":                   rec.Float(domain.FieldCWI),
	}
}
