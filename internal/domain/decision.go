package domain

import (
	"time"
)

// Decision is the outcome of evaluating one record against a policy.
// Reasons maps each evaluated rule name to whether the record passed it.
type Decision struct {
	ApplicationID string          `json:"application_id"`
	Decision      string          `json:"decision"` // "approved" or "denied"
	Score         float64         `json:"score"`    // fraction of predicates passed
	Reasons       map[string]bool `json:"rule_reasons"`
}

// Decision outcomes.
const (
	DecisionApproved = "approved"
	DecisionDenied   = "denied"
)

// Approved reports whether the decision is an approval.
func (d *Decision) Approved() bool {
	return d.Decision == DecisionApproved
}

// FailedRules returns the names of rules the record failed, unsorted.
func (d *Decision) FailedRules() []string {
	var out []string
	for name, passed := range d.Reasons {
		if !passed {
			out = append(out, name)
		}
	}
	return out
}

// Appraisal is the batch-level evaluation result: one decision per input
// record plus the resolved threshold and mode bookkeeping.
type Appraisal struct {
	Decisions []Decision `json:"decisions"`

	// Threshold actually applied to scores. In fixed mode this is the
	// configured value; in target-rate and random-band modes it is the
	// batch-resolved value.
	Threshold float64 `json:"threshold"`

	Approved int `json:"approved"`
	Denied   int `json:"denied"`
}

// ApprovalRate returns the realized approval fraction, 0 for empty batches.
func (a *Appraisal) ApprovalRate() float64 {
	n := len(a.Decisions)
	if n == 0 {
		return 0
	}
	return float64(a.Approved) / float64(n)
}

// Run records one appraisal request end to end: the sanitized input shape,
// the policy applied, and the batch outcome. Persisted for report retrieval
// and the review stage.
type Run struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	Policy         RulePolicy `json:"policy"`
	RecordCount    int        `json:"recordCount"`
	DroppedColumns []string   `json:"droppedColumns,omitempty"`

	Threshold    float64 `json:"threshold"`
	Approved     int     `json:"approved"`
	Denied       int     `json:"denied"`
	CurrencyCode string  `json:"currencyCode,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// ReviewRecord pairs an AI decision with a human-entered decision and
// rationale. It never mutates the original decision.
type ReviewRecord struct {
	RunID         string    `json:"runId"`
	ApplicationID string    `json:"application_id"`
	AIDecision    string    `json:"ai_decision"`
	HumanDecision string    `json:"human_decision"`
	Rationale     string    `json:"rationale,omitempty"`
	CreatedAt     time.Time `json:"createdAt,omitempty"`
}

// AgreementReport summarizes AI/human agreement over a reviewed run.
type AgreementReport struct {
	RunID     string  `json:"runId"`
	Total     int     `json:"total"`
	Agreed    int     `json:"agreed"`
	Disagreed int     `json:"disagreed"`
	Score     float64 `json:"score"` // agreed / total, 0 for empty

	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

// Mismatch is one AI/human disagreement with the AI's rule breakdown.
type Mismatch struct {
	ApplicationID string          `json:"application_id"`
	AIDecision    string          `json:"ai_decision"`
	HumanDecision string          `json:"human_decision"`
	Rationale     string          `json:"rationale,omitempty"`
	RuleReasons   map[string]bool `json:"rule_reasons,omitempty"`
}
