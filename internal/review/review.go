// Package review scores human loan-officer reviews against the automated
// decisions of a run and surfaces the mismatches.
package review

import (
	"fmt"
	"sort"

	"github.com/opencredit/kestrel/internal/domain"
)

// ValidDecision reports whether s is an accepted review verdict.
func ValidDecision(s string) bool {
	return s == domain.DecisionApproved || s == domain.DecisionDenied
}

// ValidateRecords checks a review submission before it is persisted.
func ValidateRecords(records []domain.ReviewRecord) error {
	if len(records) == 0 {
		return fmt.Errorf("%w: review submission is empty", domain.ErrValidation)
	}
	seen := make(map[string]bool, len(records))
	for i, r := range records {
		if r.ApplicationID == "" {
			return fmt.Errorf("%w: review %d missing application id", domain.ErrValidation, i)
		}
		if seen[r.ApplicationID] {
			return fmt.Errorf("%w: duplicate review for %s", domain.ErrValidation, r.ApplicationID)
		}
		seen[r.ApplicationID] = true
		if !ValidDecision(r.AIDecision) {
			return fmt.Errorf("%w: review for %s: bad ai decision %q", domain.ErrValidation, r.ApplicationID, r.AIDecision)
		}
		if !ValidDecision(r.HumanDecision) {
			return fmt.Errorf("%w: review for %s: bad human decision %q", domain.ErrValidation, r.ApplicationID, r.HumanDecision)
		}
	}
	return nil
}

// Agreement computes the agreement report for one run's reviews: the
// fraction of reviews where the human verdict matched the automated one,
// plus every mismatch ordered by application id. When the run's decisions
// are supplied, each mismatch carries the automated rule breakdown.
func Agreement(runID string, records []domain.ReviewRecord, decisions []domain.Decision) *domain.AgreementReport {
	reasons := make(map[string]map[string]bool, len(decisions))
	for _, d := range decisions {
		reasons[d.ApplicationID] = d.Reasons
	}

	report := &domain.AgreementReport{
		RunID: runID,
		Total: len(records),
	}

	for _, r := range records {
		if r.AIDecision == r.HumanDecision {
			report.Agreed++
			continue
		}
		report.Disagreed++
		report.Mismatches = append(report.Mismatches, domain.Mismatch{
			ApplicationID: r.ApplicationID,
			AIDecision:    r.AIDecision,
			HumanDecision: r.HumanDecision,
			Rationale:     r.Rationale,
			RuleReasons:   reasons[r.ApplicationID],
		})
	}

	if report.Total > 0 {
		report.Score = float64(report.Agreed) / float64(report.Total)
	}

	sort.Slice(report.Mismatches, func(i, j int) bool {
		return report.Mismatches[i].ApplicationID < report.Mismatches[j].ApplicationID
	})

	return report
}

// SeedFromDecisions pre-populates review records from a run's decisions,
// with the human verdict defaulted to the automated one.
func SeedFromDecisions(runID string, decisions []domain.Decision) []domain.ReviewRecord {
	out := make([]domain.ReviewRecord, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, domain.ReviewRecord{
			RunID:         runID,
			ApplicationID: d.ApplicationID,
			AIDecision:    d.Decision,
			HumanDecision: d.Decision,
		})
	}
	return out
}
