package rules

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/opencredit/kestrel/internal/domain"
)

// Evaluate scores every record in the batch, resolves the policy's
// decision threshold, and returns the full appraisal. Records at exactly
// the threshold are approved.
func (e *Evaluator) Evaluate(batch *domain.Batch) (*domain.Appraisal, error) {
	scores := make([]float64, 0, batch.Len())
	breakdowns := make([]map[string]bool, 0, batch.Len())

	for i, rec := range batch.Records {
		score, reasons, err := e.Score(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		scores = append(scores, score)
		breakdowns = append(breakdowns, reasons)
	}

	threshold := ResolveThreshold(scores, e.policy.Mode)

	appraisal := &domain.Appraisal{
		Decisions: make([]domain.Decision, 0, batch.Len()),
		Threshold: threshold,
	}
	for i, rec := range batch.Records {
		d := domain.Decision{
			ApplicationID: applicationID(rec),
			Score:         scores[i],
			Reasons:       breakdowns[i],
		}
		if scores[i] >= threshold {
			d.Decision = domain.DecisionApproved
			appraisal.Approved++
		} else {
			d.Decision = domain.DecisionDenied
			appraisal.Denied++
		}
		appraisal.Decisions = append(appraisal.Decisions, d)
	}

	return appraisal, nil
}

// ResolveThreshold picks the cutoff for a batch of scores according to
// the policy's decision mode. The three modes are mutually exclusive,
// enforced by policy validation.
func ResolveThreshold(scores []float64, mode domain.DecisionMode) float64 {
	switch {
	case mode.Threshold != nil:
		return *mode.Threshold
	case mode.TargetRate != nil:
		return targetRateThreshold(scores, *mode.TargetRate)
	default:
		return randomBandThreshold(mode.RandomSeed)
	}
}

// targetRateThreshold returns the highest threshold whose approval rate
// is at least the target: the k-th highest score with k = ceil(target*n).
// Duplicate scores at the cutoff can push the realized rate above the
// target, never below it.
func targetRateThreshold(scores []float64, target float64) float64 {
	n := len(scores)
	if n == 0 {
		return 0
	}

	k := int(target * float64(n))
	if float64(k) < target*float64(n) {
		k++
	}
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}

	sorted := make([]float64, n)
	copy(sorted, scores)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	return sorted[k-1]
}

// randomBandThreshold draws one threshold per batch uniformly from the
// exploration band. Seed 0 means non-reproducible.
func randomBandThreshold(seed int64) float64 {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	return domain.RandomBandLow + rng.Float64()*(domain.RandomBandHigh-domain.RandomBandLow)
}
