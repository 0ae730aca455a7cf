// Package appraisal orchestrates the credit appraisal pipeline: PII
// sanitization, schema normalization, metric derivation, and rule
// evaluation, with results persisted and announced on the event bus.
package appraisal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opencredit/kestrel/internal/domain"
	"github.com/opencredit/kestrel/internal/metrics"
	"github.com/opencredit/kestrel/internal/rules"
	"github.com/opencredit/kestrel/internal/sanitize"
	"github.com/opencredit/kestrel/internal/schema"
)

// Pipeline runs appraisal batches end to end.
type Pipeline struct {
	repo   domain.Repository
	cache  domain.Cache
	bus    domain.EventBus
	tracer trace.Tracer
}

// NewPipeline wires the pipeline to its backends. Any of them may be nil
// in tests; persistence and events are skipped for nil backends.
func NewPipeline(repo domain.Repository, cache domain.Cache, bus domain.EventBus) *Pipeline {
	return &Pipeline{
		repo:   repo,
		cache:  cache,
		bus:    bus,
		tracer: otel.Tracer("kestrel/appraisal"),
	}
}

// Input is one appraisal request.
type Input struct {
	TenantID     string
	Batch        *domain.Batch
	Policy       *domain.RulePolicy
	CurrencyCode string
}

// Result is the outcome of a pipeline run.
type Result struct {
	Run       *domain.Run
	Decisions []domain.Decision

	// DroppedColumns lists the PII and policy-banned columns removed
	// before evaluation, sorted.
	DroppedColumns []string
}

// AppraisedEvent is the bus payload published after each run.
type AppraisedEvent struct {
	RunID       string  `json:"run_id"`
	TenantID    string  `json:"tenant_id"`
	RecordCount int     `json:"record_count"`
	Approved    int     `json:"approved"`
	Denied      int     `json:"denied"`
	Threshold   float64 `json:"threshold"`
}

// Run executes the full pipeline on one batch.
func (p *Pipeline) Run(ctx context.Context, in *Input) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "appraisal.Run")
	defer span.End()

	if in.TenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}
	if in.Batch == nil || in.Batch.Len() == 0 {
		return nil, fmt.Errorf("%w: batch is empty", domain.ErrValidation)
	}
	if in.Policy == nil {
		return nil, fmt.Errorf("%w: policy is required", domain.ErrConfiguration)
	}

	start := time.Now()

	// 1. Strip PII columns and scrub free-text values.
	clean, dropped := sanitize.Sanitize(in.Batch)

	// 2. Normalize to the canonical appraisal schema.
	normalized := schema.Normalize(clean)

	// 3. Derive the risk metric columns.
	metrics.DeriveBatch(normalized)

	// 4. Evaluate the policy.
	evaluator, err := rules.NewEvaluator(in.Policy)
	if err != nil {
		return nil, err
	}
	appraised, err := evaluator.Evaluate(normalized)
	if err != nil {
		return nil, err
	}

	run := &domain.Run{
		ID:             uuid.New().String(),
		TenantID:       in.TenantID,
		Policy:         *in.Policy,
		RecordCount:    normalized.Len(),
		DroppedColumns: dropped,
		Threshold:      appraised.Threshold,
		Approved:       appraised.Approved,
		Denied:         appraised.Denied,
		CurrencyCode:   in.CurrencyCode,
		CreatedAt:      time.Now().UTC(),
	}

	span.SetAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int("run.records", run.RecordCount),
		attribute.Int("run.approved", run.Approved),
	)

	// 5. Persist.
	if p.repo != nil {
		if err := p.repo.SaveRun(ctx, in.TenantID, run); err != nil {
			return nil, fmt.Errorf("save run: %w", err)
		}
		if err := p.repo.SaveDecisions(ctx, in.TenantID, run.ID, appraised.Decisions); err != nil {
			return nil, fmt.Errorf("save decisions: %w", err)
		}
	}

	// Per-tenant daily appraisal counter.
	if p.cache != nil {
		if _, err := p.cache.IncrementCounter(ctx, in.TenantID, "appraisal_runs", 24*time.Hour); err != nil {
			slog.Warn("failed to bump appraisal counter",
				"tenant_id", in.TenantID,
				"error", err,
			)
		}
	}

	// 6. Announce.
	if p.bus != nil {
		payload, _ := json.Marshal(AppraisedEvent{
			RunID:       run.ID,
			TenantID:    in.TenantID,
			RecordCount: run.RecordCount,
			Approved:    run.Approved,
			Denied:      run.Denied,
			Threshold:   run.Threshold,
		})
		if err := p.bus.Publish(ctx, in.TenantID, domain.TopicBatchAppraised, payload); err != nil {
			slog.Error("failed to publish appraisal event",
				"run_id", run.ID,
				"error", err,
			)
		}
	}

	slog.Info("batch appraised",
		"run_id", run.ID,
		"tenant_id", in.TenantID,
		"records", run.RecordCount,
		"approved", run.Approved,
		"denied", run.Denied,
		"threshold", run.Threshold,
		"dropped_columns", len(dropped),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Result{
		Run:            run,
		Decisions:      appraised.Decisions,
		DroppedColumns: dropped,
	}, nil
}
