// Package worker provides async batch processing for the Pro tier.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opencredit/kestrel/internal/appraisal"
	"github.com/opencredit/kestrel/internal/domain"
	"github.com/opencredit/kestrel/internal/tabular"
)

// Worker appraises ingested batches asynchronously from the EventBus.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	pipeline *appraisal.Pipeline

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via the
	// global subscription)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, pipeline *appraisal.Pipeline) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		pipeline: pipeline,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing ingested batches for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicBatchIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts a worker for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicBatchIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processBatch(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicBatchIngested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processBatch(ctx, msg.TenantID, msg)
}

// BatchMessage is the message payload for batch appraisal.
type BatchMessage struct {
	TenantID     string             `json:"tenantId"`
	PolicyID     string             `json:"policyId,omitempty"`
	Policy       *domain.RulePolicy `json:"policy,omitempty"`
	CurrencyCode string             `json:"currencyCode,omitempty"`

	// CSV is the raw applicant batch, headers included.
	CSV []byte `json:"csv"`
}

// processBatch runs one ingested batch through the appraisal pipeline.
func (w *Worker) processBatch(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var batchMsg BatchMessage
	if err := json.Unmarshal(msg.Payload, &batchMsg); err != nil {
		slog.Error("failed to parse batch message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if batchMsg.TenantID != "" {
		tenantID = batchMsg.TenantID
	}

	slog.Debug("processing batch",
		"tenant_id", tenantID,
		"message_id", msg.ID,
	)

	batch, err := tabular.DecodeBatch(bytes.NewReader(batchMsg.CSV))
	if err != nil {
		slog.Error("failed to decode batch",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	policy, err := w.resolvePolicy(ctx, tenantID, &batchMsg)
	if err != nil {
		slog.Error("failed to resolve policy",
			"tenant_id", tenantID,
			"policy_id", batchMsg.PolicyID,
			"error", err,
		)
		return err
	}

	result, err := w.pipeline.Run(ctx, &appraisal.Input{
		TenantID:     tenantID,
		Batch:        batch,
		Policy:       policy,
		CurrencyCode: batchMsg.CurrencyCode,
	})
	if err != nil {
		slog.Error("batch appraisal failed",
			"tenant_id", tenantID,
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	slog.Info("batch processed",
		"run_id", result.Run.ID,
		"tenant_id", tenantID,
		"records", result.Run.RecordCount,
		"approved", result.Run.Approved,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// resolvePolicy picks the policy embedded in the message, a stored policy
// by name, or the classic defaults, in that order.
func (w *Worker) resolvePolicy(ctx context.Context, tenantID string, msg *BatchMessage) (*domain.RulePolicy, error) {
	if msg.Policy != nil {
		return msg.Policy, nil
	}
	if msg.PolicyID != "" && w.repo != nil {
		return w.repo.GetPolicy(ctx, tenantID, msg.PolicyID)
	}
	threshold := 0.7
	return &domain.RulePolicy{
		Name:    "default-classic",
		Kind:    domain.PolicyClassic,
		Classic: domain.DefaultClassicRules(),
		Mode:    domain.DecisionMode{Threshold: &threshold},
		Enabled: true,
	}, nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
