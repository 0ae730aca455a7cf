package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opencredit/kestrel/internal/domain"
)

func f64(v float64) *float64 { return &v }

func TestSQLiteRepository(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetRun", func(t *testing.T) {
		run := &domain.Run{
			ID:       "run-001",
			TenantID: tenantID,
			Policy: domain.RulePolicy{
				ID:      "pol-001",
				Name:    "default classic",
				Kind:    domain.PolicyClassic,
				Classic: domain.DefaultClassicRules(),
				Mode:    domain.DecisionMode{Threshold: f64(0.8)},
				Enabled: true,
			},
			RecordCount:    120,
			DroppedColumns: []string{"email", "phone"},
			Threshold:      0.8,
			Approved:       90,
			Denied:         30,
			CurrencyCode:   "USD",
			CreatedAt:      time.Now().UTC(),
		}

		if err := repo.SaveRun(ctx, tenantID, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		retrieved, err := repo.GetRun(ctx, tenantID, run.ID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}

		if retrieved.ID != run.ID {
			t.Errorf("expected ID %s, got %s", run.ID, retrieved.ID)
		}
		if retrieved.Approved != run.Approved {
			t.Errorf("expected Approved %d, got %d", run.Approved, retrieved.Approved)
		}
		if retrieved.Policy.Kind != domain.PolicyClassic {
			t.Errorf("expected policy kind classic, got %s", retrieved.Policy.Kind)
		}
		if len(retrieved.DroppedColumns) != 2 {
			t.Errorf("expected 2 dropped columns, got %v", retrieved.DroppedColumns)
		}
	})

	t.Run("ListRuns", func(t *testing.T) {
		since := time.Now().Add(-1 * time.Hour)
		runs, err := repo.ListRuns(ctx, tenantID, since)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(runs) != 1 {
			t.Errorf("expected 1 run, got %d", len(runs))
		}
	})

	t.Run("SaveAndListDecisions", func(t *testing.T) {
		decisions := []domain.Decision{
			{ApplicationID: "APP_0001", Decision: "approved", Score: 1.0, Reasons: map[string]bool{"dti": true}},
			{ApplicationID: "APP_0002", Decision: "denied", Score: 0.55, Reasons: map[string]bool{"dti": false}},
		}

		if err := repo.SaveDecisions(ctx, tenantID, "run-001", decisions); err != nil {
			t.Fatalf("SaveDecisions failed: %v", err)
		}

		retrieved, err := repo.ListDecisions(ctx, tenantID, "run-001")
		if err != nil {
			t.Fatalf("ListDecisions failed: %v", err)
		}
		if len(retrieved) != 2 {
			t.Fatalf("expected 2 decisions, got %d", len(retrieved))
		}
		if retrieved[0].ApplicationID != "APP_0001" {
			t.Errorf("expected APP_0001 first, got %s", retrieved[0].ApplicationID)
		}
		if retrieved[1].Reasons["dti"] {
			t.Error("expected dti=false for APP_0002")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		otherTenant := "tenant-002"

		_, err := repo.GetRun(ctx, otherTenant, "run-001")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}

		decisions, err := repo.ListDecisions(ctx, otherTenant, "run-001")
		if err != nil {
			t.Fatalf("ListDecisions failed: %v", err)
		}
		if len(decisions) != 0 {
			t.Errorf("expected no decisions for different tenant, got %d", len(decisions))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := repo.SaveRun(ctx, "", &domain.Run{ID: "run-x"}); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := repo.GetRun(ctx, "", "run-001"); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("PolicyLifecycle", func(t *testing.T) {
		policy := &domain.RulePolicy{
			ID:      "pol-ndi",
			Name:    "ndi baseline",
			Kind:    domain.PolicyNDI,
			NDI:     domain.DefaultNDIRules(),
			Mode:    domain.DecisionMode{TargetRate: f64(0.4)},
			Enabled: true,
		}

		if err := repo.SavePolicy(ctx, tenantID, policy); err != nil {
			t.Fatalf("SavePolicy failed: %v", err)
		}

		retrieved, err := repo.GetPolicy(ctx, tenantID, "pol-ndi")
		if err != nil {
			t.Fatalf("GetPolicy failed: %v", err)
		}
		if retrieved.Kind != domain.PolicyNDI || retrieved.NDI == nil {
			t.Errorf("policy round-trip lost NDI config: %+v", retrieved)
		}
		if retrieved.Mode.TargetRate == nil || *retrieved.Mode.TargetRate != 0.4 {
			t.Errorf("policy round-trip lost target rate: %+v", retrieved.Mode)
		}

		// Upsert overwrites.
		policy.Name = "ndi updated"
		if err := repo.SavePolicy(ctx, tenantID, policy); err != nil {
			t.Fatalf("SavePolicy upsert failed: %v", err)
		}
		policies, err := repo.ListPolicies(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListPolicies failed: %v", err)
		}
		if len(policies) != 1 {
			t.Fatalf("expected 1 policy after upsert, got %d", len(policies))
		}
		if policies[0].Name != "ndi updated" {
			t.Errorf("expected updated name, got %s", policies[0].Name)
		}

		if err := repo.DeletePolicy(ctx, tenantID, "pol-ndi"); err != nil {
			t.Fatalf("DeletePolicy failed: %v", err)
		}
		if _, err := repo.GetPolicy(ctx, tenantID, "pol-ndi"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got: %v", err)
		}
	})

	t.Run("ReviewsAndAgreement", func(t *testing.T) {
		reviews := []domain.ReviewRecord{
			{RunID: "run-001", ApplicationID: "APP_0001", AIDecision: "approved", HumanDecision: "approved"},
			{RunID: "run-001", ApplicationID: "APP_0002", AIDecision: "denied", HumanDecision: "approved", Rationale: "strong collateral"},
		}

		if err := repo.SaveReviews(ctx, tenantID, reviews); err != nil {
			t.Fatalf("SaveReviews failed: %v", err)
		}

		// Re-submit overwrites rather than duplicating.
		reviews[1].Rationale = "manager override"
		if err := repo.SaveReviews(ctx, tenantID, reviews); err != nil {
			t.Fatalf("SaveReviews upsert failed: %v", err)
		}

		retrieved, err := repo.ListReviews(ctx, tenantID, "run-001")
		if err != nil {
			t.Fatalf("ListReviews failed: %v", err)
		}
		if len(retrieved) != 2 {
			t.Fatalf("expected 2 reviews, got %d", len(retrieved))
		}
		if retrieved[1].Rationale != "manager override" {
			t.Errorf("expected upserted rationale, got %q", retrieved[1].Rationale)
		}

		report := &domain.AgreementReport{
			RunID:     "run-001",
			Total:     2,
			Agreed:    1,
			Disagreed: 1,
			Score:     0.5,
			Mismatches: []domain.Mismatch{
				{ApplicationID: "APP_0002", AIDecision: "denied", HumanDecision: "approved"},
			},
		}
		if err := repo.SaveAgreement(ctx, tenantID, report); err != nil {
			t.Fatalf("SaveAgreement failed: %v", err)
		}

		got, err := repo.GetAgreement(ctx, tenantID, "run-001")
		if err != nil {
			t.Fatalf("GetAgreement failed: %v", err)
		}
		if got.Score != 0.5 || len(got.Mismatches) != 1 {
			t.Errorf("agreement round-trip mismatch: %+v", got)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetRun(ctx, tenantID, "nonexistent"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetAgreement(ctx, tenantID, "nonexistent"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
