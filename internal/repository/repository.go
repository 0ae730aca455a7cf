// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opencredit/kestrel/internal/domain"
)

var ErrInvalidInput = errors.New("invalid input")

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun stores an appraisal run with tenant isolation.
func (r *SQLRepository) SaveRun(ctx context.Context, tenantID string, run *domain.Run) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	policy, err := json.Marshal(run.Policy)
	if err != nil {
		return fmt.Errorf("marshal run policy: %w", err)
	}
	dropped, _ := json.Marshal(run.DroppedColumns)

	query := `
		INSERT INTO runs (
			id, tenant_id, policy, record_count, dropped_columns,
			threshold, approved, denied, currency_code, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		run.ID, tenantID, string(policy), run.RecordCount, string(dropped),
		run.Threshold, run.Approved, run.Denied, run.CurrencyCode, run.CreatedAt,
	)
	return err
}

// GetRun retrieves a run by ID with tenant isolation.
func (r *SQLRepository) GetRun(ctx context.Context, tenantID string, runID string) (*domain.Run, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, policy, record_count, dropped_columns,
			   threshold, approved, denied, currency_code, created_at
		FROM runs
		WHERE tenant_id = ? AND id = ?
	`

	run, err := scanRun(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return run, err
}

// ListRuns retrieves runs created at or after since, newest first.
func (r *SQLRepository) ListRuns(ctx context.Context, tenantID string, since time.Time) ([]*domain.Run, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, policy, record_count, dropped_columns,
			   threshold, approved, denied, currency_code, created_at
		FROM runs
		WHERE tenant_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var policy, dropped string

	err := row.Scan(
		&run.ID, &run.TenantID, &policy, &run.RecordCount, &dropped,
		&run.Threshold, &run.Approved, &run.Denied, &run.CurrencyCode, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(policy), &run.Policy); err != nil {
		return nil, fmt.Errorf("failed to parse run policy: %w", err)
	}
	if dropped != "" {
		json.Unmarshal([]byte(dropped), &run.DroppedColumns)
	}

	return &run, nil
}

// SaveDecisions stores a run's decisions in one transaction.
func (r *SQLRepository) SaveDecisions(ctx context.Context, tenantID string, runID string, decisions []domain.Decision) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := r.rebind(`
		INSERT INTO decisions (run_id, tenant_id, application_id, decision, score, rule_reasons)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range decisions {
		reasons, _ := json.Marshal(d.Reasons)
		if _, err := stmt.ExecContext(ctx, runID, tenantID, d.ApplicationID, d.Decision, d.Score, string(reasons)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListDecisions retrieves all decisions of a run in application order.
func (r *SQLRepository) ListDecisions(ctx context.Context, tenantID string, runID string) ([]domain.Decision, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT application_id, decision, score, rule_reasons
		FROM decisions
		WHERE tenant_id = ? AND run_id = ?
		ORDER BY application_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []domain.Decision
	for rows.Next() {
		var d domain.Decision
		var reasons string
		if err := rows.Scan(&d.ApplicationID, &d.Decision, &d.Score, &reasons); err != nil {
			return nil, err
		}
		if reasons != "" {
			json.Unmarshal([]byte(reasons), &d.Reasons)
		}
		decisions = append(decisions, d)
	}

	return decisions, rows.Err()
}

// SavePolicy upserts a rule policy with tenant isolation.
func (r *SQLRepository) SavePolicy(ctx context.Context, tenantID string, policy *domain.RulePolicy) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	body, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}

	enabled := 0
	if policy.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO policies (
			id, tenant_id, name, description, kind, body, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			kind = excluded.kind,
			body = excluded.body,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		policy.ID, tenantID, policy.Name, policy.Description,
		string(policy.Kind), string(body), enabled, now, now,
	)
	return err
}

// GetPolicy retrieves an enabled policy by ID with tenant isolation.
func (r *SQLRepository) GetPolicy(ctx context.Context, tenantID string, policyID string) (*domain.RulePolicy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT body, enabled, created_at, updated_at
		FROM policies
		WHERE tenant_id = ? AND id = ? AND enabled = 1
	`

	var body string
	var enabled int
	var createdAt, updatedAt time.Time

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, policyID).Scan(
		&body, &enabled, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var policy domain.RulePolicy
	if err := json.Unmarshal([]byte(body), &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy body: %w", err)
	}
	policy.TenantID = tenantID
	policy.Enabled = enabled == 1
	policy.CreatedAt = createdAt
	policy.UpdatedAt = updatedAt

	return &policy, nil
}

// ListPolicies retrieves all enabled policies for a tenant, by name.
func (r *SQLRepository) ListPolicies(ctx context.Context, tenantID string) ([]*domain.RulePolicy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT body, enabled, created_at, updated_at
		FROM policies
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*domain.RulePolicy
	for rows.Next() {
		var body string
		var enabled int
		var createdAt, updatedAt time.Time

		if err := rows.Scan(&body, &enabled, &createdAt, &updatedAt); err != nil {
			return nil, err
		}

		var policy domain.RulePolicy
		if err := json.Unmarshal([]byte(body), &policy); err != nil {
			return nil, fmt.Errorf("failed to parse policy body: %w", err)
		}
		policy.TenantID = tenantID
		policy.Enabled = enabled == 1
		policy.CreatedAt = createdAt
		policy.UpdatedAt = updatedAt
		policies = append(policies, &policy)
	}

	return policies, rows.Err()
}

// DeletePolicy soft-deletes a policy by setting enabled = 0.
func (r *SQLRepository) DeletePolicy(ctx context.Context, tenantID string, policyID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE policies
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, policyID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// SaveReviews upserts a batch of review records in one transaction.
// Re-submitting a review for the same application overwrites it.
func (r *SQLRepository) SaveReviews(ctx context.Context, tenantID string, reviews []domain.ReviewRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := r.rebind(`
		INSERT INTO reviews (run_id, tenant_id, application_id, ai_decision, human_decision, rationale, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, tenant_id, application_id) DO UPDATE SET
			ai_decision = excluded.ai_decision,
			human_decision = excluded.human_decision,
			rationale = excluded.rationale,
			created_at = excluded.created_at
	`)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, rev := range reviews {
		createdAt := rev.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := stmt.ExecContext(ctx,
			rev.RunID, tenantID, rev.ApplicationID,
			rev.AIDecision, rev.HumanDecision, rev.Rationale, createdAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListReviews retrieves all reviews of a run in application order.
func (r *SQLRepository) ListReviews(ctx context.Context, tenantID string, runID string) ([]domain.ReviewRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT run_id, application_id, ai_decision, human_decision, rationale, created_at
		FROM reviews
		WHERE tenant_id = ? AND run_id = ?
		ORDER BY application_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []domain.ReviewRecord
	for rows.Next() {
		var rev domain.ReviewRecord
		if err := rows.Scan(
			&rev.RunID, &rev.ApplicationID,
			&rev.AIDecision, &rev.HumanDecision, &rev.Rationale, &rev.CreatedAt,
		); err != nil {
			return nil, err
		}
		reviews = append(reviews, rev)
	}

	return reviews, rows.Err()
}

// SaveAgreement upserts a run's agreement report.
func (r *SQLRepository) SaveAgreement(ctx context.Context, tenantID string, report *domain.AgreementReport) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	mismatches, _ := json.Marshal(report.Mismatches)

	query := `
		INSERT INTO agreements (run_id, tenant_id, total, agreed, disagreed, score, mismatches, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, tenant_id) DO UPDATE SET
			total = excluded.total,
			agreed = excluded.agreed,
			disagreed = excluded.disagreed,
			score = excluded.score,
			mismatches = excluded.mismatches,
			created_at = excluded.created_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		report.RunID, tenantID, report.Total, report.Agreed, report.Disagreed,
		report.Score, string(mismatches), time.Now().UTC(),
	)
	return err
}

// GetAgreement retrieves a run's agreement report.
func (r *SQLRepository) GetAgreement(ctx context.Context, tenantID string, runID string) (*domain.AgreementReport, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT run_id, total, agreed, disagreed, score, mismatches
		FROM agreements
		WHERE tenant_id = ? AND run_id = ?
	`

	var report domain.AgreementReport
	var mismatches string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, runID).Scan(
		&report.RunID, &report.Total, &report.Agreed, &report.Disagreed,
		&report.Score, &mismatches,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if mismatches != "" {
		json.Unmarshal([]byte(mismatches), &report.Mismatches)
	}

	return &report, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
