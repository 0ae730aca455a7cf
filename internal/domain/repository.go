package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Run operations
	SaveRun(ctx context.Context, tenantID string, run *Run) error
	GetRun(ctx context.Context, tenantID string, runID string) (*Run, error)
	ListRuns(ctx context.Context, tenantID string, since time.Time) ([]*Run, error)

	// Decision operations (batch-oriented: one run owns its decisions)
	SaveDecisions(ctx context.Context, tenantID string, runID string, decisions []Decision) error
	ListDecisions(ctx context.Context, tenantID string, runID string) ([]Decision, error)

	// Policy operations
	SavePolicy(ctx context.Context, tenantID string, policy *RulePolicy) error
	GetPolicy(ctx context.Context, tenantID string, policyID string) (*RulePolicy, error)
	ListPolicies(ctx context.Context, tenantID string) ([]*RulePolicy, error)
	DeletePolicy(ctx context.Context, tenantID string, policyID string) error

	// Review operations
	SaveReviews(ctx context.Context, tenantID string, reviews []ReviewRecord) error
	ListReviews(ctx context.Context, tenantID string, runID string) ([]ReviewRecord, error)
	SaveAgreement(ctx context.Context, tenantID string, report *AgreementReport) error
	GetAgreement(ctx context.Context, tenantID string, runID string) (*AgreementReport, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `json:"postgresPassword" yaml:"postgresPassword"`
	PostgresDB       string `json:"postgresDb" yaml:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
