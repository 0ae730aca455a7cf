package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaRuns = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    policy TEXT NOT NULL,
    record_count INTEGER NOT NULL,
    dropped_columns TEXT,
    threshold REAL NOT NULL,
    approved INTEGER NOT NULL,
    denied INTEGER NOT NULL,
    currency_code TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_tenant ON runs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(tenant_id, created_at);
`

const schemaDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    run_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    application_id TEXT NOT NULL,
    decision TEXT NOT NULL,
    score REAL NOT NULL,
    rule_reasons TEXT,
    PRIMARY KEY (run_id, tenant_id, application_id)
);

CREATE INDEX IF NOT EXISTS idx_decisions_run ON decisions(tenant_id, run_id);
CREATE INDEX IF NOT EXISTS idx_decisions_outcome ON decisions(tenant_id, run_id, decision);
`

const schemaPolicies = `
CREATE TABLE IF NOT EXISTS policies (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    kind TEXT NOT NULL,
    body TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_policies_tenant ON policies(tenant_id);
CREATE INDEX IF NOT EXISTS idx_policies_enabled ON policies(tenant_id, enabled);
`

const schemaReviews = `
CREATE TABLE IF NOT EXISTS reviews (
    run_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    application_id TEXT NOT NULL,
    ai_decision TEXT NOT NULL,
    human_decision TEXT NOT NULL,
    rationale TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (run_id, tenant_id, application_id)
);

CREATE INDEX IF NOT EXISTS idx_reviews_run ON reviews(tenant_id, run_id);
`

const schemaAgreements = `
CREATE TABLE IF NOT EXISTS agreements (
    run_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    total INTEGER NOT NULL,
    agreed INTEGER NOT NULL,
    disagreed INTEGER NOT NULL,
    score REAL NOT NULL,
    mismatches TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (run_id, tenant_id)
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRuns,
		schemaDecisions,
		schemaPolicies,
		schemaReviews,
		schemaAgreements,
	}
}
