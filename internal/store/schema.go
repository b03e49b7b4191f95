package store

// Schema definitions for Kestrel's database.
// Compatible with both SQLite and PostgreSQL.

const schemaOperators = `
CREATE TABLE IF NOT EXISTS operators (
    cpf TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    hire_date TIMESTAMP,
    status TEXT NOT NULL DEFAULT 'ACTIVE'
);
`

const schemaSales = `
CREATE TABLE IF NOT EXISTS sales (
    id TEXT PRIMARY KEY,
    operator_cpf TEXT NOT NULL,
    pdv TEXT NOT NULL,
    total_amount DECIMAL(10,2) NOT NULL,
    customer_cpf TEXT,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sales_operator ON sales(operator_cpf);
CREATE INDEX IF NOT EXISTS idx_sales_pdv_ts ON sales(pdv, timestamp);
CREATE INDEX IF NOT EXISTS idx_sales_timestamp ON sales(timestamp);
CREATE INDEX IF NOT EXISTS idx_sales_customer ON sales(customer_cpf);
`

const schemaCancellations = `
CREATE TABLE IF NOT EXISTS cancellations (
    id TEXT PRIMARY KEY,
    sale_id TEXT NOT NULL,
    operator_cpf TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    reason TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cancellations_sale ON cancellations(sale_id);
CREATE INDEX IF NOT EXISTS idx_cancellations_timestamp ON cancellations(timestamp);
`

const schemaDrawerEvents = `
CREATE TABLE IF NOT EXISTS drawer_events (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    operator_cpf TEXT NOT NULL,
    pdv TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_drawer_events_kind_ts ON drawer_events(kind, timestamp);
CREATE INDEX IF NOT EXISTS idx_drawer_events_operator ON drawer_events(operator_cpf);
`

const schemaAuthorizations = `
CREATE TABLE IF NOT EXISTS authorizations (
    id TEXT PRIMARY KEY,
    code TEXT NOT NULL,
    operator_cpf TEXT NOT NULL,
    pdv TEXT NOT NULL,
    amount DECIMAL(10,2) NOT NULL,
    status TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_authorizations_status_ts ON authorizations(status, timestamp);
`

const schemaCashCounts = `
CREATE TABLE IF NOT EXISTS cash_counts (
    id INTEGER PRIMARY KEY,
    pdv TEXT NOT NULL,
    expected DECIMAL(10,2) NOT NULL,
    actual DECIMAL(10,2) NOT NULL,
    discrepancy DECIMAL(10,2) NOT NULL,
    count_date TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cash_counts_date ON cash_counts(count_date);
`

const schemaFraudAlerts = `
CREATE TABLE IF NOT EXISTS fraud_alerts (
    id TEXT PRIMARY KEY,
    alert_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    operator_cpf TEXT NOT NULL,
    operator_name TEXT,
    pdv TEXT,
    sale_id TEXT,
    cancellation_id TEXT,
    amount DECIMAL(10,2),
    risk_score INTEGER NOT NULL,
    evidence TEXT NOT NULL,
    investigation TEXT NOT NULL DEFAULT 'PENDING',
    notes TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_alerts_type ON fraud_alerts(alert_type);
CREATE INDEX IF NOT EXISTS idx_fraud_alerts_operator ON fraud_alerts(operator_cpf);
CREATE INDEX IF NOT EXISTS idx_fraud_alerts_severity ON fraud_alerts(severity);
CREATE INDEX IF NOT EXISTS idx_fraud_alerts_created ON fraud_alerts(created_at);
`

const schemaRiskScores = `
CREATE TABLE IF NOT EXISTS operator_risk_scores (
    operator_cpf TEXT PRIMARY KEY,
    operator_name TEXT,
    total_score INTEGER NOT NULL,
    risk_level TEXT NOT NULL,
    ghost_cancellations INTEGER NOT NULL DEFAULT 0,
    pbm_deviations INTEGER NOT NULL DEFAULT 0,
    no_sale_openings INTEGER NOT NULL DEFAULT 0,
    cpf_abuses INTEGER NOT NULL DEFAULT 0,
    cash_discrepancies INTEGER NOT NULL DEFAULT 0,
    calculated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_scores_level ON operator_risk_scores(risk_level);
`

const schemaSyncRuns = `
CREATE TABLE IF NOT EXISTS sync_runs (
    sync_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL,
    records_fetched INTEGER NOT NULL,
    records_processed INTEGER NOT NULL,
    records_inserted INTEGER NOT NULL,
    records_updated INTEGER NOT NULL,
    records_skipped INTEGER NOT NULL,
    duplicates_found INTEGER NOT NULL,
    error_count INTEGER NOT NULL,
    source_type TEXT,
    full_sync INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);
`

const schemaSyncErrors = `
CREATE TABLE IF NOT EXISTS sync_errors (
    sync_id TEXT NOT NULL,
    record_id TEXT,
    message TEXT NOT NULL,
    occurred_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_errors_sync ON sync_errors(sync_id);
`

const schemaDetectionRuns = `
CREATE TABLE IF NOT EXISTS detection_runs (
    run_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL,
    total_alerts INTEGER NOT NULL,
    suppressed INTEGER NOT NULL DEFAULT 0,
    errors TEXT,
    sync_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_detection_runs_started ON detection_runs(started_at);
`

const schemaDedupKeys = `
CREATE TABLE IF NOT EXISTS dedup_keys (
    key TEXT PRIMARY KEY,
    sync_id TEXT NOT NULL,
    pdv TEXT NOT NULL,
    operator_cpf TEXT NOT NULL,
    amount DECIMAL(10,2) NOT NULL,
    bucket TIMESTAMP NOT NULL,
    reference TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dedup_keys_created ON dedup_keys(created_at);
`

const schemaSuppressionRules = `
CREATE TABLE IF NOT EXISTS suppression_rules (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_suppression_rules_enabled ON suppression_rules(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaOperators,
		schemaSales,
		schemaCancellations,
		schemaDrawerEvents,
		schemaAuthorizations,
		schemaCashCounts,
		schemaFraudAlerts,
		schemaRiskScores,
		schemaSyncRuns,
		schemaSyncErrors,
		schemaDetectionRuns,
		schemaDedupKeys,
		schemaSuppressionRules,
	}
}
