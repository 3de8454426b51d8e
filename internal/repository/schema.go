package repository

// Schema definitions for the FuelGuard database.
// Compatible with both SQLite and PostgreSQL.
// Timestamps are stored as unix milliseconds.

const schemaFraudCases = `
CREATE TABLE IF NOT EXISTS fraud_cases (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    severity TEXT NOT NULL,
    status TEXT NOT NULL,
    location TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    estimated_loss DOUBLE PRECISION NOT NULL DEFAULT 0,
    detected_at BIGINT NOT NULL,
    resolved_at BIGINT,
    data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_cases_type ON fraud_cases(type, detected_at);
CREATE INDEX IF NOT EXISTS idx_fraud_cases_status ON fraud_cases(status);
CREATE INDEX IF NOT EXISTS idx_fraud_cases_location ON fraud_cases(location);
CREATE INDEX IF NOT EXISTS idx_fraud_cases_resolved ON fraud_cases(resolved_at);
`

const schemaOperationalRecords = `
CREATE TABLE IF NOT EXISTS operational_records (
    id TEXT NOT NULL,
    kind TEXT NOT NULL,
    location TEXT NOT NULL,
    subject TEXT NOT NULL,
    occurred_at BIGINT NOT NULL,
    payload TEXT NOT NULL,
    PRIMARY KEY (kind, id)
);

CREATE INDEX IF NOT EXISTS idx_operational_records_time ON operational_records(kind, occurred_at);
CREATE INDEX IF NOT EXISTS idx_operational_records_subject ON operational_records(kind, subject, occurred_at);
`

const schemaFraudRules = `
CREATE TABLE IF NOT EXISTS fraud_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    domain TEXT NOT NULL,
    expression TEXT NOT NULL,
    weight DOUBLE PRECISION NOT NULL DEFAULT 0.1,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0.8,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_rules_domain ON fraud_rules(domain, enabled);
`

const schemaFraudPatterns = `
CREATE TABLE IF NOT EXISTS fraud_patterns (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    category TEXT NOT NULL,
    indicators TEXT NOT NULL,
    risk_score DOUBLE PRECISION NOT NULL,
    frequency INTEGER NOT NULL DEFAULT 0,
    last_detected BIGINT,
    updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_patterns_category ON fraud_patterns(category);
`

// schemaTrainingData holds labelled feature vectors. Only validated rows
// are used when fitting models at startup.
const schemaTrainingData = `
CREATE TABLE IF NOT EXISTS training_data (
    id TEXT PRIMARY KEY,
    category TEXT NOT NULL,
    features TEXT NOT NULL,
    label INTEGER NOT NULL,
    validated INTEGER NOT NULL DEFAULT 0,
    created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_training_data_category ON training_data(category, validated);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaFraudCases,
		schemaOperationalRecords,
		schemaFraudRules,
		schemaFraudPatterns,
		schemaTrainingData,
	}
}
