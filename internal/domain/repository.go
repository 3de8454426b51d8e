// Package domain defines the core types and interfaces for FuelGuard.
package domain

import (
	"context"
	"time"
)

// CaseStore persists fraud cases.
type CaseStore interface {
	InsertCase(ctx context.Context, c *FraudCase) error
	GetCase(ctx context.Context, id string) (*FraudCase, error)
	ListCases(ctx context.Context, filter CaseFilter) ([]*FraudCase, error)

	// UpdateCaseStatus moves a case from one status to another. It fails when
	// the stored status is no longer from.
	UpdateCaseStatus(ctx context.Context, id string, from, to CaseStatus, resolvedAt *time.Time) error

	// ListResolvedCases returns cases that reached a terminal status at or after since.
	ListResolvedCases(ctx context.Context, since time.Time) ([]*FraudCase, error)
}

// RecordStore persists operational records for background scans and history lookups.
type RecordStore interface {
	SaveRecord(ctx context.Context, rec *StoredRecord) error
	ListRecords(ctx context.Context, kind string, since time.Time) ([]*StoredRecord, error)
	ListRecordsBySubject(ctx context.Context, kind, subject string, since time.Time) ([]*StoredRecord, error)
}

// RuleStore is the source of rule definitions for the rule engine.
type RuleStore interface {
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)
}

// PatternStore is the source of the known fraud pattern library.
type PatternStore interface {
	SavePattern(ctx context.Context, p *FraudPattern) error
	ListPatterns(ctx context.Context) ([]*FraudPattern, error)
}

// TrainingStore holds labelled feature vectors for model fitting.
type TrainingStore interface {
	SaveTrainingRecord(ctx context.Context, rec *TrainingRecord) error
	ListTrainingData(ctx context.Context, validatedOnly bool) ([]*TrainingRecord, error)
}

// Repository combines every store behind one database connection.
type Repository interface {
	CaseStore
	RecordStore
	RuleStore
	PatternStore
	TrainingStore

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `koanf:"driver" json:"driver"`

	// SQLite specific
	SQLitePath string `koanf:"sqlite_path" json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `koanf:"postgres_host" json:"postgresHost"`
	PostgresPort     int    `koanf:"postgres_port" json:"postgresPort"`
	PostgresUser     string `koanf:"postgres_user" json:"postgresUser"`
	PostgresPassword string `koanf:"postgres_password" json:"-"`
	PostgresDB       string `koanf:"postgres_db" json:"postgresDb"`
	PostgresSSLMode  string `koanf:"postgres_sslmode" json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `koanf:"max_open_conns" json:"maxOpenConns"`
	MaxIdleConns    int           `koanf:"max_idle_conns" json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" json:"connMaxLifetime"`
}
