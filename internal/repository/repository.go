// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict means the row changed between read and write.
	ErrConflict = errors.New("conflicting update")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

var _ domain.Repository = (*SQLRepository)(nil)

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	driver := cfg.Driver
	switch driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres", "postgresql":
		driver = "postgres"
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
		driver: driver,
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

// InsertCase stores a new fraud case. The full case is kept as JSON next to
// the indexed columns used for filtering.
func (r *SQLRepository) InsertCase(ctx context.Context, c *domain.FraudCase) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: case id is required", ErrInvalidInput)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal case: %w", err)
	}

	query := `
		INSERT INTO fraud_cases (
			id, type, severity, status, location, confidence,
			estimated_loss, detected_at, resolved_at, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		c.ID, string(c.Type), string(c.Severity), string(c.Status),
		c.Location, c.Confidence, c.EstimatedLoss,
		toMillis(c.Timestamp), nullMillis(c.ResolvedAt), string(data),
	)
	return err
}

// GetCase retrieves a case by ID.
func (r *SQLRepository) GetCase(ctx context.Context, id string) (*domain.FraudCase, error) {
	query := `SELECT status, resolved_at, data FROM fraud_cases WHERE id = ?`

	c, err := scanCase(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCases returns cases matching filter, newest first.
func (r *SQLRepository) ListCases(ctx context.Context, filter domain.CaseFilter) ([]*domain.FraudCase, error) {
	var where []string
	var args []any

	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Location != "" {
		where = append(where, "location = ?")
		args = append(args, filter.Location)
	}
	if !filter.Since.IsZero() {
		where = append(where, "detected_at >= ?")
		args = append(args, toMillis(filter.Since))
	}
	if !filter.Until.IsZero() {
		where = append(where, "detected_at < ?")
		args = append(args, toMillis(filter.Until))
	}

	query := "SELECT status, resolved_at, data FROM fraud_cases"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY detected_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(filter.Limit)
	}

	return r.queryCases(ctx, query, args...)
}

// UpdateCaseStatus moves a case from one status to another.
// Returns ErrNotFound for an unknown case and ErrConflict when the stored
// status is no longer from.
func (r *SQLRepository) UpdateCaseStatus(ctx context.Context, id string, from, to domain.CaseStatus, resolvedAt *time.Time) error {
	query := `
		UPDATE fraud_cases
		SET status = ?, resolved_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(to), nullMillis(resolvedAt), id, string(from),
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	if _, err := r.GetCase(ctx, id); err != nil {
		return err
	}
	return ErrConflict
}

// ListResolvedCases returns cases resolved at or after since.
func (r *SQLRepository) ListResolvedCases(ctx context.Context, since time.Time) ([]*domain.FraudCase, error) {
	query := `
		SELECT status, resolved_at, data
		FROM fraud_cases
		WHERE resolved_at IS NOT NULL AND resolved_at >= ?
		ORDER BY resolved_at DESC
	`
	return r.queryCases(ctx, query, toMillis(since))
}

func (r *SQLRepository) queryCases(ctx context.Context, query string, args ...any) ([]*domain.FraudCase, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*domain.FraudCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}

	return cases, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

// scanCase decodes the stored JSON and overlays the mutable columns.
func scanCase(s scanner) (*domain.FraudCase, error) {
	var status, data string
	var resolved sql.NullInt64

	if err := s.Scan(&status, &resolved, &data); err != nil {
		return nil, err
	}

	var c domain.FraudCase
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("failed to parse case: %w", err)
	}

	c.Status = domain.CaseStatus(status)
	c.ResolvedAt = nil
	if resolved.Valid {
		t := fromMillis(resolved.Int64)
		c.ResolvedAt = &t
	}
	return &c, nil
}

// SaveRecord stores an operational record. Re-submitting a record with the
// same kind and ID is a no-op.
func (r *SQLRepository) SaveRecord(ctx context.Context, rec *domain.StoredRecord) error {
	if rec == nil || rec.ID == "" || rec.Kind == "" {
		return fmt.Errorf("%w: record id and kind are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO operational_records (id, kind, location, subject, occurred_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, rec.Kind, rec.Location, rec.Subject,
		toMillis(rec.OccurredAt), string(rec.Payload),
	)
	return err
}

// ListRecords returns records of kind that occurred at or after since, oldest first.
func (r *SQLRepository) ListRecords(ctx context.Context, kind string, since time.Time) ([]*domain.StoredRecord, error) {
	query := `
		SELECT id, kind, location, subject, occurred_at, payload
		FROM operational_records
		WHERE kind = ? AND occurred_at >= ?
		ORDER BY occurred_at, id
	`
	return r.queryRecords(ctx, query, kind, toMillis(since))
}

// ListRecordsBySubject returns the history of one subject, oldest first.
func (r *SQLRepository) ListRecordsBySubject(ctx context.Context, kind, subject string, since time.Time) ([]*domain.StoredRecord, error) {
	query := `
		SELECT id, kind, location, subject, occurred_at, payload
		FROM operational_records
		WHERE kind = ? AND subject = ? AND occurred_at >= ?
		ORDER BY occurred_at, id
	`
	return r.queryRecords(ctx, query, kind, subject, toMillis(since))
}

func (r *SQLRepository) queryRecords(ctx context.Context, query string, args ...any) ([]*domain.StoredRecord, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.StoredRecord
	for rows.Next() {
		var rec domain.StoredRecord
		var occurred int64
		var payload string

		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.Location, &rec.Subject, &occurred, &payload); err != nil {
			return nil, err
		}

		rec.OccurredAt = fromMillis(occurred)
		rec.Payload = []byte(payload)
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// SaveRuleConfig creates or replaces a rule definition.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := toMillis(time.Now())

	query := `
		INSERT INTO fraud_rules (
			id, name, description, version, domain, expression,
			weight, confidence, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			domain = excluded.domain,
			expression = excluded.expression,
			weight = excluded.weight,
			confidence = excluded.confidence,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Version, rule.Domain,
		rule.Expression, rule.Weight, rule.Confidence, enabled,
		now, now,
	)
	return err
}

// GetRuleConfig retrieves a rule definition by ID.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, ruleID string) (*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, version, domain, expression, weight, confidence, enabled
		FROM fraud_rules
		WHERE id = ?
	`

	cfg, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListRuleConfigs returns every rule definition, enabled or not, by ID.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, version, domain, expression, weight, confidence, enabled
		FROM fraud_rules
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		cfg, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	return configs, rows.Err()
}

func scanRule(s scanner) (*domain.RuleConfig, error) {
	var cfg domain.RuleConfig
	var description sql.NullString
	var enabled int

	if err := s.Scan(
		&cfg.ID, &cfg.Name, &description, &cfg.Version, &cfg.Domain,
		&cfg.Expression, &cfg.Weight, &cfg.Confidence, &enabled,
	); err != nil {
		return nil, err
	}

	cfg.Description = description.String
	cfg.Enabled = enabled == 1
	return &cfg, nil
}

// SavePattern creates or replaces a known fraud pattern.
func (r *SQLRepository) SavePattern(ctx context.Context, p *domain.FraudPattern) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: pattern id is required", ErrInvalidInput)
	}

	indicators, err := json.Marshal(p.Indicators)
	if err != nil {
		return fmt.Errorf("failed to marshal indicators: %w", err)
	}

	var lastDetected *time.Time
	if !p.LastDetected.IsZero() {
		lastDetected = &p.LastDetected
	}

	query := `
		INSERT INTO fraud_patterns (
			id, name, description, category, indicators, risk_score,
			frequency, last_detected, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			indicators = excluded.indicators,
			risk_score = excluded.risk_score,
			frequency = excluded.frequency,
			last_detected = excluded.last_detected,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		p.ID, p.Name, p.Description, p.Category, string(indicators),
		p.RiskScore, p.Frequency, nullMillis(lastDetected), toMillis(time.Now()),
	)
	return err
}

// ListPatterns returns the pattern library by ID.
func (r *SQLRepository) ListPatterns(ctx context.Context) ([]*domain.FraudPattern, error) {
	query := `
		SELECT id, name, description, category, indicators, risk_score, frequency, last_detected
		FROM fraud_patterns
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []*domain.FraudPattern
	for rows.Next() {
		var p domain.FraudPattern
		var description sql.NullString
		var indicators string
		var lastDetected sql.NullInt64

		if err := rows.Scan(
			&p.ID, &p.Name, &description, &p.Category, &indicators,
			&p.RiskScore, &p.Frequency, &lastDetected,
		); err != nil {
			return nil, err
		}

		p.Description = description.String
		if err := json.Unmarshal([]byte(indicators), &p.Indicators); err != nil {
			return nil, fmt.Errorf("failed to parse indicators for %s: %w", p.ID, err)
		}
		if lastDetected.Valid {
			p.LastDetected = fromMillis(lastDetected.Int64)
		}
		patterns = append(patterns, &p)
	}

	return patterns, rows.Err()
}

// SaveTrainingRecord creates or replaces a labelled feature vector.
func (r *SQLRepository) SaveTrainingRecord(ctx context.Context, rec *domain.TrainingRecord) error {
	if rec == nil || rec.ID == "" || rec.Category == "" {
		return fmt.Errorf("%w: training record id and category are required", ErrInvalidInput)
	}

	features, err := json.Marshal(rec.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}

	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	query := `
		INSERT INTO training_data (id, category, features, label, validated, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category = excluded.category,
			features = excluded.features,
			label = excluded.label,
			validated = excluded.validated
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, rec.Category, string(features),
		boolInt(rec.Label), boolInt(rec.Validated), toMillis(created),
	)
	return err
}

// ListTrainingData returns labelled rows, optionally only validated ones.
func (r *SQLRepository) ListTrainingData(ctx context.Context, validatedOnly bool) ([]*domain.TrainingRecord, error) {
	query := `
		SELECT id, category, features, label, validated, created_at
		FROM training_data
	`
	if validatedOnly {
		query += " WHERE validated = 1"
	}
	query += " ORDER BY created_at, id"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var data []*domain.TrainingRecord
	for rows.Next() {
		var rec domain.TrainingRecord
		var features string
		var label, validated int
		var created int64

		if err := rows.Scan(&rec.ID, &rec.Category, &features, &label, &validated, &created); err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(features), &rec.Features); err != nil {
			return nil, fmt.Errorf("failed to parse features for %s: %w", rec.ID, err)
		}
		rec.Label = label == 1
		rec.Validated = validated == 1
		rec.CreatedAt = fromMillis(created)
		data = append(data, &rec)
	}

	return data, rows.Err()
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

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
