// Package cases opens, persists and tracks fraud investigation cases.
package cases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/opensource-finance/fuelguard/internal/domain"
	"github.com/opensource-finance/fuelguard/internal/metrics"
	"github.com/opensource-finance/fuelguard/internal/signal"
)

var (
	// ErrPersistFailed is returned when a case could not be stored after all retries.
	ErrPersistFailed = errors.New("failed to persist case")

	// ErrInvalidTransition is returned for a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNoEvidence is returned when none of the supplied evidence is usable.
	ErrNoEvidence = errors.New("case has no valid evidence")
)

// Publisher delivers opened cases to subscribers.
type Publisher interface {
	Publish(ctx context.Context, c *domain.FraudCase) error
}

// Playbooks are the recommended actions per fraud type.
var Playbooks = map[domain.FraudType][]string{
	domain.FraudPumpTampering:     {"Immediate pump calibration check", "Review CCTV footage", "Suspend pump operations"},
	domain.FraudDriverDiversion:   {"Contact driver immediately", "Review GPS tracking history", "Verify delivery documentation"},
	domain.FraudInventoryTheft:    {"Physical stock count", "Review access logs", "Interview staff on duty"},
	domain.FraudTransaction:       {"Block customer account", "Review transaction history", "Contact payment provider"},
	domain.FraudPriceManipulation: {"Review pricing approvals", "Check NPA compliance", "Audit discount authorizations"},
	domain.FraudDocumentForgery:   {"Quarantine document", "Verify with issuing authority", "Audit linked transactions"},
}

// EscalationActions are appended when confidence exceeds EscalationConfidence.
var EscalationActions = []string{"Notify law enforcement", "Initiate internal investigation"}

const EscalationConfidence = 0.85

// Manager opens cases and moves them through their lifecycle.
type Manager struct {
	store     domain.CaseStore
	publisher Publisher
	retries   int
	interval  time.Duration
	now       func() time.Time
}

// NewManager creates a case manager. publisher may be nil.
func NewManager(store domain.CaseStore, publisher Publisher, cfg domain.CasesConfig) *Manager {
	if cfg.PersistRetries < 0 {
		cfg.PersistRetries = 0
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 100 * time.Millisecond
	}
	return &Manager{
		store:     store,
		publisher: publisher,
		retries:   cfg.PersistRetries,
		interval:  cfg.RetryInterval,
		now:       time.Now,
	}
}

// CreateCase builds a case from input, stores it and, once stored, hands it
// to the publisher. Publishing errors are logged, not returned. A case needs
// at least one valid evidence entry.
func (m *Manager) CreateCase(ctx context.Context, input domain.CaseInput) (*domain.FraudCase, error) {
	if !input.Type.Valid() {
		return nil, fmt.Errorf("unknown fraud type %q", input.Type)
	}
	evidence := validEvidence(input.Evidence)
	if len(evidence) == 0 {
		return nil, fmt.Errorf("%w: %s at %s", ErrNoEvidence, input.Type, input.Location)
	}

	confidence := signal.Clamp(input.Confidence)
	loss := input.EstimatedLoss
	if loss < 0 {
		loss = 0
	}

	now := m.now().UTC()
	c := &domain.FraudCase{
		ID:                 NewCaseID(now),
		Type:               input.Type,
		Severity:           Severity(confidence, loss),
		Confidence:         confidence,
		Timestamp:          now,
		Location:           input.Location,
		InvolvedParties:    append([]string{}, input.InvolvedParties...),
		Evidence:           evidence,
		EstimatedLoss:      loss,
		Status:             domain.StatusDetected,
		RecommendedActions: RecommendedActions(input.Type, confidence),
	}

	if err := m.persist(ctx, c); err != nil {
		metrics.RecordCasePersistFailure()
		slog.Error("fraud case lost",
			"case_id", c.ID,
			"type", c.Type,
			"location", c.Location,
			"error", err,
		)
		return nil, fmt.Errorf("%w %s: %v", ErrPersistFailed, c.ID, err)
	}

	metrics.RecordCaseCreated(string(c.Type), string(c.Severity), c.EstimatedLoss)
	slog.Info("fraud case opened",
		"case_id", c.ID,
		"type", c.Type,
		"severity", c.Severity,
		"confidence", c.Confidence,
		"location", c.Location,
	)

	if m.publisher != nil {
		if err := m.publisher.Publish(ctx, c); err != nil {
			slog.Warn("failed to dispatch case", "case_id", c.ID, "error", err)
		}
	}
	return c, nil
}

func (m *Manager) persist(ctx context.Context, c *domain.FraudCase) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.interval
	policy.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := m.store.InsertCase(ctx, c)
		if err == nil {
			return nil
		}
		// Case ids are unique per call, so a row with this id on a retry is
		// an earlier attempt that committed before reporting its error.
		if attempt > 1 {
			if _, getErr := m.store.GetCase(ctx, c.ID); getErr == nil {
				slog.Info("case already stored by an earlier attempt", "case_id", c.ID, "attempt", attempt)
				return nil
			}
		}
		slog.Warn("case insert failed", "case_id", c.ID, "attempt", attempt, "error", err)
		return err
	}

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(m.retries)), ctx))
}

// UpdateStatus moves a case forward in its lifecycle. Terminal statuses
// stamp ResolvedAt.
func (m *Manager) UpdateStatus(ctx context.Context, id string, next domain.CaseStatus) (*domain.FraudCase, error) {
	c, err := m.store.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, next)
	}

	var resolvedAt *time.Time
	if next.Terminal() {
		t := m.now().UTC()
		resolvedAt = &t
	}

	if err := m.store.UpdateCaseStatus(ctx, id, c.Status, next, resolvedAt); err != nil {
		return nil, err
	}

	slog.Info("case status changed", "case_id", id, "from", c.Status, "to", next)
	c.Status = next
	c.ResolvedAt = resolvedAt
	return c, nil
}

func (m *Manager) GetCase(ctx context.Context, id string) (*domain.FraudCase, error) {
	return m.store.GetCase(ctx, id)
}

func (m *Manager) ListCases(ctx context.Context, filter domain.CaseFilter) ([]*domain.FraudCase, error) {
	return m.store.ListCases(ctx, filter)
}

// Severity grades a case. The first matching band wins.
func Severity(confidence, loss float64) domain.Severity {
	switch {
	case confidence > 0.9 || loss > 50000:
		return domain.SeverityCritical
	case confidence > 0.8 || loss > 20000:
		return domain.SeverityHigh
	case confidence > 0.7 || loss > 5000:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// RecommendedActions returns the playbook for t, escalated when confidence
// is above EscalationConfidence.
func RecommendedActions(t domain.FraudType, confidence float64) []string {
	actions := append([]string{}, Playbooks[t]...)
	if confidence > EscalationConfidence {
		actions = append(actions, EscalationActions...)
	}
	return actions
}

// NewCaseID returns FRAUD-<unix millis>-<12 hex chars>.
func NewCaseID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("FRAUD-%d-%s", now.UnixMilli(), strings.ToUpper(suffix))
}

func validEvidence(in []domain.Evidence) []domain.Evidence {
	out := make([]domain.Evidence, 0, len(in))
	for _, ev := range in {
		if ev.Valid() {
			out = append(out, ev)
		}
	}
	return out
}
