package cases

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/fuelguard/internal/domain"
	"github.com/opensource-finance/fuelguard/internal/repository"
)

// memStore is an in-memory CaseStore that can fail the first n inserts.
// With lostAck the first insert is stored but still reports an error.
type memStore struct {
	mu        sync.Mutex
	cases     map[string]*domain.FraudCase
	failFirst int
	lostAck   bool
	inserts   int
}

func newMemStore() *memStore {
	return &memStore{cases: make(map[string]*domain.FraudCase)}
}

func (s *memStore) InsertCase(ctx context.Context, c *domain.FraudCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.inserts <= s.failFirst {
		return errors.New("database is locked")
	}
	if _, ok := s.cases[c.ID]; ok {
		return repository.ErrInvalidInput
	}
	cp := *c
	s.cases[c.ID] = &cp
	if s.lostAck && s.inserts == 1 {
		return errors.New("connection reset after commit")
	}
	return nil
}

func (s *memStore) GetCase(ctx context.Context, id string) (*domain.FraudCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) ListCases(ctx context.Context, filter domain.CaseFilter) ([]*domain.FraudCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.FraudCase
	for _, c := range s.cases {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) UpdateCaseStatus(ctx context.Context, id string, from, to domain.CaseStatus, resolvedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return repository.ErrNotFound
	}
	if c.Status != from {
		return repository.ErrConflict
	}
	c.Status = to
	c.ResolvedAt = resolvedAt
	return nil
}

func (s *memStore) ListResolvedCases(ctx context.Context, since time.Time) ([]*domain.FraudCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.FraudCase
	for _, c := range s.cases {
		if c.ResolvedAt != nil && !c.ResolvedAt.Before(since) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	cases []*domain.FraudCase
	err   error
}

func (p *recordingPublisher) Publish(ctx context.Context, c *domain.FraudCase) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cases = append(p.cases, c)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cases)
}

func testConfig() domain.CasesConfig {
	return domain.CasesConfig{PersistRetries: 3, RetryInterval: time.Millisecond}
}

func sampleInput(confidence, loss float64) domain.CaseInput {
	return domain.CaseInput{
		Type:            domain.FraudPumpTampering,
		Confidence:      confidence,
		EstimatedLoss:   loss,
		Location:        "ST-1",
		InvolvedParties: []string{"Cashier: CSH-1"},
		Evidence: []domain.Evidence{
			{Type: "signal_summary", Description: "Combined score", Source: "Detector", Reliability: 1},
		},
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		confidence, loss float64
		expected         domain.Severity
	}{
		{0.95, 0, domain.SeverityCritical},
		{0.5, 60000, domain.SeverityCritical},
		{0.85, 0, domain.SeverityHigh},
		{0.5, 25000, domain.SeverityHigh},
		{0.75, 0, domain.SeverityMedium},
		{0.5, 6000, domain.SeverityMedium},
		{0.7, 5000, domain.SeverityLow},
		{0.9, 50000, domain.SeverityHigh},
		{0, 0, domain.SeverityLow},
	}

	for _, tt := range tests {
		if got := Severity(tt.confidence, tt.loss); got != tt.expected {
			t.Errorf("Severity(%v, %v) = %s, want %s", tt.confidence, tt.loss, got, tt.expected)
		}
	}
}

func TestSeverityMonotonic(t *testing.T) {
	for loss := 0.0; loss <= 60000; loss += 2500 {
		prev := -1
		for conf := 0.0; conf <= 1.0; conf += 0.01 {
			rank := Severity(conf, loss).Rank()
			if rank < prev {
				t.Fatalf("severity decreased at confidence %v loss %v", conf, loss)
			}
			prev = rank
		}
	}
	for conf := 0.0; conf <= 1.0; conf += 0.05 {
		prev := -1
		for loss := 0.0; loss <= 60000; loss += 1000 {
			rank := Severity(conf, loss).Rank()
			if rank < prev {
				t.Fatalf("severity decreased at loss %v confidence %v", loss, conf)
			}
			prev = rank
		}
	}
}

func TestRecommendedActions(t *testing.T) {
	for _, typ := range domain.AllFraudTypes() {
		t.Run(string(typ), func(t *testing.T) {
			low := RecommendedActions(typ, 0.85)
			if len(low) != 3 {
				t.Errorf("expected 3 playbook actions at 0.85, got %v", low)
			}
			for _, a := range low {
				if a == "Notify law enforcement" {
					t.Error("expected no escalation at 0.85")
				}
			}

			high := RecommendedActions(typ, 0.86)
			if len(high) != 5 {
				t.Fatalf("expected 5 actions above 0.85, got %v", high)
			}
			if high[3] != "Notify law enforcement" || high[4] != "Initiate internal investigation" {
				t.Errorf("expected escalation actions last, got %v", high[3:])
			}
		})
	}

	t.Run("PlaybookNotMutated", func(t *testing.T) {
		_ = RecommendedActions(domain.FraudInventoryTheft, 0.99)
		if len(Playbooks[domain.FraudInventoryTheft]) != 3 {
			t.Error("expected playbook to stay at 3 actions")
		}
	})
}

var caseIDPattern = regexp.MustCompile(`^FRAUD-\d{13}-[0-9A-F]{12}$`)

func TestCreateCase(t *testing.T) {
	ctx := context.Background()

	t.Run("BuildsCase", func(t *testing.T) {
		store := newMemStore()
		pub := &recordingPublisher{}
		m := NewManager(store, pub, testConfig())

		c, err := m.CreateCase(ctx, sampleInput(0.92, 1200))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !caseIDPattern.MatchString(c.ID) {
			t.Errorf("unexpected case id format %q", c.ID)
		}
		if c.Severity != domain.SeverityCritical {
			t.Errorf("expected critical, got %s", c.Severity)
		}
		if c.Status != domain.StatusDetected {
			t.Errorf("expected detected, got %s", c.Status)
		}
		if len(c.RecommendedActions) != 5 {
			t.Errorf("expected escalated actions, got %v", c.RecommendedActions)
		}
		if pub.count() != 1 {
			t.Errorf("expected 1 published case, got %d", pub.count())
		}
		if _, err := store.GetCase(ctx, c.ID); err != nil {
			t.Errorf("expected case to be stored: %v", err)
		}
	})

	t.Run("ClampsInput", func(t *testing.T) {
		m := NewManager(newMemStore(), nil, testConfig())
		c, err := m.CreateCase(ctx, sampleInput(1.7, -50))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Confidence != 1 {
			t.Errorf("expected confidence 1, got %v", c.Confidence)
		}
		if c.EstimatedLoss != 0 {
			t.Errorf("expected loss 0, got %v", c.EstimatedLoss)
		}
	})

	t.Run("DropsInvalidEvidence", func(t *testing.T) {
		m := NewManager(newMemStore(), nil, testConfig())
		in := sampleInput(0.8, 0)
		in.Evidence = append(in.Evidence, domain.Evidence{Description: "untyped", Reliability: 0.5})
		c, _ := m.CreateCase(ctx, in)
		if len(c.Evidence) != 1 {
			t.Errorf("expected 1 evidence entry, got %d", len(c.Evidence))
		}
	})

	t.Run("NoEvidence", func(t *testing.T) {
		for name, evidence := range map[string][]domain.Evidence{
			"Nil":        nil,
			"AllInvalid": {{Description: "untyped", Reliability: 0.5}, {Type: "gps", Reliability: 2}},
		} {
			t.Run(name, func(t *testing.T) {
				store := newMemStore()
				pub := &recordingPublisher{}
				m := NewManager(store, pub, testConfig())
				in := sampleInput(0.9, 100)
				in.Evidence = evidence

				c, err := m.CreateCase(ctx, in)
				if !errors.Is(err, ErrNoEvidence) {
					t.Fatalf("expected ErrNoEvidence, got %v", err)
				}
				if c != nil {
					t.Errorf("expected no case, got %s", c.ID)
				}
				if store.inserts != 0 {
					t.Errorf("expected no insert, got %d", store.inserts)
				}
				if pub.count() != 0 {
					t.Errorf("expected nothing published, got %d", pub.count())
				}
			})
		}
	})

	t.Run("UnknownType", func(t *testing.T) {
		m := NewManager(newMemStore(), nil, testConfig())
		in := sampleInput(0.8, 0)
		in.Type = "weather_fraud"
		if _, err := m.CreateCase(ctx, in); err == nil {
			t.Error("expected error for unknown type")
		}
	})

	t.Run("RetriesTransientFailures", func(t *testing.T) {
		store := newMemStore()
		store.failFirst = 2
		pub := &recordingPublisher{}
		m := NewManager(store, pub, testConfig())

		c, err := m.CreateCase(ctx, sampleInput(0.8, 0))
		if err != nil {
			t.Fatalf("expected retry to succeed, got %v", err)
		}
		if store.inserts != 3 {
			t.Errorf("expected 3 insert attempts, got %d", store.inserts)
		}
		if pub.count() != 1 || pub.cases[0].ID != c.ID {
			t.Error("expected the stored case to be published")
		}
	})

	t.Run("CommittedInsertNotDuplicated", func(t *testing.T) {
		store := newMemStore()
		store.lostAck = true
		pub := &recordingPublisher{}
		m := NewManager(store, pub, testConfig())

		c, err := m.CreateCase(ctx, sampleInput(0.8, 0))
		if err != nil {
			t.Fatalf("expected the committed insert to count as stored, got %v", err)
		}
		if store.inserts != 2 {
			t.Errorf("expected 2 insert attempts, got %d", store.inserts)
		}
		if len(store.cases) != 1 {
			t.Errorf("expected 1 stored case, got %d", len(store.cases))
		}
		if pub.count() != 1 || pub.cases[0].ID != c.ID {
			t.Errorf("expected the case published once, got %d", pub.count())
		}
	})

	t.Run("PersistFailureNotPublished", func(t *testing.T) {
		store := newMemStore()
		store.failFirst = 100
		pub := &recordingPublisher{}
		m := NewManager(store, pub, testConfig())

		_, err := m.CreateCase(ctx, sampleInput(0.95, 0))
		if !errors.Is(err, ErrPersistFailed) {
			t.Fatalf("expected ErrPersistFailed, got %v", err)
		}
		if store.inserts != 4 {
			t.Errorf("expected 1 attempt plus 3 retries, got %d", store.inserts)
		}
		if pub.count() != 0 {
			t.Error("expected nothing published after persist failure")
		}
	})

	t.Run("PublishErrorIgnored", func(t *testing.T) {
		pub := &recordingPublisher{err: errors.New("subscriber gone")}
		m := NewManager(newMemStore(), pub, testConfig())
		if _, err := m.CreateCase(ctx, sampleInput(0.8, 0)); err != nil {
			t.Errorf("expected publish error to be swallowed, got %v", err)
		}
	})
}

func TestConcurrentCaseIDs(t *testing.T) {
	m := NewManager(newMemStore(), nil, testConfig())
	ctx := context.Background()

	const n = 1000
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := m.CreateCase(ctx, sampleInput(0.75, 0))
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			ids <- c.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, n)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate case id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("expected %d ids, got %d", n, len(seen))
	}
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := NewManager(store, nil, testConfig())

	c, _ := m.CreateCase(ctx, sampleInput(0.8, 0))

	t.Run("SkipIsRejected", func(t *testing.T) {
		_, err := m.UpdateStatus(ctx, c.ID, domain.StatusConfirmed)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("Forward", func(t *testing.T) {
		updated, err := m.UpdateStatus(ctx, c.ID, domain.StatusInvestigating)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if updated.ResolvedAt != nil {
			t.Error("expected no resolution time while investigating")
		}

		updated, err = m.UpdateStatus(ctx, c.ID, domain.StatusFalsePositive)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if updated.ResolvedAt == nil {
			t.Error("expected resolution time on terminal status")
		}
	})

	t.Run("TerminalIsFinal", func(t *testing.T) {
		_, err := m.UpdateStatus(ctx, c.ID, domain.StatusInvestigating)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := m.UpdateStatus(ctx, "FRAUD-0-MISSING", domain.StatusInvestigating)
		if !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestAccuracy(t *testing.T) {
	ctx := context.Background()

	t.Run("DefaultWithoutResolvedCases", func(t *testing.T) {
		tracker := NewAccuracyTracker(newMemStore())
		acc, err := tracker.CurrentAccuracy(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if acc != 92.0 {
			t.Errorf("expected 92.0, got %v", acc)
		}
	})

	t.Run("RatioOverWindow", func(t *testing.T) {
		store := newMemStore()
		now := time.Now().UTC()
		old := now.Add(-40 * 24 * time.Hour)
		recent := now.Add(-24 * time.Hour)

		add := func(id string, status domain.CaseStatus, at *time.Time) {
			_ = store.InsertCase(ctx, &domain.FraudCase{ID: id, Type: domain.FraudTransaction, Status: status, ResolvedAt: at})
		}
		add("c1", domain.StatusConfirmed, &recent)
		add("c2", domain.StatusConfirmed, &recent)
		add("c3", domain.StatusConfirmed, &recent)
		add("c4", domain.StatusFalsePositive, &recent)
		add("c5", domain.StatusFalsePositive, &old)
		add("c6", domain.StatusInvestigating, nil)

		tracker := NewAccuracyTracker(store)
		a, err := tracker.Breakdown(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a.Percent != 75 {
			t.Errorf("expected 75%%, got %v", a.Percent)
		}
		if a.Confirmed != 3 || a.FalsePositives != 1 {
			t.Errorf("expected 3 confirmed and 1 false positive, got %d and %d", a.Confirmed, a.FalsePositives)
		}
	})
}

func TestManagerWithSQLite(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "fuelguard-cases-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	m := NewManager(repo, nil, testConfig())
	tracker := NewAccuracyTracker(repo)

	for i := 0; i < 4; i++ {
		c, err := m.CreateCase(ctx, sampleInput(0.8, float64(i)*1000))
		if err != nil {
			t.Fatalf("failed to create case %d: %v", i, err)
		}
		if _, err := m.UpdateStatus(ctx, c.ID, domain.StatusInvestigating); err != nil {
			t.Fatalf("failed to start investigation: %v", err)
		}
		verdict := domain.StatusConfirmed
		if i == 0 {
			verdict = domain.StatusFalsePositive
		}
		if _, err := m.UpdateStatus(ctx, c.ID, verdict); err != nil {
			t.Fatalf("failed to resolve case: %v", err)
		}
	}

	acc, err := tracker.CurrentAccuracy(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acc != 75 {
		t.Errorf("expected 75%% accuracy, got %v", acc)
	}

	listed, err := m.ListCases(ctx, domain.CaseFilter{Status: domain.StatusConfirmed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listed) != 3 {
		t.Errorf("expected 3 confirmed cases, got %d", len(listed))
	}

	if _, err := m.GetCase(ctx, fmt.Sprintf("FRAUD-%d-NOPE", 1)); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
