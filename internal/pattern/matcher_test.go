package pattern

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

// fixedSimilarity returns a preset similarity per pattern ID.
type fixedSimilarity map[string]float64

func (f fixedSimilarity) Similarity(_ context.Context, _ domain.Record, c *Compiled) float64 {
	return f[c.Pattern.ID]
}

func testPatterns() []*domain.FraudPattern {
	mk := func(id string) *domain.FraudPattern {
		return &domain.FraudPattern{
			ID:         id,
			Name:       "Pattern " + id,
			Category:   domain.CategoryPump,
			Indicators: []string{"true"},
		}
	}
	return []*domain.FraudPattern{mk("a"), mk("b"), mk("c")}
}

func TestMatchKnownPatterns(t *testing.T) {
	ctx := context.Background()
	rec := &domain.PumpTransaction{ID: "pt-1", StationID: "ST-1", Timestamp: time.Now()}

	t.Run("ScoreIsMaxNotSum", func(t *testing.T) {
		m, err := NewMatcher()
		if err != nil {
			t.Fatalf("failed to create matcher: %v", err)
		}
		if err := m.Reload(testPatterns()); err != nil {
			t.Fatalf("reload failed: %v", err)
		}
		m.WithSimilarity(fixedSimilarity{"a": 0.75, "b": 0.95, "c": 0.4})

		result := m.MatchKnownPatterns(ctx, rec, domain.CategoryPump)
		if result.Score != 0.95 {
			t.Errorf("expected score 0.95, got %f", result.Score)
		}
		if len(result.Evidence) != 2 {
			t.Errorf("expected 2 evidence entries, got %d", len(result.Evidence))
		}
		for _, ev := range result.Evidence {
			if ev.Type != "pattern" || ev.Source != "Pattern Recognition" || ev.Reliability != 0.85 {
				t.Errorf("unexpected evidence: %+v", ev)
			}
		}
	})

	t.Run("ThresholdIsExclusive", func(t *testing.T) {
		m, _ := NewMatcher()
		m.Reload(testPatterns())
		m.WithSimilarity(fixedSimilarity{"a": 0.7})

		result := m.MatchKnownPatterns(ctx, rec, domain.CategoryPump)
		if result.Score != 0 || len(result.Matches) != 0 {
			t.Errorf("expected no match at exactly 0.7, got %+v", result)
		}
	})

	t.Run("RefreshesLastDetected", func(t *testing.T) {
		m, _ := NewMatcher()
		m.Reload(testPatterns())
		m.WithSimilarity(fixedSimilarity{"b": 0.9})

		m.MatchKnownPatterns(ctx, rec, domain.CategoryPump)
		for _, p := range m.Patterns() {
			if p.ID == "b" && p.LastDetected.IsZero() {
				t.Error("expected lastDetected to be set for matched pattern")
			}
			if p.ID == "a" && !p.LastDetected.IsZero() {
				t.Error("expected lastDetected to stay zero for unmatched pattern")
			}
		}
	})

	t.Run("OtherCategoryIgnored", func(t *testing.T) {
		m, _ := NewMatcher()
		m.Reload(testPatterns())
		m.WithSimilarity(fixedSimilarity{"a": 1})

		result := m.MatchKnownPatterns(ctx, rec, domain.CategoryDriver)
		if result.Score != 0 {
			t.Errorf("expected 0 for other category, got %f", result.Score)
		}
	})
}

func TestIndicatorFraction(t *testing.T) {
	m, _ := NewMatcher()
	if err := m.Reload(BuiltinPatterns()); err != nil {
		t.Fatalf("builtin patterns failed to compile: %v", err)
	}

	// Night offload: all three indicators hold.
	rec := &domain.InventoryRecord{
		ID:               "inv-1",
		StationID:        "ST-1",
		Product:          "diesel",
		BookQuantity:     10000,
		PhysicalQuantity: 9800,
		Movements:        []float64{-150},
		RecordedAt:       time.Date(2025, 3, 10, 2, 30, 0, 0, time.UTC),
	}

	result := m.MatchKnownPatterns(context.Background(), rec, domain.CategoryInventory)
	if math.Abs(result.Score-1.0) > 1e-9 {
		t.Errorf("expected full match, got %f", result.Score)
	}
	found := false
	for _, match := range result.Matches {
		if match.PatternID == "inventory-night-offload" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected inventory-night-offload to match, got %+v", result.Matches)
	}
}

func TestReloadKeepsLibraryOnError(t *testing.T) {
	m, _ := NewMatcher()
	m.Reload(testPatterns())

	err := m.Reload([]*domain.FraudPattern{
		{ID: "broken", Category: domain.CategoryPump, Indicators: []string{"((("}},
	})
	if err == nil {
		t.Fatal("expected compile error")
	}
	if m.Count() != 3 {
		t.Errorf("expected previous 3 patterns, got %d", m.Count())
	}
}
