package model

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

// syntheticRows builds two separable clusters: normal around 10, fraud around 30.
func syntheticRows(n int) []*domain.TrainingRecord {
	rng := rand.New(rand.NewSource(7))
	rows := make([]*domain.TrainingRecord, 0, n*2)
	for i := 0; i < n; i++ {
		rows = append(rows, &domain.TrainingRecord{
			Category: domain.CategoryPump,
			Features: []float64{10 + rng.NormFloat64(), 5 + rng.NormFloat64()},
			Label:    false,
		})
		rows = append(rows, &domain.TrainingRecord{
			Category: domain.CategoryPump,
			Features: []float64{30 + rng.NormFloat64(), 5 + rng.NormFloat64()},
			Label:    true,
		})
	}
	return rows
}

func TestUnfittedModelsPredictZero(t *testing.T) {
	for _, m := range []Model{NewIsolationScorer(), NewForestScorer(), NewNeuralScorer(), NewEnsemble()} {
		t.Run(m.Name(), func(t *testing.T) {
			if got := m.Predict([]float64{1, 2, 3}); got != 0 {
				t.Errorf("expected 0 from unfitted model, got %f", got)
			}
		})
	}
}

func TestEmptyTrainingData(t *testing.T) {
	ctx := context.Background()
	for _, m := range []Model{NewIsolationScorer(), NewForestScorer(), NewNeuralScorer(), NewEnsemble()} {
		t.Run(m.Name(), func(t *testing.T) {
			if err := m.Fit(ctx, nil); err == nil {
				t.Error("expected error for empty training data")
			}
			if got := m.Predict([]float64{1}); got != 0 {
				t.Errorf("expected 0 after failed fit, got %f", got)
			}
		})
	}
}

func TestFittedModels(t *testing.T) {
	ctx := context.Background()
	rows := syntheticRows(100)
	normal := []float64{10, 5}
	fraud := []float64{30, 5}

	for _, m := range []Model{NewIsolationScorer(), NewForestScorer(), NewNeuralScorer(), NewEnsemble()} {
		t.Run(m.Name(), func(t *testing.T) {
			if err := m.Fit(ctx, rows); err != nil {
				t.Fatalf("fit failed: %v", err)
			}
			lo, hi := m.Predict(normal), m.Predict(fraud)
			if lo < 0 || lo > 1 || hi < 0 || hi > 1 {
				t.Fatalf("prediction out of range: %f, %f", lo, hi)
			}
			if hi <= lo {
				t.Errorf("expected fraud score %f above normal score %f", hi, lo)
			}
			if got := m.Predict([]float64{1, 2, 3}); got != 0 {
				t.Errorf("expected 0 for dimension mismatch, got %f", got)
			}
			if got := m.Predict([]float64{math.NaN(), 1}); got != 0 {
				t.Errorf("expected 0 for NaN input, got %f", got)
			}
		})
	}
}

func TestForestNeedsBothClasses(t *testing.T) {
	rows := []*domain.TrainingRecord{
		{Features: []float64{1, 2}, Label: false},
		{Features: []float64{2, 3}, Label: false},
	}
	if err := NewForestScorer().Fit(context.Background(), rows); err == nil {
		t.Error("expected error when only one class is present")
	}
}

func TestEnsemblePartialFit(t *testing.T) {
	// Only normal rows: forest cannot fit, isolation and neural can.
	rows := []*domain.TrainingRecord{
		{Features: []float64{1, 2}},
		{Features: []float64{2, 3}},
		{Features: []float64{1.5, 2.5}},
	}
	e := NewEnsemble()
	if err := e.Fit(context.Background(), rows); err != nil {
		t.Fatalf("expected partial fit to succeed, got %v", err)
	}
	if got := e.Forest.Predict([]float64{1, 2}); got != 0 {
		t.Errorf("expected unfitted forest to predict 0, got %f", got)
	}
}

func TestSuite(t *testing.T) {
	s := NewSuite()
	if err := s.Fit(context.Background(), syntheticRows(50)); err != nil {
		t.Fatalf("suite fit failed: %v", err)
	}
	if s.Trained()[domain.CategoryPump] != 100 {
		t.Errorf("expected 100 pump rows, got %d", s.Trained()[domain.CategoryPump])
	}
	if got := s.For(domain.CategoryDocument).Predict([]float64{30, 5}); got != 0 {
		t.Errorf("expected unfitted document ensemble to predict 0, got %f", got)
	}
	if got := s.For(domain.CategoryPump).Predict([]float64{30, 5}); got <= 0 {
		t.Errorf("expected positive pump prediction, got %f", got)
	}
}

func TestSuiteFitContinuesPastFailedCategory(t *testing.T) {
	rows := syntheticRows(50)
	rows = append(rows, &domain.TrainingRecord{Category: domain.CategoryDriver})

	s := NewSuite()
	err := s.Fit(context.Background(), rows)
	if err == nil {
		t.Fatal("expected an error for the unusable driver rows")
	}
	if !strings.Contains(err.Error(), domain.CategoryDriver) {
		t.Errorf("expected error to name %s, got %v", domain.CategoryDriver, err)
	}

	trained := s.Trained()
	if trained[domain.CategoryPump] != 100 {
		t.Errorf("expected 100 pump rows, got %d", trained[domain.CategoryPump])
	}
	if _, ok := trained[domain.CategoryDriver]; ok {
		t.Errorf("expected driver to stay untrained, got %v", trained)
	}
	if got := s.For(domain.CategoryPump).Predict([]float64{30, 5}); got <= 0 {
		t.Errorf("expected positive pump prediction, got %f", got)
	}
}
