package model

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

// IsolationScorer flags vectors that sit far from the profile of normal
// history. The score grows with the mean absolute z-score across features.
type IsolationScorer struct {
	mu     sync.RWMutex
	fitted bool
	stats  stats
}

func NewIsolationScorer() *IsolationScorer {
	return &IsolationScorer{}
}

func (m *IsolationScorer) Name() string { return NameIsolation }

// Fit profiles the non-fraud rows, or every row if none are labelled normal.
func (m *IsolationScorer) Fit(ctx context.Context, rows []*domain.TrainingRecord) error {
	x, y := vectors(rows)
	if len(x) == 0 {
		return errors.New("isolation scorer: no usable training rows")
	}

	var normal [][]float64
	for i := range x {
		if !y[i] {
			normal = append(normal, x[i])
		}
	}
	if len(normal) == 0 {
		normal = x
	}

	s := computeStats(normal)

	m.mu.Lock()
	m.stats = s
	m.fitted = true
	m.mu.Unlock()
	return nil
}

func (m *IsolationScorer) Predict(features []float64) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.fitted || len(features) != len(m.stats.mean) || !finite(features) {
		return 0
	}

	var sum float64
	for i, v := range features {
		sum += math.Abs(m.stats.z(i, v))
	}
	d := sum / float64(len(features))
	// 0 at the profile centre, 0.5 at an average distance of two deviations.
	return d / (d + 2)
}
