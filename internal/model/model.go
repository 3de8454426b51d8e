// Package model provides the fraud scoring models and the ensemble that
// combines them. Models are fitted once from labelled history and are
// read-only afterwards.
package model

import (
	"context"
	"math"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

// Model scores a feature vector in [0,1].
//
// Predict must return 0 when the model is unfitted or the vector does not
// match the fitted dimension; it never panics.
type Model interface {
	Name() string
	Predict(features []float64) float64
	Fit(ctx context.Context, rows []*domain.TrainingRecord) error
}

// Model names, also used as ensemble signal names.
const (
	NameIsolation = "isolation_forest"
	NameForest    = "random_forest"
	NameNeural    = "neural_network"
)

// stats holds per-feature mean and standard deviation.
type stats struct {
	mean []float64
	std  []float64
}

func computeStats(rows [][]float64) stats {
	dim := len(rows[0])
	s := stats{mean: make([]float64, dim), std: make([]float64, dim)}
	for _, r := range rows {
		for i, v := range r {
			s.mean[i] += v
		}
	}
	for i := range s.mean {
		s.mean[i] /= float64(len(rows))
	}
	for _, r := range rows {
		for i, v := range r {
			d := v - s.mean[i]
			s.std[i] += d * d
		}
	}
	for i := range s.std {
		s.std[i] = math.Sqrt(s.std[i] / float64(len(rows)))
	}
	return s
}

func (s stats) z(i int, v float64) float64 {
	if s.std[i] == 0 {
		if v == s.mean[i] {
			return 0
		}
		return 3
	}
	return (v - s.mean[i]) / s.std[i]
}

// vectors extracts rows with a consistent dimension (the first row's).
func vectors(rows []*domain.TrainingRecord) (x [][]float64, y []bool) {
	dim := -1
	for _, r := range rows {
		if len(r.Features) == 0 {
			continue
		}
		if dim == -1 {
			dim = len(r.Features)
		}
		if len(r.Features) != dim || !finite(r.Features) {
			continue
		}
		x = append(x, r.Features)
		y = append(y, r.Label)
	}
	return x, y
}

func finite(v []float64) bool {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}
