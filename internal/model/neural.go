package model

import (
	"context"
	"errors"
	"sync"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

// NeuralScorer is a single logistic unit over standardized features,
// trained with batch gradient descent.
type NeuralScorer struct {
	mu      sync.RWMutex
	fitted  bool
	stats   stats
	weights []float64
	bias    float64

	Epochs       int
	LearningRate float64
}

func NewNeuralScorer() *NeuralScorer {
	return &NeuralScorer{Epochs: 300, LearningRate: 0.1}
}

func (m *NeuralScorer) Name() string { return NameNeural }

func (m *NeuralScorer) Fit(ctx context.Context, rows []*domain.TrainingRecord) error {
	x, y := vectors(rows)
	if len(x) == 0 {
		return errors.New("neural scorer: no usable training rows")
	}

	s := computeStats(x)
	dim := len(x[0])
	z := make([][]float64, len(x))
	for i, r := range x {
		z[i] = make([]float64, dim)
		for j, v := range r {
			z[i][j] = s.z(j, v)
		}
	}

	w := make([]float64, dim)
	var b float64
	n := float64(len(z))
	for epoch := 0; epoch < m.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		grad := make([]float64, dim)
		var gradB float64
		for i, r := range z {
			target := 0.0
			if y[i] {
				target = 1
			}
			diff := sigmoid(dot(w, r)+b) - target
			for j, v := range r {
				grad[j] += diff * v
			}
			gradB += diff
		}
		for j := range w {
			w[j] -= m.LearningRate * grad[j] / n
		}
		b -= m.LearningRate * gradB / n
	}

	m.mu.Lock()
	m.stats = s
	m.weights = w
	m.bias = b
	m.fitted = true
	m.mu.Unlock()
	return nil
}

func (m *NeuralScorer) Predict(features []float64) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.fitted || len(features) != len(m.weights) || !finite(features) {
		return 0
	}

	var sum float64
	for j, v := range features {
		sum += m.weights[j] * m.stats.z(j, v)
	}
	return sigmoid(sum + m.bias)
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
