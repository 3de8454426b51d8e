package model

import (
	"context"
	"errors"
	"sync"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

// stump is a single-feature decision rule.
type stump struct {
	feature   int
	threshold float64
	above     bool    // fraud when value > threshold
	weight    float64 // training accuracy above chance
}

// ForestScorer is an ensemble of decision stumps, one per feature, each
// voting with a weight equal to how much better than chance it separated
// the training labels.
type ForestScorer struct {
	mu     sync.RWMutex
	fitted bool
	dim    int
	stumps []stump
}

func NewForestScorer() *ForestScorer {
	return &ForestScorer{}
}

func (m *ForestScorer) Name() string { return NameForest }

// Fit needs both fraud and non-fraud rows.
func (m *ForestScorer) Fit(ctx context.Context, rows []*domain.TrainingRecord) error {
	x, y := vectors(rows)
	if len(x) == 0 {
		return errors.New("forest scorer: no usable training rows")
	}

	var fraud, normal [][]float64
	for i := range x {
		if y[i] {
			fraud = append(fraud, x[i])
		} else {
			normal = append(normal, x[i])
		}
	}
	if len(fraud) == 0 || len(normal) == 0 {
		return errors.New("forest scorer: training data needs both classes")
	}

	fs, ns := computeStats(fraud), computeStats(normal)
	dim := len(x[0])

	var stumps []stump
	for f := 0; f < dim; f++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		st := stump{
			feature:   f,
			threshold: (fs.mean[f] + ns.mean[f]) / 2,
			above:     fs.mean[f] > ns.mean[f],
		}
		correct := 0
		for i := range x {
			if st.vote(x[i]) == y[i] {
				correct++
			}
		}
		acc := float64(correct) / float64(len(x))
		if acc > 0.5 {
			st.weight = acc - 0.5
			stumps = append(stumps, st)
		}
	}

	m.mu.Lock()
	m.dim = dim
	m.stumps = stumps
	m.fitted = true
	m.mu.Unlock()
	return nil
}

func (s stump) vote(v []float64) bool {
	if s.above {
		return v[s.feature] > s.threshold
	}
	return v[s.feature] < s.threshold
}

func (m *ForestScorer) Predict(features []float64) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.fitted || len(features) != m.dim || len(m.stumps) == 0 || !finite(features) {
		return 0
	}

	var votes, total float64
	for _, s := range m.stumps {
		total += s.weight
		if s.vote(features) {
			votes += s.weight
		}
	}
	if total == 0 {
		return 0
	}
	return votes / total
}
