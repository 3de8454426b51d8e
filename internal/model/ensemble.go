package model

import (
	"context"
	"errors"
	"log/slog"

	"github.com/opensource-finance/fuelguard/internal/domain"
	"github.com/opensource-finance/fuelguard/internal/signal"
)

// EnsembleWeights are fixed: isolation 0.30, random forest 0.35, neural 0.35.
var EnsembleWeights = signal.Weights{
	NameIsolation: 0.30,
	NameForest:    0.35,
	NameNeural:    0.35,
}

// Ensemble combines the isolation, forest and neural scorers.
type Ensemble struct {
	Isolation *IsolationScorer
	Forest    *ForestScorer
	Neural    *NeuralScorer
}

// NewEnsemble creates an ensemble of unfitted models.
func NewEnsemble() *Ensemble {
	return &Ensemble{
		Isolation: NewIsolationScorer(),
		Forest:    NewForestScorer(),
		Neural:    NewNeuralScorer(),
	}
}

func (e *Ensemble) Name() string { return "ensemble" }

func (e *Ensemble) members() []Model {
	return []Model{e.Isolation, e.Forest, e.Neural}
}

// Predict is the weighted mean of the member predictions. Unfitted members
// predict 0 and still count in the mean.
func (e *Ensemble) Predict(features []float64) float64 {
	scores := make(map[string]float64, 3)
	for _, m := range e.members() {
		scores[m.Name()] = m.Predict(features)
	}
	return signal.Combine(scores, EnsembleWeights)
}

// Fit trains every member. A member that cannot be fitted stays unfitted;
// an error is returned only if none could be fitted.
func (e *Ensemble) Fit(ctx context.Context, rows []*domain.TrainingRecord) error {
	var errs []error
	fitted := 0
	for _, m := range e.members() {
		if err := m.Fit(ctx, rows); err != nil {
			slog.Warn("model fit failed", "model", m.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		fitted++
	}
	if fitted == 0 {
		return errors.Join(errs...)
	}
	return nil
}
