package detector

import (
	"context"
	"fmt"

	"github.com/opensource-finance/fuelguard/internal/domain"
	"github.com/opensource-finance/fuelguard/internal/pattern"
	"github.com/opensource-finance/fuelguard/internal/rules"
)

// Predictor is any fitted model.
type Predictor interface {
	Predict(features []float64) float64
}

// RuleSignal scores a record by the rules of ruleDomain.
func RuleSignal[R domain.Record](engine *rules.Engine, ruleDomain string) ProducerFunc[R] {
	return func(ctx context.Context, rec R) (domain.DetectionSignal, error) {
		if engine == nil {
			return domain.DetectionSignal{}, domain.ErrSignalUnavailable
		}
		res := engine.CheckRules(ctx, ruleDomain, rec)
		return domain.DetectionSignal{Score: res.Score, Evidence: res.Evidence}, nil
	}
}

// PatternSignal scores a record by its best match in the pattern library.
func PatternSignal[R domain.Record](m *pattern.Matcher, category string) ProducerFunc[R] {
	return func(ctx context.Context, rec R) (domain.DetectionSignal, error) {
		if m == nil {
			return domain.DetectionSignal{}, domain.ErrSignalUnavailable
		}
		res := m.MatchKnownPatterns(ctx, rec, category)
		return domain.DetectionSignal{Score: res.Score, Evidence: res.Evidence}, nil
	}
}

// ModelSignal scores a record's feature vector with a model. Unfitted
// models score 0.
func ModelSignal[R domain.Record](model Predictor, label string) ProducerFunc[R] {
	return func(ctx context.Context, rec R) (domain.DetectionSignal, error) {
		if model == nil {
			return domain.DetectionSignal{}, domain.ErrSignalUnavailable
		}
		score := model.Predict(rec.Features())

		var ev []domain.Evidence
		if score > 0.5 {
			ev = append(ev, domain.Evidence{
				Type:        "ml_anomaly",
				Description: fmt.Sprintf("%s score %.2f", label, score),
				Source:      "ML",
				Reliability: 0.9,
				Data:        map[string]float64{"score": score},
			})
		}
		return domain.DetectionSignal{Score: score, Evidence: ev}, nil
	}
}
