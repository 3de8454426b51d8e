package cases

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

// DefaultAccuracy is reported while no case has been resolved in the window.
const DefaultAccuracy = 92.0

// AccuracyWindow is how far back resolved cases count.
const AccuracyWindow = 30 * 24 * time.Hour

// AccuracyTracker derives detection accuracy from investigator verdicts.
type AccuracyTracker struct {
	store  domain.CaseStore
	window time.Duration
	now    func() time.Time
}

func NewAccuracyTracker(store domain.CaseStore) *AccuracyTracker {
	return &AccuracyTracker{store: store, window: AccuracyWindow, now: time.Now}
}

// Accuracy is the breakdown behind a percentage.
type Accuracy struct {
	Percent        float64   `json:"accuracy"`
	Confirmed      int       `json:"confirmed"`
	FalsePositives int       `json:"falsePositives"`
	Since          time.Time `json:"since"`
}

// CurrentAccuracy returns 100 x confirmed / (confirmed + false positives)
// over cases resolved within the window.
func (t *AccuracyTracker) CurrentAccuracy(ctx context.Context) (float64, error) {
	a, err := t.Breakdown(ctx)
	if err != nil {
		return 0, err
	}
	return a.Percent, nil
}

func (t *AccuracyTracker) Breakdown(ctx context.Context) (Accuracy, error) {
	since := t.now().UTC().Add(-t.window)
	resolved, err := t.store.ListResolvedCases(ctx, since)
	if err != nil {
		return Accuracy{}, fmt.Errorf("failed to load resolved cases: %w", err)
	}

	a := Accuracy{Since: since}
	for _, c := range resolved {
		switch c.Status {
		case domain.StatusConfirmed:
			a.Confirmed++
		case domain.StatusFalsePositive:
			a.FalsePositives++
		}
	}

	total := a.Confirmed + a.FalsePositives
	if total == 0 {
		a.Percent = DefaultAccuracy
		return a, nil
	}
	a.Percent = float64(a.Confirmed) / float64(total) * 100
	return a, nil
}
