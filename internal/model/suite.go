package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

// Suite holds one ensemble per record category.
type Suite struct {
	mu         sync.RWMutex
	ensembles  map[string]*Ensemble
	trainedFor map[string]int
}

// NewSuite creates unfitted ensembles for every category.
func NewSuite() *Suite {
	s := &Suite{
		ensembles:  make(map[string]*Ensemble),
		trainedFor: make(map[string]int),
	}
	for _, c := range []string{
		domain.CategoryPump,
		domain.CategoryTransaction,
		domain.CategoryInventory,
		domain.CategoryDriver,
		domain.CategoryPricing,
		domain.CategoryDocument,
	} {
		s.ensembles[c] = NewEnsemble()
	}
	return s
}

// For returns the ensemble for a category. Unknown categories get an
// unfitted ensemble, which predicts 0.
func (s *Suite) For(category string) *Ensemble {
	s.mu.RLock()
	e, ok := s.ensembles[category]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.ensembles[category]; ok {
		return e
	}
	e = NewEnsemble()
	s.ensembles[category] = e
	return e
}

// Fit groups rows by category and fits each ensemble. Categories without
// rows stay unfitted. A category that fails to fit does not stop the
// others; the failures are joined into the returned error.
func (s *Suite) Fit(ctx context.Context, rows []*domain.TrainingRecord) error {
	byCategory := make(map[string][]*domain.TrainingRecord)
	for _, r := range rows {
		byCategory[r.Category] = append(byCategory[r.Category], r)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var errs []error
	for _, category := range categories {
		group := byCategory[category]
		if err := s.For(category).Fit(ctx, group); err != nil {
			errs = append(errs, fmt.Errorf("failed to fit %s models: %w", category, err))
			continue
		}
		s.mu.Lock()
		s.trainedFor[category] = len(group)
		s.mu.Unlock()
		slog.Info("models fitted", "category", category, "rows", len(group))
	}
	return errors.Join(errs...)
}

// Trained returns the number of rows each category was fitted on.
func (s *Suite) Trained() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.trainedFor))
	for k, v := range s.trainedFor {
		out[k] = v
	}
	return out
}
