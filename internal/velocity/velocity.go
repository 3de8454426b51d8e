// Package velocity counts how often a subject acts within a sliding window.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

// Service tracks activity counters in the cache, so counts are shared
// across instances when the cache is Redis.
type Service struct {
	cache domain.Cache
}

// NewService creates a new velocity service.
func NewService(cache domain.Cache) *Service {
	return &Service{cache: cache}
}

// Observe records one event for subject and returns the count in the
// current window, this event included.
func (s *Service) Observe(ctx context.Context, kind, subject string, window time.Duration) (int64, error) {
	if kind == "" || subject == "" {
		return 0, fmt.Errorf("kind and subject are required")
	}
	if window <= 0 {
		return 0, fmt.Errorf("window must be positive")
	}

	count, err := s.cache.IncrementCounter(ctx, Key(kind, subject), window)
	if err != nil {
		return 0, fmt.Errorf("failed to increment velocity counter: %w", err)
	}
	return count, nil
}

// Key is the cache key of a velocity counter.
func Key(kind, subject string) string {
	return "velocity:" + kind + ":" + subject
}

// Score maps a window count onto [0,1]. Counts up to allowed score 0; the
// score then grows linearly and saturates at allowed+span.
func Score(count, allowed, span int64) float64 {
	if count <= allowed || span <= 0 {
		return 0
	}
	excess := float64(count-allowed) / float64(span)
	if excess > 1 {
		return 1
	}
	return excess
}
