package velocity

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/fuelguard/internal/cache"
)

func TestVelocityService(t *testing.T) {
	lruCache := cache.NewLRUCache(100)
	defer lruCache.Close()

	svc := NewService(lruCache)
	ctx := context.Background()

	t.Run("CountsWithinWindow", func(t *testing.T) {
		for i := int64(1); i <= 4; i++ {
			count, err := svc.Observe(ctx, "transaction", "CUST-1", time.Minute)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if count != i {
				t.Errorf("expected count %d, got %d", i, count)
			}
		}
	})

	t.Run("SubjectsAreIndependent", func(t *testing.T) {
		count, _ := svc.Observe(ctx, "transaction", "CUST-2", time.Minute)
		if count != 1 {
			t.Errorf("expected count 1 for new subject, got %d", count)
		}
	})

	t.Run("WindowResets", func(t *testing.T) {
		_, _ = svc.Observe(ctx, "pump", "ST-1/1", 20*time.Millisecond)
		time.Sleep(40 * time.Millisecond)

		count, _ := svc.Observe(ctx, "pump", "ST-1/1", 20*time.Millisecond)
		if count != 1 {
			t.Errorf("expected count 1 after window reset, got %d", count)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		if _, err := svc.Observe(ctx, "", "x", time.Minute); err == nil {
			t.Error("expected error for empty kind")
		}
		if _, err := svc.Observe(ctx, "transaction", "", time.Minute); err == nil {
			t.Error("expected error for empty subject")
		}
		if _, err := svc.Observe(ctx, "transaction", "x", 0); err == nil {
			t.Error("expected error for zero window")
		}
	})
}

func TestScore(t *testing.T) {
	tests := []struct {
		count, allowed, span int64
		expected             float64
	}{
		{0, 3, 5, 0},
		{3, 3, 5, 0},
		{4, 3, 5, 0.2},
		{8, 3, 5, 1},
		{50, 3, 5, 1},
		{10, 3, 0, 0},
	}

	for _, tt := range tests {
		got := Score(tt.count, tt.allowed, tt.span)
		if math.Abs(got-tt.expected) > 1e-9 {
			t.Errorf("Score(%d, %d, %d) = %v, want %v", tt.count, tt.allowed, tt.span, got, tt.expected)
		}
	}
}
