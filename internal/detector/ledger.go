package detector

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

// DefaultLedgerTTL is how long a scored-record marker lives when no TTL is
// configured.
const DefaultLedgerTTL = 24 * time.Hour

// Ledger records which stored records have already been scored. Inline
// evaluation (API, ingest worker) and the background scans share it, so a
// record opens at most one case however it reaches a detector.
type Ledger struct {
	cache domain.Cache
	ttl   time.Duration
}

// NewLedger keeps markers in c for ttl. A nil cache yields a ledger that
// remembers nothing.
func NewLedger(c domain.Cache, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultLedgerTTL
	}
	return &Ledger{cache: c, ttl: ttl}
}

// LedgerKey is the cache key of a scored-record marker.
func LedgerKey(kind, id string) string {
	return "seen:" + kind + ":" + id
}

// Seen reports whether the record was marked. Cache errors read as unseen.
func (l *Ledger) Seen(ctx context.Context, kind, id string) bool {
	if l == nil || l.cache == nil {
		return false
	}
	v, err := l.cache.Get(ctx, LedgerKey(kind, id))
	return err == nil && v != nil
}

// Mark records the record as scored for at least ttl, or the ledger's own
// TTL when that is longer.
func (l *Ledger) Mark(ctx context.Context, kind, id string, ttl time.Duration) {
	if l == nil || l.cache == nil {
		return
	}
	if ttl < l.ttl {
		ttl = l.ttl
	}
	if err := l.cache.Set(ctx, LedgerKey(kind, id), []byte{1}, ttl); err != nil {
		slog.Warn("failed to store scored-record marker", "kind", kind, "record_id", id, "error", err)
	}
}

// Forget drops a marker so the record can be scored again.
func (l *Ledger) Forget(ctx context.Context, kind, id string) {
	if l == nil || l.cache == nil {
		return
	}
	_ = l.cache.Delete(ctx, LedgerKey(kind, id))
}
