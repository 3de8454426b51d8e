// Package monitor runs the periodic background scans that feed stored
// operational records through their detectors.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/fuelguard/internal/cache"
	"github.com/opensource-finance/fuelguard/internal/detector"
	"github.com/opensource-finance/fuelguard/internal/domain"
	"github.com/opensource-finance/fuelguard/internal/metrics"
)

// Router finds the detector for a record category.
type Router interface {
	For(category string) (detector.Runner, bool)
}

// LoopStats is a snapshot of one loop's counters.
type LoopStats struct {
	Kind     string        `json:"kind"`
	Enabled  bool          `json:"enabled"`
	Interval time.Duration `json:"interval"`
	Lookback time.Duration `json:"lookback"`
	Ticks    int64         `json:"ticks"`
	Records  int64         `json:"records"`
	Skipped  int64         `json:"skipped"`
	Cases    int64         `json:"cases"`
	Errors   int64         `json:"errors"`
	LastTick time.Time     `json:"lastTick,omitempty"`
}

type loop struct {
	kind string
	cfg  domain.LoopConfig

	mu    sync.Mutex
	stats LoopStats
}

// Scheduler owns one goroutine per enabled loop.
type Scheduler struct {
	router  Router
	records domain.RecordStore
	ledger  *detector.Ledger
	loops   []*loop
	now     func() time.Time

	mu       sync.Mutex
	started  bool
	stopping atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a scheduler. seen holds the scored-record markers and should
// be the cache the detector registry writes to, so records already scored
// inline are skipped. When nil a private in-memory cache is used.
func New(cfg domain.MonitorConfig, router Router, records domain.RecordStore, seen domain.Cache) *Scheduler {
	if seen == nil {
		seen = cache.NewLRUCache(10000)
	}

	s := &Scheduler{
		router:  router,
		records: records,
		ledger:  detector.NewLedger(seen, cfg.LongestLookback()),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	for _, l := range []struct {
		kind string
		cfg  domain.LoopConfig
	}{
		{domain.CategoryPump, cfg.Pump},
		{domain.CategoryDriver, cfg.Driver},
		{domain.CategoryInventory, cfg.Inventory},
		{domain.CategoryTransaction, cfg.Transaction},
		{domain.CategoryPricing, cfg.Pricing},
		{domain.CategoryDocument, cfg.Document},
	} {
		enabled := cfg.Enabled && l.cfg.Enabled && l.cfg.Interval > 0
		s.loops = append(s.loops, &loop{
			kind: l.kind,
			cfg:  l.cfg,
			stats: LoopStats{
				Kind:     l.kind,
				Enabled:  enabled,
				Interval: l.cfg.Interval,
				Lookback: l.cfg.Lookback,
			},
		})
	}
	return s
}

// Start launches the enabled loops. Calling it again is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	running := 0
	for _, l := range s.loops {
		if !l.stats.Enabled {
			continue
		}
		running++
		s.wg.Add(1)
		go s.run(ctx, l)
	}
	slog.Info("monitoring started", "loops", running)
}

// Stop asks every loop to exit. A tick already in progress finishes first.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		close(s.stopCh)
	})
}

// Wait blocks until every loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Running reports whether loops were started and not yet asked to stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.stopping.Load()
}

// Stats returns a snapshot per loop, ordered by kind.
func (s *Scheduler) Stats() []LoopStats {
	out := make([]LoopStats, 0, len(s.loops))
	for _, l := range s.loops {
		l.mu.Lock()
		out = append(out, l.stats)
		l.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

func (s *Scheduler) run(ctx context.Context, l *loop) {
	defer s.wg.Done()

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.stopping.Load() {
				return
			}
			if _, err := s.tick(ctx, l); err != nil {
				slog.Error("monitoring tick failed", "loop", l.kind, "error", err)
			}
		}
	}
}

// tick scans one loop's lookback window. It returns the number of records
// sent to the detector.
func (s *Scheduler) tick(ctx context.Context, l *loop) (int, error) {
	now := s.now().UTC()
	lookback := l.cfg.Lookback
	if lookback <= 0 {
		lookback = l.cfg.Interval
	}

	defer func() {
		l.mu.Lock()
		l.stats.Ticks++
		l.stats.LastTick = now
		l.mu.Unlock()
	}()

	runner, ok := s.router.For(l.kind)
	if !ok {
		return 0, fmt.Errorf("no detector for %s records", l.kind)
	}

	stored, err := s.records.ListRecords(ctx, l.kind, now.Add(-lookback))
	if err != nil {
		s.count(l, func(st *LoopStats) { st.Errors++ })
		return 0, fmt.Errorf("failed to load %s records: %w", l.kind, err)
	}

	processed := 0
	for _, sr := range stored {
		if s.ledger.Seen(ctx, l.kind, sr.ID) {
			s.count(l, func(st *LoopStats) { st.Skipped++ })
			continue
		}

		rec, err := decode(l.kind, sr)
		if err != nil {
			slog.Warn("skipping undecodable record", "loop", l.kind, "record_id", sr.ID, "error", err)
			s.count(l, func(st *LoopStats) { st.Errors++ })
			s.ledger.Mark(ctx, l.kind, sr.ID, lookback)
			continue
		}

		out, err := runner.EvaluateRecord(ctx, rec)
		if err != nil {
			slog.Error("background detection failed", "loop", l.kind, "record_id", sr.ID, "error", err)
			s.count(l, func(st *LoopStats) { st.Errors++ })
			continue
		}

		s.ledger.Mark(ctx, l.kind, sr.ID, lookback)
		processed++
		s.count(l, func(st *LoopStats) {
			st.Records++
			if out != nil && out.Case != nil {
				st.Cases++
			}
		})
	}

	metrics.RecordMonitorTick(l.kind, processed)
	slog.Debug("monitoring tick", "loop", l.kind, "loaded", len(stored), "processed", processed)
	return processed, nil
}

func (s *Scheduler) count(l *loop, fn func(*LoopStats)) {
	l.mu.Lock()
	fn(&l.stats)
	l.mu.Unlock()
}

func decode(kind string, sr *domain.StoredRecord) (domain.Record, error) {
	rec, ok := domain.NewRecord(kind)
	if !ok {
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
	if err := json.Unmarshal(sr.Payload, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
