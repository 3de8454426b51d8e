// Package ingest consumes operational events from the event bus, stores them
// and runs the matching detector.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/fuelguard/internal/detector"
	"github.com/opensource-finance/fuelguard/internal/domain"
	"github.com/opensource-finance/fuelguard/internal/metrics"
)

// Router scores records. Claim marks a record as scored before it is
// stored; Evaluate scores it and keeps the mark only on success.
type Router interface {
	Claim(ctx context.Context, rec domain.Record)
	Evaluate(ctx context.Context, rec domain.Record) (*detector.Outcome, error)
}

// Worker processes events asynchronously from the EventBus.
type Worker struct {
	bus     domain.EventBus
	records domain.RecordStore
	router  Router

	mu            sync.Mutex
	subscriptions []domain.Subscription
	processed     map[string]int64
	failed        map[string]int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker creates a new ingest worker. records may be nil, in which case
// events are scored but not stored.
func NewWorker(bus domain.EventBus, records domain.RecordStore, router Router) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		records:   records,
		router:    router,
		processed: make(map[string]int64),
		failed:    make(map[string]int64),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the event topic of each kind. An empty list means
// every record category.
func (w *Worker) Start(kinds ...string) error {
	if len(kinds) == 0 {
		kinds = domain.Categories()
	}

	for _, kind := range kinds {
		if _, ok := domain.NewRecord(kind); !ok {
			slog.Error("skipping unknown event kind", "kind", kind)
			continue
		}

		sub, err := w.bus.Subscribe(w.ctx, domain.EventTopic(kind), w.handler(kind))
		if err != nil {
			return err
		}

		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
	}

	slog.Info("ingest worker started", "kinds", kinds)
	return nil
}

func (w *Worker) handler(kind string) domain.MessageHandler {
	return func(ctx context.Context, msg *domain.Message) error {
		return w.process(ctx, kind, msg)
	}
}

// process decodes, stores and scores one event. Decode failures are not
// retried.
func (w *Worker) process(ctx context.Context, kind string, msg *domain.Message) error {
	start := time.Now()

	rec, err := Decode(kind, msg.Payload)
	if err != nil {
		slog.Error("failed to parse event",
			"message_id", msg.ID,
			"kind", kind,
			"error", err,
		)
		w.count(kind, false)
		metrics.RecordIngest(kind, "invalid")
		return err
	}

	w.router.Claim(ctx, rec)
	if w.records != nil {
		stored, err := domain.Envelope(rec)
		if err == nil {
			err = w.records.SaveRecord(ctx, stored)
		}
		if err != nil {
			slog.Error("failed to store event",
				"record_id", rec.RecordID(),
				"kind", kind,
				"error", err,
			)
		}
	}

	out, err := w.router.Evaluate(ctx, rec)
	if err != nil {
		slog.Error("event detection failed",
			"record_id", rec.RecordID(),
			"kind", kind,
			"error", err,
		)
		w.count(kind, false)
		metrics.RecordIngest(kind, "error")
		return err
	}

	w.count(kind, true)
	metrics.RecordIngest(kind, "ok")

	attrs := []any{
		"record_id", rec.RecordID(),
		"kind", kind,
		"score", out.Assessment.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if out.Case != nil {
		attrs = append(attrs, "case_id", out.Case.ID)
	}
	slog.Debug("event processed", attrs...)

	return nil
}

func (w *Worker) count(kind string, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ok {
		w.processed[kind]++
	} else {
		w.failed[kind]++
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	slog.Info("ingest worker stopped")
	return nil
}

// Stats is a snapshot of worker counters.
type Stats struct {
	SubscriptionCount int              `json:"subscriptionCount"`
	Topics            []string         `json:"topics"`
	Processed         map[string]int64 `json:"processed"`
	Failed            map[string]int64 `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}

	st := Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         make(map[string]int64, len(w.processed)),
		Failed:            make(map[string]int64, len(w.failed)),
	}
	for k, v := range w.processed {
		st.Processed[k] = v
	}
	for k, v := range w.failed {
		st.Failed[k] = v
	}
	return st
}
