// Package detector runs signal producers for one fraud category, combines
// their scores and opens a case when the combined score crosses the
// detector's threshold.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/opensource-finance/fuelguard/internal/domain"
	"github.com/opensource-finance/fuelguard/internal/metrics"
	"github.com/opensource-finance/fuelguard/internal/signal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("fuelguard-detector")

// ErrProducerFailed marks a producer that errored, panicked or returned a
// non-finite score. It is recorded in the detector status, never returned
// to callers.
var ErrProducerFailed = errors.New("signal producer failed")

// ProducerFunc computes one signal for a record.
type ProducerFunc[R domain.Record] func(ctx context.Context, rec R) (domain.DetectionSignal, error)

// Producer is a named signal source. The name is the key in the weight map.
type Producer[R domain.Record] struct {
	Name string
	Fn   ProducerFunc[R]
}

// CaseCreator opens fraud cases.
type CaseCreator interface {
	CreateCase(ctx context.Context, input domain.CaseInput) (*domain.FraudCase, error)
}

// Config describes a detector.
type Config[R domain.Record] struct {
	Name      string
	Type      domain.FraudType
	Category  string
	Threshold float64
	Weights   signal.Weights
	Producers []Producer[R]

	// Enrich runs before the producers and may fill derived fields of the record.
	Enrich func(ctx context.Context, rec R) error

	// Loss estimates the monetary value at risk. Nil means 0.
	Loss func(rec R) float64
}

// Assessment is the scored outcome for one record.
type Assessment struct {
	RecordID  string                   `json:"recordId"`
	Score     float64                  `json:"score"`
	Threshold float64                  `json:"threshold"`
	Triggered bool                     `json:"triggered"`
	Signals   []domain.DetectionSignal `json:"signals"`
	Failed    []string                 `json:"failed,omitempty"`
	Evidence  []domain.Evidence        `json:"evidence"`
}

// Outcome is an assessment plus the case it opened, if any.
type Outcome struct {
	Assessment Assessment        `json:"assessment"`
	Case       *domain.FraudCase `json:"case,omitempty"`
}

// Status is a snapshot of a detector's counters.
type Status struct {
	Name             string           `json:"name"`
	Type             domain.FraudType `json:"type"`
	Category         string           `json:"category"`
	Threshold        float64          `json:"threshold"`
	Evaluated        int64            `json:"evaluated"`
	Cases            int64            `json:"cases"`
	ProducerFailures int64            `json:"producerFailures"`
	LastRun          time.Time        `json:"lastRun,omitempty"`
	LastError        string           `json:"lastError,omitempty"`
}

// Detector scores records of type R.
type Detector[R domain.Record] struct {
	cfg   Config[R]
	cases CaseCreator

	mu     sync.Mutex
	status Status
}

// New creates a detector. cases may be nil, in which case Detect only assesses.
func New[R domain.Record](cfg Config[R], cases CaseCreator) *Detector[R] {
	return &Detector[R]{
		cfg:   cfg,
		cases: cases,
		status: Status{
			Name:      cfg.Name,
			Type:      cfg.Type,
			Category:  cfg.Category,
			Threshold: cfg.Threshold,
		},
	}
}

func (d *Detector[R]) Name() string     { return d.cfg.Name }
func (d *Detector[R]) Category() string { return d.cfg.Category }

// Assess enriches rec, runs every producer and combines the surviving signals.
func (d *Detector[R]) Assess(ctx context.Context, rec R) Assessment {
	ctx, span := tracer.Start(ctx, "detector."+d.cfg.Name,
		trace.WithAttributes(
			attribute.String("record.id", rec.RecordID()),
			attribute.String("record.category", d.cfg.Category),
		),
	)
	defer span.End()

	start := time.Now()

	if d.cfg.Enrich != nil {
		if err := d.cfg.Enrich(ctx, rec); err != nil {
			slog.Warn("record enrichment failed",
				"detector", d.cfg.Name,
				"record_id", rec.RecordID(),
				"error", err,
			)
			d.recordError(err)
		}
	}

	a := Assessment{
		RecordID:  rec.RecordID(),
		Threshold: d.cfg.Threshold,
	}
	scores := make(map[string]float64, len(d.cfg.Producers))

	for _, p := range d.cfg.Producers {
		sig, err := d.run(ctx, p, rec)
		if errors.Is(err, domain.ErrSignalUnavailable) {
			continue
		}
		if err != nil {
			a.Failed = append(a.Failed, p.Name)
			d.recordFailure(err)
			metrics.RecordProducerFailure(d.cfg.Name, p.Name)
			slog.Warn("signal producer failed",
				"detector", d.cfg.Name,
				"producer", p.Name,
				"record_id", rec.RecordID(),
				"error", err,
			)
			continue
		}

		scores[p.Name] = sig.Score
		a.Signals = append(a.Signals, sig)
		for _, ev := range sig.Evidence {
			if ev.Valid() {
				a.Evidence = append(a.Evidence, ev)
			}
		}
	}

	a.Score = signal.Combine(scores, d.cfg.Weights)
	a.Triggered = a.Score > d.cfg.Threshold
	a.Evidence = append(a.Evidence, summary(a, scores))

	elapsed := time.Since(start)
	metrics.RecordDetection(d.cfg.Name, a.Triggered, elapsed)
	span.SetAttributes(
		attribute.Float64("detector.score", a.Score),
		attribute.Bool("detector.triggered", a.Triggered),
		attribute.Int("detector.failed", len(a.Failed)),
	)

	d.mu.Lock()
	d.status.Evaluated++
	d.status.LastRun = start.UTC()
	d.mu.Unlock()

	slog.Debug("record assessed",
		"detector", d.cfg.Name,
		"record_id", rec.RecordID(),
		"score", a.Score,
		"triggered", a.Triggered,
		"duration_ms", elapsed.Milliseconds(),
	)
	return a
}

// Evaluate assesses rec and opens a case when the assessment triggers.
func (d *Detector[R]) Evaluate(ctx context.Context, rec R) (*Outcome, error) {
	a := d.Assess(ctx, rec)
	out := &Outcome{Assessment: a}
	if !a.Triggered || d.cases == nil {
		return out, nil
	}

	var loss float64
	if d.cfg.Loss != nil {
		loss = d.cfg.Loss(rec)
	}

	c, err := d.cases.CreateCase(ctx, domain.CaseInput{
		Type:            d.cfg.Type,
		Confidence:      a.Score,
		Evidence:        a.Evidence,
		EstimatedLoss:   loss,
		InvolvedParties: rec.Parties(),
		Location:        rec.StationKey(),
	})
	if err != nil {
		d.recordError(err)
		return out, fmt.Errorf("%s detector: %w", d.cfg.Name, err)
	}

	d.mu.Lock()
	d.status.Cases++
	d.mu.Unlock()

	out.Case = c
	return out, nil
}

// Detect returns the opened case, or nil when the record did not trigger.
func (d *Detector[R]) Detect(ctx context.Context, rec R) (*domain.FraudCase, error) {
	out, err := d.Evaluate(ctx, rec)
	if err != nil {
		return nil, err
	}
	return out.Case, nil
}

// EvaluateRecord is Evaluate for callers holding an untyped record.
func (d *Detector[R]) EvaluateRecord(ctx context.Context, rec domain.Record) (*Outcome, error) {
	typed, ok := rec.(R)
	if !ok {
		return nil, fmt.Errorf("%s detector cannot score %s records", d.cfg.Name, rec.Category())
	}
	return d.Evaluate(ctx, typed)
}

// Status returns a snapshot of the detector counters.
func (d *Detector[R]) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Detector[R]) run(ctx context.Context, p Producer[R], rec R) (sig domain.DetectionSignal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", ErrProducerFailed, p.Name, r)
		}
	}()

	sig, err = p.Fn(ctx, rec)
	if errors.Is(err, domain.ErrSignalUnavailable) {
		return sig, err
	}
	if err != nil {
		return sig, fmt.Errorf("%w: %s: %v", ErrProducerFailed, p.Name, err)
	}
	if math.IsNaN(sig.Score) || math.IsInf(sig.Score, 0) {
		return sig, fmt.Errorf("%w: %s returned non-finite score", ErrProducerFailed, p.Name)
	}

	sig.Name = p.Name
	sig.Score = signal.Clamp(sig.Score)
	return sig, nil
}

func (d *Detector[R]) recordFailure(err error) {
	d.mu.Lock()
	d.status.ProducerFailures++
	d.status.LastError = err.Error()
	d.mu.Unlock()
}

func (d *Detector[R]) recordError(err error) {
	d.mu.Lock()
	d.status.LastError = err.Error()
	d.mu.Unlock()
}

// summary describes the combined score. Every assessment carries it, so a
// case never lacks evidence.
func summary(a Assessment, scores map[string]float64) domain.Evidence {
	data := make(map[string]any, len(scores)+1)
	for name, score := range scores {
		data[name] = score
	}
	if len(a.Failed) > 0 {
		data["failed"] = a.Failed
	}

	return domain.Evidence{
		Type:        "signal_summary",
		Description: fmt.Sprintf("Combined score %.3f from %d signals (threshold %.2f)", a.Score, len(scores), a.Threshold),
		Source:      "Detector",
		Reliability: 1,
		Data:        data,
	}
}
