package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

// PumpBehavior keeps a rolling flow-rate baseline per pump in the cache and
// scores how far a dispense departs from it.
type PumpBehavior struct {
	cache domain.Cache

	// Alpha is the EWMA smoothing factor for the baseline.
	Alpha float64

	// TTL bounds how long an idle pump's baseline is kept.
	TTL time.Duration

	// Baseline updates are read-modify-write; one stripe per pump key
	// serializes them within this process.
	locks [64]sync.Mutex
}

type pumpBaseline struct {
	FlowRate float64 `json:"flowRate"`
	Samples  int     `json:"samples"`
}

// NewPumpBehavior creates a pump behaviour analyzer backed by cache.
func NewPumpBehavior(cache domain.Cache) *PumpBehavior {
	return &PumpBehavior{
		cache: cache,
		Alpha: 0.1,
		TTL:   30 * 24 * time.Hour,
	}
}

func baselineKey(p *domain.PumpTransaction) string {
	return "baseline:pump:" + p.Subject()
}

func (a *PumpBehavior) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &a.locks[h.Sum32()%uint32(len(a.locks))]
}

// Enrich fills BaselineFlowRate from the stored baseline when the record
// does not carry one, then folds the record's flow rate into the baseline.
// Concurrent calls for the same pump are serialized in-process; instances
// sharing a Redis cache may still interleave their updates.
func (a *PumpBehavior) Enrich(ctx context.Context, p *domain.PumpTransaction) error {
	key := baselineKey(p)
	mu := a.lock(key)
	mu.Lock()
	defer mu.Unlock()

	var base pumpBaseline
	raw, err := a.cache.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read pump baseline: %w", err)
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &base); err != nil {
			base = pumpBaseline{}
		}
	}

	if p.BaselineFlowRate == 0 && base.Samples > 0 {
		p.BaselineFlowRate = base.FlowRate
	}

	if p.FlowRate > 0 {
		if base.Samples == 0 {
			base.FlowRate = p.FlowRate
		} else {
			base.FlowRate = a.Alpha*p.FlowRate + (1-a.Alpha)*base.FlowRate
		}
		base.Samples++

		data, _ := json.Marshal(base)
		if err := a.cache.Set(ctx, key, data, a.TTL); err != nil {
			return fmt.Errorf("failed to store pump baseline: %w", err)
		}
	}
	return nil
}

// Analyze scores flow deviation from the baseline and inconsistency between
// quantity, flow rate and duration. Without a baseline the signal is unavailable.
func (a *PumpBehavior) Analyze(ctx context.Context, p *domain.PumpTransaction) (domain.DetectionSignal, error) {
	if p.BaselineFlowRate <= 0 {
		return domain.DetectionSignal{}, domain.ErrSignalUnavailable
	}

	var ev []domain.Evidence

	deviation := math.Abs(ratio(p.FlowRate, p.BaselineFlowRate))
	flowScore := deviation / 0.5
	if deviation > 0.15 {
		ev = append(ev, evidence("flow_deviation", SourceBehavior, 0.8,
			map[string]float64{"flowRate": p.FlowRate, "baseline": p.BaselineFlowRate},
			"Flow rate %.1f L/min deviates %.0f%% from baseline %.1f", p.FlowRate, deviation*100, p.BaselineFlowRate))
	}

	// Quantity should equal flow (L/min) times duration (s) / 60.
	var consistencyScore float64
	if p.FlowRate > 0 && p.Duration > 0 {
		dispensed := p.FlowRate * p.Duration / 60
		gap := math.Abs(ratio(p.Quantity, dispensed))
		consistencyScore = gap / 0.3
		if gap > 0.1 {
			ev = append(ev, evidence("dispense_mismatch", SourceBehavior, 0.75,
				map[string]float64{"quantity": p.Quantity, "dispensed": dispensed},
				"Metered quantity %.1f L differs %.0f%% from flow-derived %.1f L", p.Quantity, gap*100, dispensed))
		}
	}

	return result("behavior", math.Max(flowScore, consistencyScore), ev...), nil
}

// PumpLoss is the value gap between the charged amount and quantity times price.
func PumpLoss(p *domain.PumpTransaction) float64 {
	if p.UnitPrice <= 0 {
		return 0
	}
	expected := p.Quantity * p.UnitPrice
	return LossValue(expected-p.Amount, 1)
}
