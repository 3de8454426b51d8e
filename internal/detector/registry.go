package detector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

// StatusReporter is anything that can report detector counters.
type StatusReporter interface {
	Status() Status
}

// Runner scores untyped records of one category.
type Runner interface {
	StatusReporter
	Category() string
	EvaluateRecord(ctx context.Context, rec domain.Record) (*Outcome, error)
}

// Registry holds the detectors built at startup. It is created once and
// shared by the scheduler, the ingest worker and the API.
type Registry struct {
	Pump        *Detector[*domain.PumpTransaction]
	Driver      *Detector[*domain.DriverActivity]
	Inventory   *Detector[*domain.InventoryRecord]
	Transaction *Detector[*domain.SalesTransaction]
	Pricing     *Detector[*domain.PricingChange]
	Document    *Detector[*domain.Document]

	ledger *Ledger

	mu        sync.RWMutex
	reporters map[string]StatusReporter
	runners   map[string]Runner
}

// NewRegistry builds the six built-in detectors from deps.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{
		Pump:        NewPump(deps),
		Driver:      NewDriver(deps),
		Inventory:   NewInventory(deps),
		Transaction: NewTransaction(deps),
		Pricing:     NewPricing(deps),
		Document:    NewDocument(deps),
		ledger:      NewLedger(deps.Cache, deps.LedgerTTL),
		reporters:   make(map[string]StatusReporter),
		runners:     make(map[string]Runner),
	}

	for _, d := range []Runner{r.Pump, r.Driver, r.Inventory, r.Transaction, r.Pricing, r.Document} {
		r.reporters[d.Status().Name] = d
		r.runners[d.Category()] = d
	}
	return r
}

// Register adds a custom detector to status reporting. A reporter that is
// also a Runner takes over its category.
func (r *Registry) Register(name string, reporter StatusReporter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reporters[name] = reporter
	if runner, ok := reporter.(Runner); ok {
		r.runners[runner.Category()] = runner
	}
}

// For returns the detector for a record category.
func (r *Registry) For(category string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[category]
	return runner, ok
}

// Ledger returns the scored-record ledger shared with the background scans.
func (r *Registry) Ledger() *Ledger {
	return r.ledger
}

// Claim marks rec as scored. Callers that store a record before scoring it
// claim it first so a concurrent background scan skips it.
func (r *Registry) Claim(ctx context.Context, rec domain.Record) {
	r.ledger.Mark(ctx, rec.Category(), rec.RecordID(), 0)
}

// Evaluate routes rec to the detector of its category and marks it scored.
// A failed evaluation releases the mark so a later scan can retry.
func (r *Registry) Evaluate(ctx context.Context, rec domain.Record) (*Outcome, error) {
	runner, ok := r.For(rec.Category())
	if !ok {
		return nil, fmt.Errorf("no detector for %s records", rec.Category())
	}

	r.Claim(ctx, rec)
	out, err := runner.EvaluateRecord(ctx, rec)
	if err != nil {
		r.ledger.Forget(ctx, rec.Category(), rec.RecordID())
		return nil, err
	}
	return out, nil
}

// Statuses reports every registered detector, keyed by name.
func (r *Registry) Statuses() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Status, len(r.reporters))
	for name, rep := range r.reporters {
		out[name] = rep.Status()
	}
	return out
}

// Names lists registered detector names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.reporters))
	for name := range r.reporters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
