// Package alert fans opened fraud cases out to subscribers.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opensource-finance/fuelguard/internal/domain"
	"github.com/opensource-finance/fuelguard/internal/metrics"
)

// Global is the subscription key that receives every case.
const Global = "*"

// Callback receives a published case. It runs on the publisher's goroutine
// and must not block.
type Callback func(c *domain.FraudCase)

type subscriber struct {
	id uint64
	cb Callback
}

// Dispatcher delivers each case once to the subscribers of its location and
// to global subscribers. Delivery is synchronous and never retried.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[string][]subscriber
	nextID uint64

	bus domain.EventBus
}

// NewDispatcher creates a dispatcher. When bus is non-nil every case is also
// forwarded as JSON on domain.TopicCaseDetected.
func NewDispatcher(bus domain.EventBus) *Dispatcher {
	return &Dispatcher{
		subs: make(map[string][]subscriber),
		bus:  bus,
	}
}

// Subscribe registers cb for cases at locationKey. An empty key or Global
// subscribes to everything. The returned func removes the subscription and
// is safe to call more than once.
func (d *Dispatcher) Subscribe(locationKey string, cb Callback) func() {
	if locationKey == "" {
		locationKey = Global
	}

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subs[locationKey] = append(d.subs[locationKey], subscriber{id: id, cb: cb})
	n := d.countLocked()
	d.mu.Unlock()
	metrics.SetAlertSubscribers(n)

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(locationKey, id) })
	}
}

func (d *Dispatcher) remove(key string, id uint64) {
	d.mu.Lock()
	list := d.subs[key]
	kept := make([]subscriber, 0, len(list))
	for _, s := range list {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(d.subs, key)
	} else {
		d.subs[key] = kept
	}
	n := d.countLocked()
	d.mu.Unlock()
	metrics.SetAlertSubscribers(n)
}

func (d *Dispatcher) countLocked() int {
	n := 0
	for _, list := range d.subs {
		n += len(list)
	}
	return n
}

// Subscribers returns the number of active subscriptions.
func (d *Dispatcher) Subscribers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.countLocked()
}

// Publish notifies subscribers of c. Callbacks are snapshotted under the read
// lock and invoked after it is released, so a callback may subscribe or
// unsubscribe without deadlocking.
func (d *Dispatcher) Publish(ctx context.Context, c *domain.FraudCase) error {
	if c == nil {
		return nil
	}

	if c.Severity == domain.SeverityCritical {
		slog.Error("CRITICAL FRAUD ALERT",
			"case_id", c.ID,
			"type", c.Type,
			"location", c.Location,
			"confidence", c.Confidence,
			"estimated_loss", c.EstimatedLoss,
		)
	}

	d.mu.RLock()
	targets := make([]subscriber, 0, len(d.subs[c.Location])+len(d.subs[Global]))
	if c.Location != Global {
		targets = append(targets, d.subs[c.Location]...)
	}
	targets = append(targets, d.subs[Global]...)
	d.mu.RUnlock()

	for _, s := range targets {
		d.deliver(s, c)
	}

	if d.bus == nil {
		return nil
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode case %s: %w", c.ID, err)
	}
	if err := d.bus.Publish(ctx, domain.TopicCaseDetected, payload); err != nil {
		return fmt.Errorf("failed to forward case %s: %w", c.ID, err)
	}
	return nil
}

func (d *Dispatcher) deliver(s subscriber, c *domain.FraudCase) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordAlert("panic")
			slog.Error("alert subscriber panicked",
				"case_id", c.ID,
				"subscriber", s.id,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	s.cb(c)
	metrics.RecordAlert("delivered")
}
