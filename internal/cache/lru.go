// Package cache holds the short-lived detection state: pump flow baselines,
// velocity counters and the monitor's processed-record markers.
package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/fuelguard/internal/metrics"
)

const counterPrefix = "counter:"

// Stats describes the contents and hit rate of an LRUCache.
type Stats struct {
	Size     int   `json:"size"`
	Capacity int   `json:"capacity"`
	Counters int   `json:"counters"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
}

// LRUCache is the community-tier cache and the L1 of TwoPhaseCache.
// Values are evicted least-recently-used first. Counters are kept apart
// from the LRU order: a burst of baselines must not reset a velocity window.
type LRUCache struct {
	mu       sync.Mutex
	maxSize  int
	layer    string
	items    map[string]*list.Element
	order    *list.List
	counters map[string]*window

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero means no expiry
}

type window struct {
	count int64
	ends  time.Time
}

func deadline(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func (e *entry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || !now.After(e.expiresAt)
}

// NewLRUCache creates a cache holding at most maxSize values.
func NewLRUCache(maxSize int) *LRUCache {
	return newLRU(maxSize, "memory")
}

func newLRU(maxSize int, layer string) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize:  maxSize,
		layer:    layer,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		counters: make(map[string]*window),
	}
}

// Get returns the value for key, or nil when absent or expired.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	val := c.lookup(key, time.Now())
	c.mu.Unlock()

	if val == nil {
		c.misses.Add(1)
	} else {
		c.hits.Add(1)
	}
	metrics.RecordCacheLookup(c.layer, val != nil)
	return val, nil
}

func (c *LRUCache) lookup(key string, now time.Time) []byte {
	elem, ok := c.items[key]
	if !ok {
		return nil
	}
	e := elem.Value.(*entry)
	if !e.live(now) {
		c.drop(elem)
		return nil
	}
	c.order.MoveToFront(elem)
	return e.value
}

// Set stores value under key. A non-positive ttl never expires.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	exp := deadline(time.Now(), ttl)
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry)
		e.value, e.expiresAt = value, exp
		c.order.MoveToFront(elem)
		return nil
	}

	c.items[key] = c.order.PushFront(&entry{key: key, value: value, expiresAt: exp})
	for c.order.Len() > c.maxSize {
		c.drop(c.order.Back())
	}
	return nil
}

// Delete removes the value and any counter stored under key.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.drop(elem)
	}
	delete(c.counters, counterPrefix+key)
	return nil
}

// IncrementCounter counts events in a fixed window that opens on the first
// increment and returns the new count.
func (c *LRUCache) IncrementCounter(ctx context.Context, key string, span time.Duration) (int64, error) {
	k := counterPrefix + key
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.counters[k]
	if ok && !now.After(w.ends) {
		w.count++
		return w.count, nil
	}

	if !ok && len(c.counters) >= c.maxSize {
		for ck, cw := range c.counters {
			if now.After(cw.ends) {
				delete(c.counters, ck)
			}
		}
	}
	c.counters[k] = &window{count: 1, ends: now.Add(span)}
	return 1, nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every value and counter.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	c.counters = make(map[string]*window)
	return nil
}

// Stats reports size, capacity and lookup counts.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:     c.order.Len(),
		Capacity: c.maxSize,
		Counters: len(c.counters),
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
	}
}

func (c *LRUCache) drop(elem *list.Element) {
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry).key)
}
