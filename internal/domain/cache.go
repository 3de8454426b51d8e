package domain

import (
	"context"
	"time"
)

// Cache stores detector state that must survive between evaluations:
// station baselines, velocity windows and monitor dedupe markers. Keys are
// namespaced by the caller, e.g. "baseline:pump:ST-1/3".
type Cache interface {
	// Get returns nil, nil for a missing or expired key.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// IncrementCounter adds one to a windowed counter and returns the new
	// count. The window opens on the first increment and is not extended
	// by later ones.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and sizes the cache.
type CacheConfig struct {
	Type string `koanf:"type" json:"type"` // memory | redis

	// local LRU, also the L1 of a two-phase cache
	LocalMaxSize int           `koanf:"local_max_size" json:"localMaxSize"`
	LocalTTL     time.Duration `koanf:"local_ttl" json:"localTtl"`

	RedisAddr     string `koanf:"redis_addr" json:"redisAddr"`
	RedisPassword string `koanf:"redis_password" json:"-"`
	RedisDB       int    `koanf:"redis_db" json:"redisDb"`

	// KeyPrefix namespaces every Redis key so deployments can share a server.
	KeyPrefix string `koanf:"key_prefix" json:"keyPrefix"`

	// EnableTwoPhase fronts Redis with the local LRU.
	EnableTwoPhase bool `koanf:"two_phase" json:"twoPhase"`
}
