package db

import (
	"context"
	"time"
)

// Store is the database facade used by the service: connectivity plus counters.
type Store interface {
	Pinger
	KVStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides the key-value operations the usage ledger needs.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// IncrByWithTTL increments key by val and sets ttl only if the key has no expiry yet.
	// Returns the value after the increment.
	IncrByWithTTL(ctx context.Context, key string, val int64, ttl time.Duration) (int64, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}
