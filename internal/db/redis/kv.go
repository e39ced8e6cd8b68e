package redis

import (
	"context"
	"time"

	"github.com/kailas-cloud/quotapool/internal/db"
)

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, wrap(db.OpGet, err)
	}
	return data, nil
}

// IncrByWithTTL pipelines INCRBY and EXPIRE NX in one round trip.
func (s *Store) IncrByWithTTL(ctx context.Context, key string, val int64, ttl time.Duration) (int64, error) {
	pipe := s.rdb.Pipeline()
	incr := pipe.IncrBy(ctx, key, val)
	expire := pipe.ExpireNX(ctx, key, ttl)
	_, _ = pipe.Exec(ctx)

	n, err := incr.Result()
	if err != nil {
		return 0, wrap(db.OpIncrBy, err)
	}
	if err := expire.Err(); err != nil {
		return n, wrap(db.OpExpire, err)
	}
	return n, nil
}

// Scan returns all keys matching pattern.
func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, wrap(db.OpScan, err)
	}
	return keys, nil
}
