package ledger

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kailas-cloud/quotapool/internal/db"
)

// memStore implements the consumer interface for tests.
type memStore struct {
	mu      sync.Mutex
	vals    map[string]int64
	ttls    map[string]time.Duration
	incrErr error
}

func newMemStore() *memStore {
	return &memStore{vals: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return []byte(strconv.FormatInt(v, 10)), nil
}

func (m *memStore) IncrByWithTTL(_ context.Context, key string, val int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incrErr != nil {
		return 0, m.incrErr
	}
	m.vals[key] += val
	if _, ok := m.ttls[key]; !ok {
		m.ttls[key] = ttl
	}
	return m.vals[key], nil
}

func (m *memStore) Scan(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range m.vals {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
