package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/quotapool/internal/db"
)

const (
	minuteLayout = "200601021504"
	dayLayout    = "20060102"
)

// store is the consumer interface for ledger operations (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrByWithTTL(ctx context.Context, key string, val int64, ttl time.Duration) (int64, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Usage is the weight a credential spent in the current minute and day.
type Usage struct {
	Minute int64
	Day    int64
}

// Ledger keeps per-credential weight counters in Valkey/Redis.
// Record only accumulates in memory; Run flushes the accumulated deltas.
type Ledger struct {
	store     store
	prefix    string
	minuteTTL time.Duration
	dayTTL    time.Duration
	every     time.Duration
	now       func() time.Time
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[string]int64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithTTL overrides the minute and day key TTLs (defaults 2h and 48h).
func WithTTL(minute, day time.Duration) Option {
	return func(l *Ledger) {
		l.minuteTTL = minute
		l.dayTTL = day
	}
}

// WithFlushInterval overrides how often Run writes accumulated deltas (default 1s).
func WithFlushInterval(d time.Duration) Option {
	return func(l *Ledger) { l.every = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger writing keys under prefix (e.g. "quotapool:").
func New(s store, prefix string, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:     s,
		prefix:    prefix,
		minuteTTL: 2 * time.Hour,
		dayTTL:    48 * time.Hour,
		every:     time.Second,
		now:       time.Now,
		logger:    logger,
		pending:   make(map[string]int64),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Record adds weight to the credential's minute and day counters.
// Never blocks on the store.
func (l *Ledger) Record(_ context.Context, credentialID string, weight int) {
	if weight <= 0 || credentialID == "" {
		return
	}
	now := l.now().UTC()

	l.mu.Lock()
	l.pending[l.minuteKey(credentialID, now)] += int64(weight)
	l.pending[l.dayKey(credentialID, now)] += int64(weight)
	l.mu.Unlock()
}

// Run flushes pending deltas every flush interval until ctx is done,
// then makes a final flush with a short timeout.
func (l *Ledger) Run(ctx context.Context) {
	ticker := time.NewTicker(l.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := l.Flush(flushCtx); err != nil {
				l.logger.Warn("Final ledger flush failed", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := l.Flush(ctx); err != nil {
				l.logger.Warn("Ledger flush failed", zap.Error(err))
			}
		}
	}
}

// Flush writes all pending deltas. Deltas that failed to write are kept
// for the next flush.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	batch := l.pending
	l.pending = make(map[string]int64, len(batch))
	l.mu.Unlock()

	var errs []error
	for key, delta := range batch {
		if _, err := l.store.IncrByWithTTL(ctx, key, delta, l.ttlForKey(key)); err != nil {
			errs = append(errs, fmt.Errorf("ledger INCRBY %s: %w", key, err))
			l.mu.Lock()
			l.pending[key] += delta
			l.mu.Unlock()
		}
	}
	return errors.Join(errs...)
}

// Usage returns the persisted usage of a credential at the given moment.
func (l *Ledger) Usage(ctx context.Context, credentialID string, at time.Time) (Usage, error) {
	at = at.UTC()
	minute, err := l.get(ctx, l.minuteKey(credentialID, at))
	if err != nil {
		return Usage{}, err
	}
	day, err := l.get(ctx, l.dayKey(credentialID, at))
	if err != nil {
		return Usage{}, err
	}
	return Usage{Minute: minute, Day: day}, nil
}

// DayTotals returns the persisted weight per credential for the day containing at.
func (l *Ledger) DayTotals(ctx context.Context, at time.Time) (map[string]int64, error) {
	dayPrefix := fmt.Sprintf("%susage:day:%s:", l.prefix, at.UTC().Format(dayLayout))
	keys, err := l.store.Scan(ctx, dayPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("ledger SCAN: %w", err)
	}

	totals := make(map[string]int64, len(keys))
	for _, key := range keys {
		val, err := l.get(ctx, key)
		if err != nil {
			return nil, err
		}
		totals[strings.TrimPrefix(key, dayPrefix)] = val
	}
	return totals, nil
}

// Pending returns the number of counters waiting for the next flush.
func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// get returns the counter value. Returns 0 if the key does not exist.
func (l *Ledger) get(ctx context.Context, key string) (int64, error) {
	data, err := l.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("ledger GET %s: %w", key, err)
	}

	val, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ledger GET %s parse: %w", key, err)
	}
	return val, nil
}

func (l *Ledger) minuteKey(credentialID string, t time.Time) string {
	return fmt.Sprintf("%susage:minute:%s:%s", l.prefix, t.Format(minuteLayout), credentialID)
}

func (l *Ledger) dayKey(credentialID string, t time.Time) string {
	return fmt.Sprintf("%susage:day:%s:%s", l.prefix, t.Format(dayLayout), credentialID)
}

// ttlForKey determines TTL based on the key format (minute vs day).
func (l *Ledger) ttlForKey(key string) time.Duration {
	if strings.Contains(key, ":minute:") {
		return l.minuteTTL
	}
	return l.dayTTL
}
