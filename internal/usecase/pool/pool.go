package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/quotapool/internal/domain"
	"github.com/kailas-cloud/quotapool/internal/domain/credential"
	"github.com/kailas-cloud/quotapool/internal/metrics"
)

// Defaults match the remote API quota window.
const (
	DefaultResetInterval = time.Minute
	DefaultSweepInterval = 10 * time.Second
)

// Snapshot is a point-in-time view of the pool for observability.
type Snapshot struct {
	Credentials     int
	FreeCredentials int
	FreeWeight      int
}

// Pool holds credentials and hands them out against their remaining weight.
//
// Lock order is pool mutex, then credential mutex. The wake channel is closed
// and replaced under the pool mutex on every event that can make a checkout
// succeed, so a blocked acquirer that read it under the same mutex right
// after a failed search cannot miss a wake-up.
type Pool struct {
	mu      sync.Mutex
	creds   []*credential.Credential
	byID    map[string]*credential.Credential
	signals map[string]*Signal
	wake    chan struct{}

	resetInterval time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	logger        *zap.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithResetInterval sets how far resetAt moves on each replenishment.
func WithResetInterval(d time.Duration) Option {
	return func(p *Pool) { p.resetInterval = d }
}

// WithSweepInterval sets how often Run sweeps for elapsed windows.
func WithSweepInterval(d time.Duration) Option {
	return func(p *Pool) { p.sweepInterval = d }
}

// WithClock overrides the time source used by Run.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New creates an empty pool.
func New(logger *zap.Logger, opts ...Option) *Pool {
	p := &Pool{
		byID:          make(map[string]*credential.Credential),
		signals:       make(map[string]*Signal),
		wake:          make(chan struct{}),
		resetInterval: DefaultResetInterval,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		logger:        logger,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Register adds a credential. Registration order is the search order.
func (p *Pool) Register(c *credential.Credential) error {
	if c == nil {
		return fmt.Errorf("register: %w", domain.ErrInvalidArgument)
	}

	p.mu.Lock()
	if _, ok := p.byID[c.ID()]; ok {
		p.mu.Unlock()
		return fmt.Errorf("register %s: %w", c.ID(), domain.ErrCredentialExists)
	}
	p.creds = append(p.creds, c)
	p.byID[c.ID()] = c
	p.broadcastLocked()
	p.mu.Unlock()

	p.logger.Debug("Credential registered",
		zap.String("credential", c.ID()),
		zap.String("kind", string(c.Kind())),
	)
	p.publish()
	return nil
}

// Deregister removes a credential. Returns false if it was not registered.
// A batch holding it keeps its reference until it releases.
func (p *Pool) Deregister(c *credential.Credential) bool {
	if c == nil {
		return false
	}
	p.mu.Lock()
	if _, ok := p.byID[c.ID()]; !ok {
		p.mu.Unlock()
		return false
	}
	delete(p.byID, c.ID())
	for i, cur := range p.creds {
		if cur == c {
			p.creds = append(p.creds[:i], p.creds[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	p.logger.Debug("Credential deregistered", zap.String("credential", c.ID()))
	p.publish()
	return true
}

// Replace swaps old for fresh at old's position and hands old's budget over
// at the moment of the swap, so both tokens never spend the same window twice.
// Fails with ErrCredentialBusy while old is checked out exclusively; old then
// stays in the pool and keeps being replenished.
func (p *Pool) Replace(old, fresh *credential.Credential) error {
	if old == nil || fresh == nil {
		return fmt.Errorf("replace: %w", domain.ErrInvalidArgument)
	}

	p.mu.Lock()
	if _, ok := p.byID[old.ID()]; !ok {
		p.mu.Unlock()
		return fmt.Errorf("replace %s: %w", old.ID(), domain.ErrCredentialNotFound)
	}
	if _, ok := p.byID[fresh.ID()]; ok {
		p.mu.Unlock()
		return fmt.Errorf("replace with %s: %w", fresh.ID(), domain.ErrCredentialExists)
	}
	// exclusive checkouts happen under p.mu, so none can start between
	// the retire and the swap
	st, ok := old.Retire()
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("replace %s: %w", old.ID(), domain.ErrCredentialBusy)
	}
	fresh.Adopt(st)
	for i, cur := range p.creds {
		if cur == old {
			p.creds[i] = fresh
			break
		}
	}
	delete(p.byID, old.ID())
	p.byID[fresh.ID()] = fresh
	p.broadcastLocked()
	p.mu.Unlock()

	p.logger.Debug("Credential replaced",
		zap.String("credential", old.ID()),
		zap.String("new_credential", fresh.ID()),
	)
	p.publish()
	return nil
}

// AcquireShared returns the first free credential that can cover weight and
// debits it. Never blocks.
func (p *Pool) AcquireShared(weight int) (*credential.Credential, bool) {
	p.mu.Lock()
	c := p.findLocked(weight, false)
	p.mu.Unlock()
	return c, p.observeCheckout("shared", c)
}

// AcquireSharedBlocking is AcquireShared that waits for a budget-changing
// event until it succeeds or ctx is done.
func (p *Pool) AcquireSharedBlocking(ctx context.Context, weight int) (*credential.Credential, error) {
	return p.acquireBlocking(ctx, weight, false)
}

// TryAcquireExclusive returns the first free credential that can cover weight
// and marks it exclusive without debiting. Never blocks.
func (p *Pool) TryAcquireExclusive(weight int) (*credential.Credential, bool) {
	p.mu.Lock()
	c := p.findLocked(weight, true)
	p.mu.Unlock()
	return c, p.observeCheckout("exclusive", c)
}

// AcquireExclusive is TryAcquireExclusive that waits until it succeeds or ctx is done.
func (p *Pool) AcquireExclusive(ctx context.Context, weight int) (*credential.Credential, error) {
	return p.acquireBlocking(ctx, weight, true)
}

func (p *Pool) acquireBlocking(ctx context.Context, weight int, exclusive bool) (*credential.Credential, error) {
	if weight < 0 {
		return nil, fmt.Errorf("weight %d: %w", weight, domain.ErrInvalidArgument)
	}
	mode := "shared"
	if exclusive {
		mode = "exclusive"
	}

	for {
		p.mu.Lock()
		c := p.findLocked(weight, exclusive)
		wake := p.wake
		p.mu.Unlock()

		if c != nil {
			p.observeCheckout(mode, c)
			return c, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire %s weight %d: %w", mode, weight, ctx.Err())
		case <-wake:
		}
	}
}

// Release ends an exclusive checkout and wakes blocked acquirers.
func (p *Pool) Release(c *credential.Credential) {
	c.Release()

	p.mu.Lock()
	p.broadcastLocked()
	p.mu.Unlock()

	p.publish()
}

// SweepReplenishment restores every credential whose reset time has passed
// and returns the replenished ones. When nothing is due no state changes and
// nobody is notified.
func (p *Pool) SweepReplenishment(now time.Time) []*credential.Credential {
	var replenished []*credential.Credential
	for _, c := range p.Credentials() {
		if c.Replenish(now, p.resetInterval) {
			replenished = append(replenished, c)
			metrics.PoolReplenishmentsTotal.WithLabelValues(string(c.Kind())).Inc()
		}
	}
	if len(replenished) > 0 {
		p.NotifyUpdated(replenished...)
	}
	return replenished
}

// Run sweeps on every sweep interval until ctx is done.
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := len(p.SweepReplenishment(p.now())); n > 0 {
				p.logger.Debug("Credentials replenished", zap.Int("count", n))
			}
		}
	}
}

// NotifyUpdated tells waiters that the budgets of creds changed: the
// credentials' Backpressure Signals fire and blocked acquirers re-check.
func (p *Pool) NotifyUpdated(creds ...*credential.Credential) {
	p.mu.Lock()
	for _, c := range creds {
		if sig, ok := p.signals[c.ID()]; ok {
			sig.notify()
		}
	}
	p.broadcastLocked()
	p.mu.Unlock()

	p.publish()
}

// Snapshot counts credentials, free credentials (not exclusive, budget not
// overdrawn) and the weight left on non-exclusive ones.
func (p *Pool) Snapshot() Snapshot {
	creds := p.Credentials()
	s := Snapshot{Credentials: len(creds)}
	for _, c := range creds {
		st := c.State()
		if st.Exclusive {
			continue
		}
		if st.Remaining >= 0 {
			s.FreeCredentials++
		}
		s.FreeWeight += st.Remaining
	}
	return s
}

// Credentials returns a copy of the current membership in registration order.
func (p *Pool) Credentials() []*credential.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*credential.Credential, len(p.creds))
	copy(out, p.creds)
	return out
}

// Len returns the number of registered credentials.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

func (p *Pool) findLocked(weight int, exclusive bool) *credential.Credential {
	for _, c := range p.creds {
		if c.TryTake(weight, exclusive) {
			return c
		}
	}
	return nil
}

func (p *Pool) broadcastLocked() {
	close(p.wake)
	p.wake = make(chan struct{})
}

func (p *Pool) observeCheckout(mode string, c *credential.Credential) bool {
	if c == nil {
		metrics.PoolCheckoutsTotal.WithLabelValues(mode, "empty").Inc()
		return false
	}
	metrics.PoolCheckoutsTotal.WithLabelValues(mode, "ok").Inc()
	return true
}

func (p *Pool) publish() {
	s := p.Snapshot()
	metrics.PoolCredentials.Set(float64(s.Credentials))
	metrics.PoolFreeCredentials.Set(float64(s.FreeCredentials))
	metrics.PoolFreeWeight.Set(float64(s.FreeWeight))
}
