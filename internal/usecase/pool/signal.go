package pool

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/quotapool/internal/domain"
	"github.com/kailas-cloud/quotapool/internal/domain/credential"
)

// Signal is a coalescing wake-up for a batch parked on one credential.
// Notifications that arrive while nobody waits are kept, at most one.
type Signal struct {
	cred *credential.Credential
	ch   chan struct{}
}

// Subscribe creates the Signal for c. Only one Signal per credential may exist.
func (p *Pool) Subscribe(c *credential.Credential) (*Signal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.signals[c.ID()]; ok {
		return nil, fmt.Errorf("subscribe %s: %w", c.ID(), domain.ErrSignalExists)
	}
	sig := &Signal{cred: c, ch: make(chan struct{}, 1)}
	p.signals[c.ID()] = sig
	return sig, nil
}

// Unsubscribe removes sig. Removing a Signal that was already replaced is a no-op.
func (p *Pool) Unsubscribe(sig *Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.signals[sig.cred.ID()]; ok && cur == sig {
		delete(p.signals, sig.cred.ID())
	}
}

// Credential returns the credential the Signal watches.
func (s *Signal) Credential() *credential.Credential { return s.cred }

// C returns the channel that receives wake-ups.
func (s *Signal) C() <-chan struct{} { return s.ch }

// Wait blocks until the Signal fires or ctx is done.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Signal) notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}
