package credential

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/quotapool/internal/domain"
	"github.com/kailas-cloud/quotapool/internal/domain/quota"
)

// Kind distinguishes application credentials from user credentials.
type Kind string

// Credential kinds.
const (
	KindApplication Kind = "application"
	KindUser        Kind = "user"
)

// Default full budgets assigned by the remote API per kind.
const (
	DefaultApplicationWeight = 400
	DefaultUserWeight        = 30
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindApplication || k == KindUser
}

// DefaultMaxWeight returns the budget assumed until the server reports its own limit.
func (k Kind) DefaultMaxWeight() int {
	if k == KindApplication {
		return DefaultApplicationWeight
	}
	return DefaultUserWeight
}

// Credential is one authenticated identity with a replenishing request-weight budget.
// Identity fields are immutable; budget fields are guarded by mu.
type Credential struct {
	id           string
	kind         Kind
	accessToken  string
	tokenType    string
	clientID     string
	clientSecret string
	refreshToken string
	ownerID      string
	userID       string
	expiresAt    time.Time

	mu        sync.Mutex
	remaining int
	maxWeight int
	resetAt   time.Time
	exclusive bool
	retired   bool
}

// State is a point-in-time copy of the budget fields.
type State struct {
	Remaining int
	MaxWeight int
	ResetAt   time.Time
	Exclusive bool
}

// Option configures a Credential at construction.
type Option func(*Credential)

// WithID overrides the generated identifier.
func WithID(id string) Option {
	return func(c *Credential) { c.id = id }
}

// WithBudget sets the current and full budgets.
func WithBudget(remaining, maxWeight int) Option {
	return func(c *Credential) {
		c.remaining = remaining
		c.maxWeight = maxWeight
	}
}

// WithResetAt sets the instant after which the budget may be restored.
func WithResetAt(t time.Time) Option {
	return func(c *Credential) { c.resetAt = t }
}

// WithExpiresAt sets the access token expiry.
func WithExpiresAt(t time.Time) Option {
	return func(c *Credential) { c.expiresAt = t }
}

// WithClient attaches the client id/secret pair used for re-authentication.
func WithClient(id, secret string) Option {
	return func(c *Credential) {
		c.clientID = id
		c.clientSecret = secret
	}
}

// WithRefreshToken attaches a user refresh token.
func WithRefreshToken(token string) Option {
	return func(c *Credential) { c.refreshToken = token }
}

// WithUser sets the owning application and the user identifiers.
func WithUser(ownerID, userID string) Option {
	return func(c *Credential) {
		c.ownerID = ownerID
		c.userID = userID
	}
}

// New validates and creates a Credential. Without WithBudget the kind's default budget is used.
func New(kind Kind, accessToken, tokenType string, opts ...Option) (*Credential, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown credential kind %q: %w", kind, domain.ErrInvalidArgument)
	}
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required: %w", domain.ErrEmptyCredential)
	}
	if tokenType == "" {
		tokenType = "Bearer"
	}

	c := &Credential{
		id:          uuid.NewString(),
		kind:        kind,
		accessToken: accessToken,
		tokenType:   tokenType,
		remaining:   kind.DefaultMaxWeight(),
		maxWeight:   kind.DefaultMaxWeight(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.maxWeight < 0 {
		return nil, fmt.Errorf("max weight must be non-negative: %w", domain.ErrInvalidArgument)
	}
	return c, nil
}

// ID returns the pool-unique identifier.
func (c *Credential) ID() string { return c.id }

// Kind returns the credential class.
func (c *Credential) Kind() Kind { return c.kind }

// AccessToken returns the opaque access token.
func (c *Credential) AccessToken() string { return c.accessToken }

// TokenType returns the Authorization scheme.
func (c *Credential) TokenType() string { return c.tokenType }

// Authorization returns the Authorization header value.
func (c *Credential) Authorization() string { return c.tokenType + " " + c.accessToken }

// ClientID returns the application client id (application credentials).
func (c *Credential) ClientID() string { return c.clientID }

// ClientSecret returns the application client secret (application credentials).
func (c *Credential) ClientSecret() string { return c.clientSecret }

// RefreshToken returns the refresh token (user credentials).
func (c *Credential) RefreshToken() string { return c.refreshToken }

// OwnerID returns the application the user token was issued to.
func (c *Credential) OwnerID() string { return c.ownerID }

// UserID returns the user the token belongs to.
func (c *Credential) UserID() string { return c.userID }

// ExpiresAt returns the access token expiry (zero if unknown).
func (c *Credential) ExpiresAt() time.Time { return c.expiresAt }

// Expired reports whether the access token is no longer valid at now.
func (c *Credential) Expired(now time.Time) bool {
	return !c.expiresAt.IsZero() && !now.Before(c.expiresAt)
}

// Remaining returns the spendable budget.
func (c *Credential) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// MaxWeight returns the budget restored on replenishment.
func (c *Credential) MaxWeight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxWeight
}

// Exclusive reports whether the credential is checked out for a batch.
func (c *Credential) Exclusive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exclusive
}

// State returns a copy of the budget fields.
func (c *Credential) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Remaining: c.remaining,
		MaxWeight: c.maxWeight,
		ResetAt:   c.resetAt,
		Exclusive: c.exclusive,
	}
}

// TryTake checks out the credential if it is free and can cover weight.
// A shared take debits weight; an exclusive take only marks the credential.
func (c *Credential) TryTake(weight int, exclusive bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if weight < 0 || c.exclusive || c.retired || c.remaining < weight {
		return false
	}
	if exclusive {
		c.exclusive = true
		return true
	}
	c.remaining -= weight
	return true
}

// Retire takes the credential out of service unless it is checked out
// exclusively. A retired credential refuses every later checkout. Returns the
// budget at the moment of retirement.
func (c *Credential) Retire() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exclusive {
		return State{}, false
	}
	c.retired = true
	return State{
		Remaining: c.remaining,
		MaxWeight: c.maxWeight,
		ResetAt:   c.resetAt,
	}, true
}

// Retired reports whether the credential was taken out of service.
func (c *Credential) Retired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retired
}

// Adopt overwrites the budget fields with st. Used to hand a budget over to a
// renewed credential.
func (c *Credential) Adopt(st State) {
	c.mu.Lock()
	c.remaining = st.Remaining
	c.maxWeight = st.MaxWeight
	c.resetAt = st.ResetAt
	c.mu.Unlock()
}

// Release clears the exclusive checkout.
func (c *Credential) Release() {
	c.mu.Lock()
	c.exclusive = false
	c.mu.Unlock()
}

// Debit charges weight against the local estimate. The result may go negative
// until server feedback corrects it.
func (c *Credential) Debit(weight int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining -= weight
	return c.remaining
}

// Replenish restores the full budget if resetAt has elapsed and moves resetAt
// forward by interval. Returns false when nothing was due.
func (c *Credential) Replenish(now time.Time, interval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resetAt.After(now) {
		return false
	}
	c.remaining = c.maxWeight
	c.resetAt = c.resetAt.Add(interval)
	if !c.resetAt.After(now) {
		c.resetAt = now.Add(interval)
	}
	return true
}

// ApplyFeedback overwrites the budget fields reported by the server.
// Fields absent from f are left untouched. Returns true if anything changed.
func (c *Credential) ApplyFeedback(f quota.Feedback) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := false
	if f.HasRemaining && c.remaining != f.Remaining {
		c.remaining = f.Remaining
		changed = true
	}
	if f.HasResetAt && !c.resetAt.Equal(f.ResetAt) {
		c.resetAt = f.ResetAt
		changed = true
	}
	if f.HasLimit && c.maxWeight != f.Limit {
		c.maxWeight = f.Limit
		changed = true
	}
	return changed
}
