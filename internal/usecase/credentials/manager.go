package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/quotapool/internal/domain"
	"github.com/kailas-cloud/quotapool/internal/domain/credential"
	"github.com/kailas-cloud/quotapool/internal/metrics"
)

// DefaultSkew is how long before expiry a credential is renewed.
const DefaultSkew = 2 * time.Minute

// Manager seeds the pool with credentials and renews them before they expire.
type Manager struct {
	pool   Pool
	ex     Exchanger
	logger *zap.Logger

	skew      time.Duration
	appWeight int
	usrWeight int
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithSkew sets how long before expiry a credential is renewed.
func WithSkew(d time.Duration) Option {
	return func(m *Manager) { m.skew = d }
}

// WithMaxWeights sets the full budgets assumed for new credentials.
func WithMaxWeights(application, user int) Option {
	return func(m *Manager) {
		m.appWeight = application
		m.usrWeight = user
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager. ex may be nil when only static credentials are used.
func New(p Pool, ex Exchanger, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		pool:      p,
		ex:        ex,
		logger:    logger,
		skew:      DefaultSkew,
		appWeight: credential.DefaultApplicationWeight,
		usrWeight: credential.DefaultUserWeight,
		now:       time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// AddApplication exchanges client credentials and registers the result.
func (m *Manager) AddApplication(ctx context.Context, clientID, clientSecret string) (*credential.Credential, error) {
	if m.ex == nil {
		return nil, fmt.Errorf("no exchanger configured: %w", domain.ErrExchangeFailed)
	}
	tok, err := m.ex.ClientCredentials(ctx, clientID, clientSecret)
	m.observe(credential.KindApplication, err)
	if err != nil {
		return nil, fmt.Errorf("application %s: %w", clientID, err)
	}
	c, err := credential.FromToken(credential.KindApplication, tok, m.now(),
		credential.WithClient(clientID, clientSecret),
		m.budget(credential.KindApplication),
	)
	if err != nil {
		return nil, err
	}
	if err := m.pool.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// AddUser exchanges a user's refresh token, authenticated as the owning
// application, and registers the result.
func (m *Manager) AddUser(ctx context.Context, clientID, clientSecret, refreshToken string) (*credential.Credential, error) {
	if m.ex == nil {
		return nil, fmt.Errorf("no exchanger configured: %w", domain.ErrExchangeFailed)
	}
	tok, err := m.ex.Refresh(ctx, clientID, clientSecret, refreshToken)
	m.observe(credential.KindUser, err)
	if err != nil {
		return nil, fmt.Errorf("user of %s: %w", clientID, err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	c, err := credential.FromToken(credential.KindUser, tok, m.now(),
		credential.WithClient(clientID, clientSecret),
		m.budget(credential.KindUser),
	)
	if err != nil {
		return nil, err
	}
	if err := m.pool.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// AddUserFromCode exchanges an authorization code granted by a user to the
// application and registers the result. The returned refresh token keeps the
// credential renewable.
func (m *Manager) AddUserFromCode(
	ctx context.Context, clientID, clientSecret, code, redirectURI string,
) (*credential.Credential, error) {
	if m.ex == nil {
		return nil, fmt.Errorf("no exchanger configured: %w", domain.ErrExchangeFailed)
	}
	if code == "" {
		return nil, fmt.Errorf("authorization code is required: %w", domain.ErrInvalidArgument)
	}
	tok, err := m.ex.AuthorizationCode(ctx, clientID, clientSecret, code, redirectURI)
	m.observe(credential.KindUser, err)
	if err != nil {
		return nil, fmt.Errorf("user code of %s: %w", clientID, err)
	}
	c, err := credential.FromToken(credential.KindUser, tok, m.now(),
		credential.WithClient(clientID, clientSecret),
		m.budget(credential.KindUser),
	)
	if err != nil {
		return nil, err
	}
	if err := m.pool.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// AddStatic registers a pre-issued token. Its expiry is read from the token
// when it is a JWT.
func (m *Manager) AddStatic(kind credential.Kind, accessToken, tokenType string) (*credential.Credential, error) {
	c, err := credential.FromToken(kind, credential.Token{AccessToken: accessToken, TokenType: tokenType}, m.now(),
		m.budget(kind),
	)
	if err != nil {
		return nil, err
	}
	if err := m.pool.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// RefreshExpired renews every credential that expires within the skew of now
// and is not checked out exclusively. The renewed credential takes the old
// one's place and budget in a single step; if a batch checked the old one out
// during the exchange, it stays in the pool and is renewed on a later pass.
// Failures are logged and retried on the next pass. Returns the number of
// renewed credentials.
func (m *Manager) RefreshExpired(ctx context.Context, now time.Time) int {
	renewed := 0
	for _, old := range m.pool.Credentials() {
		if old.ExpiresAt().IsZero() || old.ExpiresAt().After(now.Add(m.skew)) || old.Exclusive() {
			continue
		}
		log := m.logger.With(
			zap.String("credential", old.ID()),
			zap.String("kind", string(old.Kind())),
			zap.Time("expires_at", old.ExpiresAt()),
		)

		fresh, err := m.renew(ctx, old, now)
		if err != nil {
			if errors.Is(err, errNotRenewable) {
				log.Debug("Credential cannot be renewed")
				continue
			}
			log.Warn("Credential refresh failed", zap.Error(err))
			continue
		}
		if err := m.pool.Replace(old, fresh); err != nil {
			if errors.Is(err, domain.ErrCredentialBusy) {
				log.Debug("Credential checked out during refresh, retrying later")
				continue
			}
			log.Error("Failed to replace refreshed credential", zap.Error(err))
			continue
		}
		renewed++
		log.Info("Credential refreshed", zap.String("new_credential", fresh.ID()))
	}
	return renewed
}

// Run refreshes on every tick until ctx is done.
func (m *Manager) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RefreshExpired(ctx, m.now())
		}
	}
}

var errNotRenewable = errors.New("credential has no renewal grant")

func (m *Manager) renew(ctx context.Context, old *credential.Credential, now time.Time) (*credential.Credential, error) {
	if m.ex == nil || old.ClientID() == "" {
		return nil, errNotRenewable
	}

	var (
		tok credential.Token
		err error
	)
	switch old.Kind() {
	case credential.KindApplication:
		tok, err = m.ex.ClientCredentials(ctx, old.ClientID(), old.ClientSecret())
	case credential.KindUser:
		if old.RefreshToken() == "" {
			return nil, errNotRenewable
		}
		tok, err = m.ex.Refresh(ctx, old.ClientID(), old.ClientSecret(), old.RefreshToken())
	default:
		return nil, errNotRenewable
	}
	m.observe(old.Kind(), err)
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = old.RefreshToken()
	}

	// the budget is handed over by the pool at the swap
	return credential.FromToken(old.Kind(), tok, now,
		credential.WithClient(old.ClientID(), old.ClientSecret()),
		m.budget(old.Kind()),
	)
}

func (m *Manager) budget(kind credential.Kind) credential.Option {
	w := m.appWeight
	if kind == credential.KindUser {
		w = m.usrWeight
	}
	return credential.WithBudget(w, w)
}

func (m *Manager) observe(kind credential.Kind, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.CredentialRefreshesTotal.WithLabelValues(string(kind), result).Inc()
}
