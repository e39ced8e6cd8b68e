package quotapool

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type staticToken struct {
	kind  CredentialKind
	token string
}

type appSecret struct {
	clientID, clientSecret string
}

type userSecret struct {
	appSecret
	refreshToken string
}

type authCode struct {
	appSecret
	code        string
	redirectURI string
}

type clientConfig struct {
	baseURL string
	authURL string
	timeout time.Duration
	rps     float64

	applications []appSecret
	users        []userSecret
	codes        []authCode
	tokens       []staticToken

	retryDelay  time.Duration
	maxAttempts int

	driver   string // "valkey" or "redis"
	addrs    []string
	password string

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// WithEndpoints sets the API base URL and the authorization server URL.
func WithEndpoints(baseURL, authURL string) Option {
	return optionFunc(func(c *clientConfig) {
		c.baseURL = baseURL
		c.authURL = authURL
	})
}

// WithTimeout sets the per-request HTTP timeout. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.timeout = d
	})
}

// WithRequestsPerSecond paces outgoing requests across all credentials.
// 0 disables pacing (default).
func WithRequestsPerSecond(rps float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.rps = rps
	})
}

// WithApplication adds an application credential obtained through the
// client_credentials grant. It is renewed before it expires.
func WithApplication(clientID, clientSecret string) Option {
	return optionFunc(func(c *clientConfig) {
		c.applications = append(c.applications, appSecret{clientID, clientSecret})
	})
}

// WithUser adds a user credential obtained through the refresh_token grant.
func WithUser(clientID, clientSecret, refreshToken string) Option {
	return optionFunc(func(c *clientConfig) {
		c.users = append(c.users, userSecret{appSecret{clientID, clientSecret}, refreshToken})
	})
}

// WithAuthorizationCode adds a user credential obtained through the
// authorization_code grant. The code is single-use; the credential is renewed
// with the refresh token issued for it.
func WithAuthorizationCode(clientID, clientSecret, code, redirectURI string) Option {
	return optionFunc(func(c *clientConfig) {
		c.codes = append(c.codes, authCode{appSecret{clientID, clientSecret}, code, redirectURI})
	})
}

// WithToken adds a ready access token. It is never renewed.
func WithToken(kind CredentialKind, token string) Option {
	return optionFunc(func(c *clientConfig) {
		c.tokens = append(c.tokens, staticToken{kind, token})
	})
}

// WithRetry sets the pause between attempts and caps the attempts per
// request. maxAttempts 0 retries until the context is done (default).
func WithRetry(delay time.Duration, maxAttempts int) Option {
	return optionFunc(func(c *clientConfig) {
		c.retryDelay = delay
		c.maxAttempts = maxAttempts
	})
}

// WithValkey persists per-credential usage to a Valkey instance.
func WithValkey(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "valkey"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithRedis persists per-credential usage to a Redis instance.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
