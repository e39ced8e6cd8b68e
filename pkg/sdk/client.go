package quotapool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/quotapool/internal/db"
	dbRedis "github.com/kailas-cloud/quotapool/internal/db/redis"
	dbValkey "github.com/kailas-cloud/quotapool/internal/db/valkey"
	domauction "github.com/kailas-cloud/quotapool/internal/domain/auction"
	"github.com/kailas-cloud/quotapool/internal/domain/credential"
	"github.com/kailas-cloud/quotapool/internal/repository/ledger"
	"github.com/kailas-cloud/quotapool/internal/transport/eapi"
	"github.com/kailas-cloud/quotapool/internal/transport/oauth"
	auctionuc "github.com/kailas-cloud/quotapool/internal/usecase/auction"
	"github.com/kailas-cloud/quotapool/internal/usecase/credentials"
	"github.com/kailas-cloud/quotapool/internal/usecase/dispatch"
	healthuc "github.com/kailas-cloud/quotapool/internal/usecase/health"
	"github.com/kailas-cloud/quotapool/internal/usecase/pool"
	statusuc "github.com/kailas-cloud/quotapool/internal/usecase/status"
)

const (
	defaultReadinessTimeout = 10 * time.Second
	defaultTimeout          = 30 * time.Second
	refreshInterval         = time.Minute
	ledgerPrefix            = "quotapool:sdk:"
)

// Internal interfaces, swapped for fakes in tests.
type auctionUseCase interface {
	History(ctx context.Context, region, itemID string, p auctionuc.Page) (domauction.HistoryPage, error)
	MultiHistory(ctx context.Context, region string, itemIDs []string, p auctionuc.Page) ([]domauction.Sale, error)
	LongHistory(ctx context.Context, region, itemID string, q auctionuc.LongQuery) ([]domauction.Sale, error)
	Lots(ctx context.Context, region, itemID string, p auctionuc.Page) (domauction.LotsPage, error)
	MultiLots(ctx context.Context, region string, itemIDs []string, p auctionuc.Page) ([]domauction.Lot, error)
	Clan(ctx context.Context, region, clanID string) (domauction.ClanInfo, bool, error)
}

type statusUseCase interface {
	Report(ctx context.Context) (statusuc.Report, error)
}

type healthUseCase interface {
	Check(ctx context.Context) healthuc.Report
}

type credentialManager interface {
	AddApplication(ctx context.Context, clientID, clientSecret string) (*credential.Credential, error)
	AddUserFromCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*credential.Credential, error)
	AddStatic(kind credential.Kind, accessToken, tokenType string) (*credential.Credential, error)
}

// Client is the quotapool SDK entry point.
type Client struct {
	store  db.Store
	ledger *ledger.Ledger
	pool   *pool.Pool
	mgr    *credentials.Manager

	creds      credentialManager
	auctionSvc auctionUseCase
	statusSvc  statusUseCase
	healthSvc  healthUseCase
	obs        *observer
}

// New creates a Client and obtains every configured credential.
// The provided context is used for the token exchanges and the initial
// readiness check of the usage store.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{timeout: defaultTimeout}
	for _, o := range opts {
		o.apply(cfg)
	}

	if cfg.baseURL == "" {
		return nil, errors.New("quotapool: base URL required (use WithEndpoints)")
	}
	exchanged := len(cfg.applications) + len(cfg.users) + len(cfg.codes)
	if exchanged+len(cfg.tokens) == 0 {
		return nil, errors.New("quotapool: at least one credential required")
	}
	if exchanged > 0 && cfg.authURL == "" {
		return nil, errors.New("quotapool: auth URL required for exchanged credentials")
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	var store db.Store
	if cfg.driver != "" {
		store, err = createStore(cfg)
		if err != nil {
			return nil, err
		}
		if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
			store.Close()
			return nil, fmt.Errorf("quotapool: database not ready: %w", err)
		}
	}

	c := wireClient(store, cfg, obs)
	if err := c.seed(ctx, cfg); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func createStore(cfg *clientConfig) (db.Store, error) {
	switch cfg.driver {
	case "valkey":
		s, err := dbValkey.NewStore(dbValkey.Config{
			Addrs:    cfg.addrs,
			Password: cfg.password,
		})
		if err != nil {
			return nil, fmt.Errorf("quotapool: create valkey store: %w", err)
		}
		return s, nil
	case "redis":
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.addrs,
			Password: cfg.password,
		})
		if err != nil {
			return nil, fmt.Errorf("quotapool: create redis store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("quotapool: unknown driver %q", cfg.driver)
	}
}

func wireClient(store db.Store, cfg *clientConfig, obs *observer) *Client {
	logger := zap.NewNop()

	p := pool.New(logger)
	caller := eapi.New(eapi.Config{
		BaseURL:           cfg.baseURL,
		Timeout:           cfg.timeout,
		RequestsPerSecond: cfg.rps,
		Logger:            logger,
	})
	mgr := credentials.New(p, oauth.New(cfg.authURL, cfg.timeout, nil), logger)

	dopts := []dispatch.Option{dispatch.WithMaxAttempts(cfg.maxAttempts)}
	if cfg.retryDelay > 0 {
		dopts = append(dopts, dispatch.WithRetryDelay(cfg.retryDelay))
	}

	// nil interfaces, not typed nil pointers, when no store is configured
	var (
		l     *ledger.Ledger
		usage statusuc.UsageReader
		ping  healthuc.DBPinger
	)
	if store != nil {
		l = ledger.New(store, ledgerPrefix, logger)
		usage, ping = l, store
		dopts = append(dopts, dispatch.WithRecorder(l))
	}
	d := dispatch.New(p, caller, logger, dopts...)

	return &Client{
		store:      store,
		ledger:     l,
		pool:       p,
		mgr:        mgr,
		creds:      mgr,
		auctionSvc: auctionuc.New(d),
		statusSvc:  statusuc.New(p, d, usage),
		healthSvc:  healthuc.New(ping, p),
		obs:        obs,
	}
}

func (c *Client) seed(ctx context.Context, cfg *clientConfig) error {
	for _, a := range cfg.applications {
		if _, err := c.mgr.AddApplication(ctx, a.clientID, a.clientSecret); err != nil {
			return fmt.Errorf("quotapool: %w", err)
		}
	}
	for _, u := range cfg.users {
		if _, err := c.mgr.AddUser(ctx, u.clientID, u.clientSecret, u.refreshToken); err != nil {
			return fmt.Errorf("quotapool: %w", err)
		}
	}
	for _, a := range cfg.codes {
		if err := c.AddUserFromCode(ctx, a.clientID, a.clientSecret, a.code, a.redirectURI); err != nil {
			return err
		}
	}
	for _, t := range cfg.tokens {
		if err := c.AddToken(t.kind, t.token); err != nil {
			return err
		}
	}
	return nil
}

// Run drives the background work until ctx is done: budget replenishment,
// credential renewal and, with a usage store, ledger flushes.
func (c *Client) Run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.pool.Run(gctx)
		return nil
	})
	g.Go(func() error {
		c.mgr.Run(gctx, refreshInterval)
		return nil
	})
	if c.ledger != nil {
		g.Go(func() error {
			c.ledger.Run(gctx)
			return nil
		})
	}
	_ = g.Wait()
}

// Close flushes pending usage and releases all resources.
func (c *Client) Close() {
	if c.ledger != nil {
		ctx, cancel := context.WithTimeout(context.Background(), defaultReadinessTimeout)
		_ = c.ledger.Flush(ctx)
		cancel()
	}
	if c.store != nil {
		c.store.Close()
	}
}

// AddApplication obtains and pools one more application credential.
func (c *Client) AddApplication(ctx context.Context, clientID, clientSecret string) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("add_application", "", start, err) }()

	if _, err = c.creds.AddApplication(ctx, clientID, clientSecret); err != nil {
		return fmt.Errorf("add application: %w", err)
	}
	return nil
}

// AddUserFromCode exchanges an authorization code a user granted to the
// application and pools the resulting user credential. It is renewed with the
// refresh token issued alongside.
func (c *Client) AddUserFromCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("add_user_code", "", start, err) }()

	if _, err = c.creds.AddUserFromCode(ctx, clientID, clientSecret, code, redirectURI); err != nil {
		return fmt.Errorf("add user from code: %w", err)
	}
	return nil
}

// AddToken pools a ready bearer token.
func (c *Client) AddToken(kind CredentialKind, token string) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("add_token", "", start, err) }()

	if _, err = c.creds.AddStatic(credential.Kind(kind), token, ""); err != nil {
		return fmt.Errorf("add token: %w", err)
	}
	return nil
}

// History returns one page of an item's price history and the server-side total.
func (c *Client) History(ctx context.Context, region, itemID string, p Page) (sales []Sale, total int, err error) {
	start := time.Now()
	defer func() { c.obs.observe("history", region, start, err) }()

	page, err := c.auctionSvc.History(ctx, region, itemID, auctionuc.Page(p))
	if err != nil {
		return nil, 0, fmt.Errorf("history: %w", err)
	}
	return salesFromDomain(page.Sales), page.Total, nil
}

// MultiHistory returns one page of history for each item, merged newest first.
func (c *Client) MultiHistory(ctx context.Context, region string, itemIDs []string, p Page) (sales []Sale, err error) {
	start := time.Now()
	defer func() { c.obs.observe("multi_history", region, start, err) }()

	out, err := c.auctionSvc.MultiHistory(ctx, region, itemIDs, auctionuc.Page(p))
	if err != nil {
		return nil, fmt.Errorf("multi history: %w", err)
	}
	return salesFromDomain(out), nil
}

// LongHistory walks as many pages as needed for limit sales. With exact set a
// shorter history is an error wrapping ErrNotEnoughHistory; otherwise the
// available sales are returned.
func (c *Client) LongHistory(ctx context.Context, region, itemID string, limit int, exact bool) (sales []Sale, err error) {
	start := time.Now()
	defer func() { c.obs.observe("long_history", region, start, err) }()

	out, err := c.auctionSvc.LongHistory(ctx, region, itemID, auctionuc.LongQuery{
		Limit:      limit,
		Additional: true,
		Exact:      exact,
	})
	if err != nil {
		return nil, fmt.Errorf("long history: %w", err)
	}
	return salesFromDomain(out), nil
}

// Lots returns one page of an item's active listings and the server-side total.
func (c *Client) Lots(ctx context.Context, region, itemID string, p Page) (lots []Lot, total int, err error) {
	start := time.Now()
	defer func() { c.obs.observe("lots", region, start, err) }()

	page, err := c.auctionSvc.Lots(ctx, region, itemID, auctionuc.Page(p))
	if err != nil {
		return nil, 0, fmt.Errorf("lots: %w", err)
	}
	return lotsFromDomain(page.Lots), page.Total, nil
}

// MultiLots returns one page of listings for each item.
func (c *Client) MultiLots(ctx context.Context, region string, itemIDs []string, p Page) (lots []Lot, err error) {
	start := time.Now()
	defer func() { c.obs.observe("multi_lots", region, start, err) }()

	out, err := c.auctionSvc.MultiLots(ctx, region, itemIDs, auctionuc.Page(p))
	if err != nil {
		return nil, fmt.Errorf("multi lots: %w", err)
	}
	return lotsFromDomain(out), nil
}

// Clan returns clan info. ok is false when the clan does not exist.
func (c *Client) Clan(ctx context.Context, region, clanID string) (clan Clan, ok bool, err error) {
	start := time.Now()
	defer func() { c.obs.observe("clan", region, start, err) }()

	info, ok, err := c.auctionSvc.Clan(ctx, region, clanID)
	if err != nil {
		return Clan{}, false, fmt.Errorf("clan: %w", err)
	}
	return clanFromDomain(info), ok, nil
}

// Status returns a snapshot of the pooled credentials and the request counters.
func (c *Client) Status(ctx context.Context) (Status, error) {
	r, err := c.statusSvc.Report(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("status: %w", err)
	}
	return statusFromReport(r), nil
}

// Health checks the credential pool and, when configured, the usage store.
func (c *Client) Health(ctx context.Context) HealthStatus {
	report := c.healthSvc.Check(ctx)
	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	return HealthStatus{
		Status: string(report.Status),
		Checks: checks,
	}
}
