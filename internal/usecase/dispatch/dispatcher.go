package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/quotapool/internal/domain"
	"github.com/kailas-cloud/quotapool/internal/domain/credential"
	"github.com/kailas-cloud/quotapool/internal/domain/quota"
	"github.com/kailas-cloud/quotapool/internal/metrics"
)

// Defaults for the retry loop and the safety margins.
const (
	DefaultRetryDelay        = 10 * time.Second
	DefaultApplicationMargin = 50
	DefaultUserMargin        = 6
)

// Stats are the dispatcher counters since start.
type Stats struct {
	Queued            int64
	InFlight          int64
	Completed         int64
	Retried           int64
	BackpressureWaits int64
}

// Dispatcher runs work items against pooled credentials.
type Dispatcher struct {
	pool     Pool
	caller   Caller
	recorder Recorder
	logger   *zap.Logger

	retryDelay  time.Duration
	maxAttempts int
	appMargin   int
	userMargin  int
	shouldRetry func(error) bool

	queued    atomic.Int64
	inFlight  atomic.Int64
	completed atomic.Int64
	retried   atomic.Int64
	waits     atomic.Int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRetryDelay sets the pause between attempts of a failed item.
func WithRetryDelay(d time.Duration) Option {
	return func(x *Dispatcher) { x.retryDelay = d }
}

// WithMaxAttempts caps attempts per item. 0 retries until the context is done.
func WithMaxAttempts(n int) Option {
	return func(x *Dispatcher) { x.maxAttempts = n }
}

// WithMargins sets the safety margins for application and user credentials.
func WithMargins(application, user int) Option {
	return func(x *Dispatcher) {
		x.appMargin = application
		x.userMargin = user
	}
}

// WithRecorder attaches a usage recorder.
func WithRecorder(r Recorder) Option {
	return func(x *Dispatcher) { x.recorder = r }
}

// WithShouldRetry replaces DefaultShouldRetry.
func WithShouldRetry(fn func(error) bool) Option {
	return func(x *Dispatcher) { x.shouldRetry = fn }
}

// New creates a dispatcher.
func New(p Pool, c Caller, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pool:        p,
		caller:      c,
		logger:      logger,
		retryDelay:  DefaultRetryDelay,
		appMargin:   DefaultApplicationMargin,
		userMargin:  DefaultUserMargin,
		shouldRetry: DefaultShouldRetry,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Stats returns a copy of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queued:            d.queued.Load(),
		InFlight:          d.inFlight.Load(),
		Completed:         d.completed.Load(),
		Retried:           d.retried.Load(),
		BackpressureWaits: d.waits.Load(),
	}
}

// Do runs a single item on a shared, debited checkout. Every retry takes a
// fresh checkout, so each attempt is paid for.
func (d *Dispatcher) Do(ctx context.Context, item Item, h Handler) error {
	if item.Weight < 0 {
		return fmt.Errorf("weight %d: %w", item.Weight, domain.ErrInvalidArgument)
	}

	d.queued.Inc()
	cred, err := d.pool.AcquireSharedBlocking(ctx, item.Weight)
	d.queued.Dec()
	if err != nil {
		return err
	}

	return d.execute(ctx, item, func(ctx context.Context, attempt int) (*credential.Credential, error) {
		if attempt > 1 {
			c, err := d.pool.AcquireSharedBlocking(ctx, item.Weight)
			if err != nil {
				return nil, err
			}
			cred = c
		}
		return cred, d.call(ctx, cred, item, h)
	})
}

// Run dispatches a batch on one exclusive checkout.
//
// Items launch concurrently with their weight pre-debited. When the budget
// left above the safety margin cannot cover the next item, Run waits for the
// current window of in-flight items, then parks on the credential's
// Backpressure Signal until a sweep or quota feedback announces new budget.
// A non-retryable failure cancels in-flight items and stops the batch. The
// credential is always released.
func (d *Dispatcher) Run(ctx context.Context, src Source, h Handler) error {
	switch src.Len() {
	case 0:
		return nil
	case 1:
		return d.Do(ctx, src.Item(0), h)
	}

	q := queueTracker{d: d}
	q.set(src.Len())
	defer q.set(0)

	first := src.Item(0)
	cred, err := d.pool.AcquireExclusive(ctx, first.Weight)
	if err != nil {
		return err
	}
	defer d.pool.Release(cred)

	margin, err := d.margin(cred, first.Weight)
	if err != nil {
		return err
	}

	sig, err := d.pool.Subscribe(cred)
	if err != nil {
		return err
	}
	defer d.pool.Unsubscribe(sig)

	log := d.logger.With(zap.String("credential", cred.ID()), zap.Int("margin", margin))
	g, gctx := errgroup.WithContext(ctx)

	i := 0
launch:
	for ; i < src.Len(); i++ {
		item := src.Item(i)
		for cred.Remaining()-margin <= item.Weight {
			if err := g.Wait(); err != nil {
				return err
			}
			d.waits.Inc()
			metrics.DispatchBackpressureWaitsTotal.Inc()
			log.Debug("Batch parked on backpressure",
				zap.Int("launched", i),
				zap.Int("remaining", cred.Remaining()),
			)
			if err := sig.Wait(ctx); err != nil {
				return fmt.Errorf("wait for budget: %w", err)
			}
			g, gctx = errgroup.WithContext(ctx)
			if i >= src.Len() {
				break launch
			}
			item = src.Item(i)
		}
		if gctx.Err() != nil {
			break
		}

		cred.Debit(item.Weight)
		q.set(src.Len() - i - 1)
		wctx := gctx
		g.Go(func() error {
			return d.execute(wctx, item, func(ctx context.Context, _ int) (*credential.Credential, error) {
				return cred, d.call(ctx, cred, item, h)
			})
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if i < src.Len() {
		return ctx.Err()
	}
	return nil
}

// execute runs attempts until one succeeds, the failure is not retryable,
// attempts are exhausted or ctx is done.
func (d *Dispatcher) execute(
	ctx context.Context, item Item,
	attempt func(ctx context.Context, n int) (*credential.Credential, error),
) error {
	d.inFlight.Inc()
	metrics.DispatchInFlight.Inc()
	defer func() {
		d.inFlight.Dec()
		metrics.DispatchInFlight.Dec()
	}()

	for n := 1; ; n++ {
		cred, err := attempt(ctx, n)
		if err == nil {
			d.completed.Inc()
			metrics.DispatchRequestsTotal.WithLabelValues("ok").Inc()
			if d.recorder != nil {
				d.recorder.Record(ctx, cred.ID(), item.Weight)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.shouldRetry(err) || (d.maxAttempts > 0 && n >= d.maxAttempts) {
			metrics.DispatchRequestsTotal.WithLabelValues("failed").Inc()
			return fmt.Errorf("%s: %w", item.Request.Path, err)
		}

		d.retried.Inc()
		metrics.DispatchRequestsTotal.WithLabelValues("retry").Inc()
		d.logger.Warn("Upstream call failed, retrying",
			zap.String("path", item.Request.Path),
			zap.Int("attempt", n),
			zap.Duration("delay", d.retryDelay),
			zap.Error(err),
		)
		if err := sleep(ctx, d.retryDelay); err != nil {
			return err
		}
	}
}

// call makes one request, applies the quota feedback it carries, and hands a
// successful response to h.
func (d *Dispatcher) call(ctx context.Context, cred *credential.Credential, item Item, h Handler) error {
	resp, err := d.caller.Call(ctx, cred, item.Request)
	if err != nil {
		return err
	}
	if cred.ApplyFeedback(quota.FromHeader(resp.Header)) {
		d.pool.NotifyUpdated(cred)
	}
	if !resp.OK() {
		return domain.NewStatusError(resp.StatusCode, string(resp.Body))
	}
	return h(ctx, item, resp)
}

// margin picks the safety margin for cred. A margin that would leave no room
// for a single request is dropped.
func (d *Dispatcher) margin(cred *credential.Credential, weight int) (int, error) {
	maxWeight := cred.MaxWeight()
	if maxWeight <= weight {
		return 0, fmt.Errorf("credential %s holds %d, request needs more than %d: %w",
			cred.ID(), maxWeight, weight, domain.ErrInsufficientQuota)
	}
	m := d.appMargin
	if cred.Kind() == credential.KindUser {
		m = d.userMargin
	}
	if maxWeight-m <= weight {
		m = 0
	}
	return m, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// queueTracker keeps the queued counter equal to the items of one batch
// that are planned but not launched.
type queueTracker struct {
	d    *Dispatcher
	last int
}

func (q *queueTracker) set(n int) {
	q.d.queued.Add(int64(n - q.last))
	q.last = n
}
