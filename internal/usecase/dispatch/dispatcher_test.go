package dispatch

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/quotapool/internal/domain"
	"github.com/kailas-cloud/quotapool/internal/domain/credential"
	"github.com/kailas-cloud/quotapool/internal/domain/quota"
	"github.com/kailas-cloud/quotapool/internal/domain/upstream"
	"github.com/kailas-cloud/quotapool/internal/usecase/pool"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// --- Fakes ---

type fakeCaller struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, n int, req upstream.Request) (*upstream.Response, error)
}

func (f *fakeCaller) Call(ctx context.Context, _ *credential.Credential, req upstream.Request) (*upstream.Response, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, n, req)
	}
	return &upstream.Response{StatusCode: http.StatusOK}, nil
}

func (f *fakeCaller) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRecorder struct {
	mu      sync.Mutex
	weights map[string]int
}

func (r *fakeRecorder) Record(_ context.Context, id string, weight int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.weights == nil {
		r.weights = map[string]int{}
	}
	r.weights[id] += weight
}

// --- Helpers ---

func newCred(t *testing.T, kind credential.Kind, remaining, maxWeight int, resetAt time.Time) *credential.Credential {
	t.Helper()
	c, err := credential.New(kind, "token", "Bearer",
		credential.WithBudget(remaining, maxWeight),
		credential.WithResetAt(resetAt),
	)
	if err != nil {
		t.Fatalf("credential.New: %v", err)
	}
	return c
}

func newPool(t *testing.T, creds ...*credential.Credential) *pool.Pool {
	t.Helper()
	p := pool.New(zap.NewNop())
	for _, c := range creds {
		if err := p.Register(c); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	return p
}

func items(n, weight int) Source {
	out := make([]Item, n)
	for i := range out {
		out[i] = Item{Key: strconv.Itoa(i), Request: upstream.Request{Path: "/item/" + strconv.Itoa(i)}, Weight: weight}
	}
	return Items(out...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func noop(context.Context, Item, *upstream.Response) error { return nil }

// --- Tests ---

// One credential with 10 weight, 6 items of weight 2: one exclusive checkout,
// at most 5 launched before backpressure, everything completes after the
// sweep and the credential is released.
func TestRun_BackpressureThenReplenish(t *testing.T) {
	cred := newCred(t, credential.KindApplication, 10, 10, t0)
	p := newPool(t, cred)
	caller := &fakeCaller{}
	d := New(p, caller, zap.NewNop(), WithMargins(0, 0), WithRetryDelay(time.Millisecond))

	var mu sync.Mutex
	handled := map[string]bool{}
	h := func(_ context.Context, item Item, _ *upstream.Response) error {
		mu.Lock()
		handled[item.Key] = true
		mu.Unlock()
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), items(6, 2), h) }()

	waitFor(t, "backpressure", func() bool { return d.Stats().BackpressureWaits >= 1 })
	if got := caller.Calls(); got > 5 {
		t.Fatalf("launched %d items before backpressure, want at most 5", got)
	}
	if !cred.Exclusive() {
		t.Fatal("credential must stay exclusive while the batch is parked")
	}

	if n := len(p.SweepReplenishment(t0.Add(time.Second))); n != 1 {
		t.Fatalf("expected one replenished credential, got %d", n)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("batch did not resume after replenishment")
	}

	if caller.Calls() != 6 || len(handled) != 6 {
		t.Errorf("expected 6 calls and 6 handled items, got %d/%d", caller.Calls(), len(handled))
	}
	if cred.Exclusive() {
		t.Error("credential must be released after the batch")
	}
	st := d.Stats()
	if st.Completed != 6 || st.Queued != 0 || st.InFlight != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestRun_PermanentErrorAbortsBatch(t *testing.T) {
	cred := newCred(t, credential.KindApplication, 400, 400, t0.Add(time.Hour))
	p := newPool(t, cred)
	errBoom := errors.New("boom")

	caller := &fakeCaller{fn: func(ctx context.Context, _ int, req upstream.Request) (*upstream.Response, error) {
		if req.Path == "/item/1" {
			return nil, Permanent(errBoom)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	d := New(p, caller, zap.NewNop(), WithRetryDelay(time.Millisecond))

	err := d.Run(context.Background(), items(4, 2), noop)
	if !errors.Is(err, errBoom) || !IsPermanent(err) {
		t.Fatalf("expected permanent boom, got %v", err)
	}
	if cred.Exclusive() {
		t.Error("credential must be released after an aborted batch")
	}
	sig, err := p.Subscribe(cred)
	if err != nil {
		t.Fatalf("signal must be removed after the batch: %v", err)
	}
	p.Unsubscribe(sig)
}

func TestRun_EmptyAndSingle(t *testing.T) {
	cred := newCred(t, credential.KindUser, 30, 30, t0.Add(time.Hour))
	p := newPool(t, cred)
	caller := &fakeCaller{}
	d := New(p, caller, zap.NewNop())

	if err := d.Run(context.Background(), Items(), noop); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if err := d.Run(context.Background(), items(1, 2), noop); err != nil {
		t.Fatalf("single item: %v", err)
	}
	if caller.Calls() != 1 {
		t.Errorf("expected 1 call, got %d", caller.Calls())
	}
	// single item goes through a shared, debited checkout
	if cred.Remaining() != 28 || cred.Exclusive() {
		t.Errorf("unexpected state %+v", cred.State())
	}
}

func TestRun_InsufficientQuota(t *testing.T) {
	cred := newCred(t, credential.KindUser, 2, 2, t0.Add(time.Hour))
	p := newPool(t, cred)
	d := New(p, &fakeCaller{}, zap.NewNop())

	err := d.Run(context.Background(), items(3, 2), noop)
	if !errors.Is(err, domain.ErrInsufficientQuota) {
		t.Fatalf("expected ErrInsufficientQuota, got %v", err)
	}
	if cred.Exclusive() {
		t.Error("credential must be released")
	}
}

func TestRun_CancelWhileParked(t *testing.T) {
	cred := newCred(t, credential.KindApplication, 4, 10, t0.Add(time.Hour))
	p := newPool(t, cred)
	d := New(p, &fakeCaller{}, zap.NewNop(), WithMargins(0, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, items(3, 2), noop) }()

	waitFor(t, "backpressure", func() bool { return d.Stats().BackpressureWaits >= 1 })
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if cred.Exclusive() {
		t.Error("credential must be released")
	}
}

func TestDo_RetriesWithFreshCheckout(t *testing.T) {
	cred := newCred(t, credential.KindUser, 30, 30, t0.Add(time.Hour))
	p := newPool(t, cred)
	caller := &fakeCaller{fn: func(_ context.Context, n int, _ upstream.Request) (*upstream.Response, error) {
		if n < 3 {
			return &upstream.Response{StatusCode: http.StatusBadGateway}, nil
		}
		return &upstream.Response{StatusCode: http.StatusOK}, nil
	}}
	rec := &fakeRecorder{}
	d := New(p, caller, zap.NewNop(), WithRetryDelay(time.Millisecond), WithRecorder(rec))

	if err := d.Do(context.Background(), Item{Request: upstream.Request{Path: "/x"}, Weight: 2}, noop); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if caller.Calls() != 3 {
		t.Errorf("expected 3 attempts, got %d", caller.Calls())
	}
	if cred.Remaining() != 24 {
		t.Errorf("each attempt must be debited, remaining=%d", cred.Remaining())
	}
	st := d.Stats()
	if st.Retried != 2 || st.Completed != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
	if rec.weights[cred.ID()] != 2 {
		t.Errorf("recorder must see the successful call once, got %v", rec.weights)
	}
}

func TestDo_FeedbackAppliedOnFailure(t *testing.T) {
	cred := newCred(t, credential.KindApplication, 400, 400, t0.Add(time.Hour))
	p := newPool(t, cred)
	reset := t0.Add(30 * time.Second)
	caller := &fakeCaller{fn: func(context.Context, int, upstream.Request) (*upstream.Response, error) {
		h := http.Header{}
		h.Set(quota.HeaderRemaining, "0")
		h.Set(quota.HeaderReset, strconv.FormatInt(reset.UnixMilli(), 10))
		h.Set(quota.HeaderLimit, "500")
		return &upstream.Response{StatusCode: http.StatusTooManyRequests, Header: h, Body: []byte("slow down")}, nil
	}}
	d := New(p, caller, zap.NewNop(), WithMaxAttempts(1))

	err := d.Do(context.Background(), Item{Request: upstream.Request{Path: "/x"}, Weight: 2}, noop)
	var se *domain.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusTooManyRequests || !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected upstream 429, got %v", err)
	}
	st := cred.State()
	if st.Remaining != 0 || st.MaxWeight != 500 || !st.ResetAt.Equal(reset) {
		t.Errorf("feedback not applied: %+v", st)
	}
}

func TestDo_HandlerErrorIsRetried(t *testing.T) {
	cred := newCred(t, credential.KindUser, 30, 30, t0.Add(time.Hour))
	p := newPool(t, cred)
	d := New(p, &fakeCaller{}, zap.NewNop(), WithRetryDelay(time.Millisecond))

	calls := 0
	h := func(context.Context, Item, *upstream.Response) error {
		calls++
		if calls == 1 {
			return errors.New("malformed body")
		}
		return nil
	}
	if err := d.Do(context.Background(), Item{Weight: 2}, h); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected handler to run twice, got %d", calls)
	}
}

func TestDo_ContextCancelStopsRetrying(t *testing.T) {
	cred := newCred(t, credential.KindUser, 30, 30, t0.Add(time.Hour))
	p := newPool(t, cred)
	caller := &fakeCaller{fn: func(context.Context, int, upstream.Request) (*upstream.Response, error) {
		return nil, errors.New("connection refused")
	}}
	d := New(p, caller, zap.NewNop(), WithRetryDelay(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := d.Do(ctx, Item{Weight: 2}, noop)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if d.Stats().InFlight != 0 {
		t.Error("in-flight counter must return to zero")
	}
}

func TestMargin(t *testing.T) {
	d := New(nil, nil, zap.NewNop())

	tests := []struct {
		name    string
		kind    credential.Kind
		max     int
		weight  int
		want    int
		wantErr error
	}{
		{"application default", credential.KindApplication, 400, 2, 50, nil},
		{"user default", credential.KindUser, 30, 2, 6, nil},
		{"margin leaves no room", credential.KindUser, 8, 2, 0, nil},
		{"budget below one request", credential.KindUser, 2, 2, 0, domain.ErrInsufficientQuota},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newCred(t, tc.kind, tc.max, tc.max, t0)
			got, err := d.margin(c, tc.weight)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("margin = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}
	base := errors.New("x")
	err := Permanent(base)
	if !IsPermanent(err) || !errors.Is(err, base) || err.Error() != "x" {
		t.Errorf("unexpected permanent error %v", err)
	}
	if DefaultShouldRetry(err) {
		t.Error("permanent errors must not be retried")
	}
	if !DefaultShouldRetry(base) {
		t.Error("plain errors must be retried")
	}
}
