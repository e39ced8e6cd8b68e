package auction

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/kailas-cloud/quotapool/internal/domain"
	"github.com/kailas-cloud/quotapool/internal/domain/upstream"
	"github.com/kailas-cloud/quotapool/internal/usecase/dispatch"
)

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// --- Fake remote API ---

// fakeAPI serves a history of total rows, newest first, one minute apart.
type fakeAPI struct {
	total int
	body  func(req upstream.Request) []byte // overrides the history when set

	mu       sync.Mutex
	requests []upstream.Request
}

func (a *fakeAPI) serve(req upstream.Request) *upstream.Response {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()

	if a.body != nil {
		return &upstream.Response{StatusCode: http.StatusOK, Body: a.body(req)}
	}

	offset, _ := strconv.Atoi(req.Query.Get("offset"))
	limit, _ := strconv.Atoi(req.Query.Get("limit"))
	type price struct {
		Amount int       `json:"amount"`
		Price  int64     `json:"price"`
		Time   time.Time `json:"time"`
	}
	prices := []price{}
	for i := offset; i < offset+limit && i < a.total; i++ {
		prices = append(prices, price{Amount: 1, Price: int64(1000 + i), Time: base.Add(-time.Duration(i) * time.Minute)})
	}
	body, _ := json.Marshal(map[string]any{"total": a.total, "prices": prices})
	return &upstream.Response{StatusCode: http.StatusOK, Body: body}
}

func (a *fakeAPI) Requests() []upstream.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]upstream.Request(nil), a.requests...)
}

// --- Fake dispatcher ---

// fakeDispatcher runs items one by one against a fakeAPI, without retries.
type fakeDispatcher struct {
	api *fakeAPI
}

func (d *fakeDispatcher) Do(ctx context.Context, item dispatch.Item, h dispatch.Handler) error {
	resp := d.api.serve(item.Request)
	if !resp.OK() {
		return domain.NewStatusError(resp.StatusCode, string(resp.Body))
	}
	return h(ctx, item, resp)
}

func (d *fakeDispatcher) Run(ctx context.Context, src dispatch.Source, h dispatch.Handler) error {
	for i := 0; i < src.Len(); i++ {
		if err := d.Do(ctx, src.Item(i), h); err != nil {
			return err
		}
	}
	return nil
}
