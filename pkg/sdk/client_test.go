package quotapool

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		opts []Option
	}{
		{"no endpoint", []Option{WithToken(KindApplication, "t")}},
		{"no credential", []Option{WithEndpoints("http://api", "http://auth")}},
		{"no auth url", []Option{WithEndpoints("http://api", ""), WithApplication("id", "secret")}},
		{"code without auth url", []Option{WithEndpoints("http://api", ""), WithAuthorizationCode("id", "secret", "c", "")}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(ctx, tc.opts...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := &clientConfig{driver: "unknown", addrs: []string{"localhost:1234"}}
	if _, err := createStore(cfg); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestNew_EmptyToken(t *testing.T) {
	_, err := New(context.Background(),
		WithEndpoints("http://api", ""),
		WithToken(KindUser, ""),
	)
	if !errors.Is(err, ErrEmptyCredential) {
		t.Fatalf("expected ErrEmptyCredential, got %v", err)
	}
}

// fakeUpstream serves the token endpoint and one item's history. Every clan
// is unknown and answers with an empty body.
type fakeUpstream struct {
	history   atomic.Int32
	exchanges atomic.Int32
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/oauth/token":
		f.exchanges.Add(1)
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["client_secret"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case req["grant_type"] == "client_credentials":
			_, _ = w.Write([]byte(`{"access_token":"app-token","token_type":"Bearer","expires_in":3600}`))
		case req["grant_type"] == "authorization_code" && req["code"] == "code-1":
			_, _ = w.Write([]byte(`{"access_token":"user-token","token_type":"Bearer","expires_in":3600,"refresh_token":"r1"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}

	case r.URL.Path == "/ru/auction/y1q9/history":
		f.history.Add(1)
		if r.Header.Get("Authorization") != "Bearer app-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("x-ratelimit-limit", "400")
		w.Header().Set("x-ratelimit-remaining", "350")
		w.Header().Set("x-ratelimit-reset", "1777640460000")
		_, _ = w.Write([]byte(`{"total":2,"prices":[
			{"amount":1,"price":100,"time":"2026-05-01T12:00:00Z","additional":{"qlt":3}},
			{"amount":2,"price":90,"time":"2026-05-01T11:00:00Z"}
		]}`))

	case strings.HasPrefix(r.URL.Path, "/ru/clan/"):
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func TestClient_EndToEnd(t *testing.T) {
	up := &fakeUpstream{}
	srv := httptest.NewServer(up)
	defer srv.Close()

	ctx := context.Background()
	c, err := New(ctx,
		WithEndpoints(srv.URL, srv.URL),
		WithApplication("app", "secret"),
		WithRetry(time.Millisecond, 1),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	sales, total, err := c.History(ctx, "ru", "y1q9", Page{Limit: 10, Additional: true})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if total != 2 || len(sales) != 2 {
		t.Fatalf("got total=%d sales=%d", total, len(sales))
	}
	if sales[0].ItemID != "y1q9" || sales[0].Quality == nil || *sales[0].Quality != 3 {
		t.Errorf("unexpected first sale %+v", sales[0])
	}

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(st.Credentials) != 1 || st.Credentials[0].Kind != KindApplication {
		t.Fatalf("unexpected credentials %+v", st.Credentials)
	}
	if st.Credentials[0].Remaining != 350 {
		t.Errorf("quota feedback not applied, remaining=%d", st.Credentials[0].Remaining)
	}
	if st.RequestsCompleted != 1 {
		t.Errorf("completed = %d", st.RequestsCompleted)
	}

	if h := c.Health(ctx); h.Status != "ok" || h.Checks["credentials"] != "ok" {
		t.Errorf("unexpected health %+v", h)
	}
	if _, ok := c.Health(ctx).Checks["database"]; ok {
		t.Error("no database check without a usage store")
	}

	if _, ok, err := c.Clan(ctx, "ru", "nope"); err != nil || ok {
		t.Errorf("missing clan: ok=%v err=%v", ok, err)
	}
	if up.exchanges.Load() != 1 {
		t.Errorf("exchanges = %d", up.exchanges.Load())
	}
}

func TestClient_UpstreamErrorAfterAttempts(t *testing.T) {
	up := &fakeUpstream{}
	srv := httptest.NewServer(up)
	defer srv.Close()

	c, err := New(context.Background(),
		WithEndpoints(srv.URL, ""),
		WithToken(KindApplication, "bad-token"),
		WithRetry(time.Millisecond, 2),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, _, err = c.History(context.Background(), "ru", "y1q9", Page{Limit: 10})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if up.history.Load() != 2 {
		t.Errorf("attempts = %d, want 2", up.history.Load())
	}
}

func TestClient_BadExchange(t *testing.T) {
	srv := httptest.NewServer(&fakeUpstream{})
	defer srv.Close()

	_, err := New(context.Background(),
		WithEndpoints(srv.URL, srv.URL),
		WithApplication("app", "wrong"),
	)
	if !errors.Is(err, ErrExchangeFailed) {
		t.Fatalf("expected ErrExchangeFailed, got %v", err)
	}
}

func TestClient_AuthorizationCode(t *testing.T) {
	up := &fakeUpstream{}
	srv := httptest.NewServer(up)
	defer srv.Close()

	ctx := context.Background()
	c, err := New(ctx,
		WithEndpoints(srv.URL, srv.URL),
		WithAuthorizationCode("app", "secret", "code-1", "https://app/callback"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Credentials) != 1 || st.Credentials[0].Kind != KindUser || st.Credentials[0].MaxWeight != 30 {
		t.Fatalf("unexpected credentials %+v", st.Credentials)
	}

	if err := c.AddUserFromCode(ctx, "app", "secret", "used", ""); !errors.Is(err, ErrExchangeFailed) {
		t.Errorf("expected ErrExchangeFailed, got %v", err)
	}
	if up.exchanges.Load() != 2 {
		t.Errorf("exchanges = %d", up.exchanges.Load())
	}
}

func TestClient_RunStopsOnCancel(t *testing.T) {
	c, err := New(context.Background(),
		WithEndpoints("http://api", ""),
		WithToken(KindUser, "t"),
	)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
