package upstream

import (
	"net/url"
	"testing"
)

func TestRequestURI(t *testing.T) {
	r := Request{Path: "/ru/auction/y1q9/history"}
	if r.URI() != "/ru/auction/y1q9/history" {
		t.Errorf("unexpected uri %q", r.URI())
	}

	r.Query = url.Values{"limit": {"200"}, "additional": {"true"}}
	if got := r.URI(); got != "/ru/auction/y1q9/history?additional=true&limit=200" {
		t.Errorf("unexpected uri %q", got)
	}
}

func TestResponseOK(t *testing.T) {
	for code, want := range map[int]bool{200: true, 204: true, 199: false, 301: false, 429: false, 500: false} {
		if got := (&Response{StatusCode: code}).OK(); got != want {
			t.Errorf("status %d: OK() = %v, want %v", code, got, want)
		}
	}
}
