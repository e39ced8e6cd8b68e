package quota

import (
	"net/http"
	"testing"
	"time"
)

func TestFromHeader_AllFields(t *testing.T) {
	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "37")
	h.Set("X-Ratelimit-Reset", "1700000000000")
	h.Set("x-ratelimit-limit", "400")

	f := FromHeader(h)
	if !f.HasRemaining || f.Remaining != 37 {
		t.Errorf("remaining: got %d (%v), want 37", f.Remaining, f.HasRemaining)
	}
	if !f.HasResetAt || !f.ResetAt.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("reset: got %v (%v)", f.ResetAt, f.HasResetAt)
	}
	if !f.HasLimit || f.Limit != 400 {
		t.Errorf("limit: got %d (%v), want 400", f.Limit, f.HasLimit)
	}
	if f.Empty() {
		t.Error("expected non-empty feedback")
	}
}

func TestFromHeader_MissingAndMalformed(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		check  func(t *testing.T, f Feedback)
	}{
		{
			name:   "nil header",
			header: nil,
			check: func(t *testing.T, f Feedback) {
				if !f.Empty() {
					t.Errorf("expected empty feedback, got %+v", f)
				}
			},
		},
		{
			name:   "no headers",
			header: http.Header{},
			check: func(t *testing.T, f Feedback) {
				if !f.Empty() {
					t.Errorf("expected empty feedback, got %+v", f)
				}
			},
		},
		{
			name: "unparsable remaining keeps others",
			header: http.Header{
				"X-Ratelimit-Remaining": {"lots"},
				"X-Ratelimit-Limit":     {"30"},
			},
			check: func(t *testing.T, f Feedback) {
				if f.HasRemaining {
					t.Error("remaining must be skipped")
				}
				if !f.HasLimit || f.Limit != 30 {
					t.Errorf("limit: got %d (%v)", f.Limit, f.HasLimit)
				}
			},
		},
		{
			name: "blank reset",
			header: http.Header{
				"X-Ratelimit-Reset": {"  "},
			},
			check: func(t *testing.T, f Feedback) {
				if f.HasResetAt {
					t.Error("reset must be skipped")
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, FromHeader(tc.header))
		})
	}
}
