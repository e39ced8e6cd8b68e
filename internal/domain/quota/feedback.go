package quota

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Rate-limit response headers reported by the remote API.
const (
	HeaderRemaining = "x-ratelimit-remaining"
	HeaderReset     = "x-ratelimit-reset"
	HeaderLimit     = "x-ratelimit-limit"
)

// Feedback is the server-reported quota state carried by one response.
// Each field is only meaningful when its Has* flag is set.
type Feedback struct {
	Remaining    int
	HasRemaining bool
	ResetAt      time.Time
	HasResetAt   bool
	Limit        int
	HasLimit     bool
}

// Empty reports whether the response carried no usable quota header.
func (f Feedback) Empty() bool {
	return !f.HasRemaining && !f.HasResetAt && !f.HasLimit
}

// FromHeader parses the rate-limit headers. Missing or malformed values are skipped.
func FromHeader(h http.Header) Feedback {
	var f Feedback
	if h == nil {
		return f
	}
	if v, ok := parseInt(h.Get(HeaderRemaining)); ok {
		f.Remaining = int(v)
		f.HasRemaining = true
	}
	if v, ok := parseInt(h.Get(HeaderReset)); ok {
		f.ResetAt = time.UnixMilli(v)
		f.HasResetAt = true
	}
	if v, ok := parseInt(h.Get(HeaderLimit)); ok {
		f.Limit = int(v)
		f.HasLimit = true
	}
	return f
}

func parseInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
