package upstream

import (
	"net/http"
	"net/url"
)

// Request is one GET against the remote API, relative to its base URL.
type Request struct {
	Path  string
	Query url.Values
}

// URI renders path and query.
func (r Request) URI() string {
	if len(r.Query) == 0 {
		return r.Path
	}
	return r.Path + "?" + r.Query.Encode()
}

// Response is the raw result of a call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
