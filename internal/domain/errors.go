package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCredential signals that no registered credential can cover the requested weight.
	ErrNoCredential = errors.New("no credential available")
	// ErrEmptyCredential signals a credential without an access token.
	ErrEmptyCredential = errors.New("empty credential")
	// ErrCredentialExists signals a duplicate registration.
	ErrCredentialExists = errors.New("credential already registered")
	// ErrCredentialNotFound signals an operation on a credential that is not registered.
	ErrCredentialNotFound = errors.New("credential not registered")
	// ErrCredentialBusy signals a credential that is checked out exclusively.
	ErrCredentialBusy = errors.New("credential checked out exclusively")
	// ErrInvalidArgument signals a rejected request parameter.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInsufficientQuota signals a credential whose full budget cannot cover one request.
	ErrInsufficientQuota = errors.New("insufficient quota")
	// ErrNotEnoughHistory signals that the server holds fewer records than an exact request needs.
	ErrNotEnoughHistory = errors.New("not enough history")
	// ErrSignalExists signals a second waiter on a credential that is already parked.
	ErrSignalExists = errors.New("backpressure signal already exists")
	// ErrUpstream signals a non-success response from the remote API.
	ErrUpstream = errors.New("upstream error")
	// ErrExchangeFailed signals a failed credential exchange.
	ErrExchangeFailed = errors.New("credential exchange failed")
)

// StatusError wraps ErrUpstream with the HTTP status returned by the remote API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", ErrUpstream.Error(), e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", ErrUpstream.Error(), e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUpstream }

// NewStatusError creates an upstream status error. The body is cut to keep logs readable.
func NewStatusError(status int, body string) error {
	const maxBody = 256
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	return &StatusError{StatusCode: status, Body: body}
}
