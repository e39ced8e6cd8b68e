package dispatch

import (
	"context"
	"errors"

	"github.com/kailas-cloud/quotapool/internal/domain/upstream"
)

// Item is one unit of work: a request and the weight it costs.
// Key is opaque to the dispatcher and lets handlers tell items apart.
type Item struct {
	Key     string
	Request upstream.Request
	Weight  int
}

// Handler consumes a successful response. A returned error fails the attempt.
// Handlers run concurrently; guard shared state.
type Handler func(ctx context.Context, item Item, resp *upstream.Response) error

// Source is the ordered work of a batch. Len may shrink while the batch
// runs; items at or beyond the current Len are never launched.
// Implementations must be safe for concurrent use when handlers shrink them.
type Source interface {
	Len() int
	Item(i int) Item
}

type sliceSource []Item

func (s sliceSource) Len() int         { return len(s) }
func (s sliceSource) Item(i int) Item { return s[i] }

// Items returns a fixed Source over items.
func Items(items ...Item) Source {
	return sliceSource(items)
}

// PermanentError marks a failure that must not be retried. It aborts the
// whole batch.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the dispatcher gives up instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// DefaultShouldRetry retries every failure except permanent ones.
func DefaultShouldRetry(err error) bool {
	return !IsPermanent(err)
}
