package db

import (
	"context"
	"errors"
	"testing"
)

func TestError_Unwrap(t *testing.T) {
	err := &Error{Op: OpIncrBy, Err: context.DeadlineExceeded}

	if err.Error() != "INCRBY: context deadline exceeded" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected errors.Is to see the wrapped error")
	}

	var dbErr *Error
	if !errors.As(error(err), &dbErr) || dbErr.Op != OpIncrBy {
		t.Error("expected errors.As to recover the op")
	}
}
