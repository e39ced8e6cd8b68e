package dispatch

import (
	"context"

	"github.com/kailas-cloud/quotapool/internal/domain/credential"
	"github.com/kailas-cloud/quotapool/internal/domain/upstream"
	"github.com/kailas-cloud/quotapool/internal/usecase/pool"
)

// Pool hands out credentials and wakes parked batches.
type Pool interface {
	AcquireSharedBlocking(ctx context.Context, weight int) (*credential.Credential, error)
	AcquireExclusive(ctx context.Context, weight int) (*credential.Credential, error)
	Release(c *credential.Credential)
	Subscribe(c *credential.Credential) (*pool.Signal, error)
	Unsubscribe(sig *pool.Signal)
	NotifyUpdated(creds ...*credential.Credential)
}

// Caller performs one upstream request on behalf of a credential.
type Caller interface {
	Call(ctx context.Context, cred *credential.Credential, req upstream.Request) (*upstream.Response, error)
}

// Recorder receives the weight spent by every successful call.
type Recorder interface {
	Record(ctx context.Context, credentialID string, weight int)
}
