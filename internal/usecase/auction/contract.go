package auction

import (
	"context"

	"github.com/kailas-cloud/quotapool/internal/usecase/dispatch"
)

// Dispatcher runs requests against pooled credentials.
type Dispatcher interface {
	Do(ctx context.Context, item dispatch.Item, h dispatch.Handler) error
	Run(ctx context.Context, src dispatch.Source, h dispatch.Handler) error
}
