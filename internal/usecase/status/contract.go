package status

import (
	"context"
	"time"

	"github.com/kailas-cloud/quotapool/internal/domain/credential"
	"github.com/kailas-cloud/quotapool/internal/usecase/dispatch"
	"github.com/kailas-cloud/quotapool/internal/usecase/pool"
)

// Pool exposes the pool state.
type Pool interface {
	Snapshot() pool.Snapshot
	Credentials() []*credential.Credential
}

// StatsReader exposes the dispatcher counters.
type StatsReader interface {
	Stats() dispatch.Stats
}

// UsageReader reads persisted per-credential usage.
type UsageReader interface {
	DayTotals(ctx context.Context, at time.Time) (map[string]int64, error)
}
