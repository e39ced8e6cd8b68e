package status

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/quotapool/internal/domain/credential"
)

// CredentialStatus is the observable state of one credential.
// Tokens are never exposed.
type CredentialStatus struct {
	ID        string
	Kind      credential.Kind
	Remaining int
	MaxWeight int
	ResetAt   time.Time
	ExpiresAt time.Time
	Exclusive bool
	UsedToday int64
}

// Report is the observability snapshot of pool and dispatcher.
type Report struct {
	CredentialCount     int
	FreeCredentialCount int
	TotalFreeWeight     int
	RequestsQueued      int64
	RequestsInFlight    int64
	RequestsCompleted   int64
	RequestsRetried     int64
	BackpressureWaits   int64
	Credentials         []CredentialStatus
}

// Service builds status reports.
type Service struct {
	pool  Pool
	stats StatsReader
	usage  UsageReader
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for usage lookups that fail.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service. usage can be nil when no ledger is configured.
func New(p Pool, stats StatsReader, usage UsageReader, opts ...Option) *Service {
	s := &Service{pool: p, stats: stats, usage: usage, logger: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Report returns the current snapshot. Usage totals are filled only when a
// ledger is configured and answers; without them the pool and dispatcher
// figures are still reported.
func (s *Service) Report(ctx context.Context) (Report, error) {
	snap := s.pool.Snapshot()
	st := s.stats.Stats()

	r := Report{
		CredentialCount:     snap.Credentials,
		FreeCredentialCount: snap.FreeCredentials,
		TotalFreeWeight:     snap.FreeWeight,
		RequestsQueued:      st.Queued,
		RequestsInFlight:    st.InFlight,
		RequestsCompleted:   st.Completed,
		RequestsRetried:     st.Retried,
		BackpressureWaits:   st.BackpressureWaits,
	}

	var used map[string]int64
	if s.usage != nil {
		var err error
		used, err = s.usage.DayTotals(ctx, s.now())
		if err != nil {
			s.logger.Warn("Usage totals unavailable", zap.Error(err))
			used = nil
		}
	}

	for _, c := range s.pool.Credentials() {
		cs := c.State()
		r.Credentials = append(r.Credentials, CredentialStatus{
			ID:        c.ID(),
			Kind:      c.Kind(),
			Remaining: cs.Remaining,
			MaxWeight: cs.MaxWeight,
			ResetAt:   cs.ResetAt,
			ExpiresAt: c.ExpiresAt(),
			Exclusive: cs.Exclusive,
			UsedToday: used[c.ID()],
		})
	}
	return r, nil
}
