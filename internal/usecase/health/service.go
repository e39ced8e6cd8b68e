package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates the service cannot serve requests.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	db   DBPinger
	pool PoolCounter
}

// New creates a Service. db can be nil when no usage ledger is configured.
func New(db DBPinger, pool PoolCounter) *Service {
	return &Service{db: db, pool: pool}
}

// Check runs health checks against all components. An empty pool makes the
// service unhealthy; a failing database only degrades it.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	if s.pool.Len() > 0 {
		checks["credentials"] = CheckOK
	} else {
		checks["credentials"] = CheckError
	}

	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			checks["database"] = CheckError
		} else {
			checks["database"] = CheckOK
		}
	}

	status := Healthy
	if checks["database"] == CheckError {
		status = Degraded
	}
	if checks["credentials"] == CheckError {
		status = Unhealthy
	}

	return Report{Status: status, Checks: checks}
}
