package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Credential pool and dispatcher Prometheus metrics.
var (
	PoolCredentials = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "quotapool",
			Name:      "pool_credentials",
			Help:      "Number of registered credentials",
		},
	)

	PoolFreeCredentials = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "quotapool",
			Name:      "pool_free_credentials",
			Help:      "Number of credentials not checked out exclusively",
		},
	)

	PoolFreeWeight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "quotapool",
			Name:      "pool_free_weight",
			Help:      "Sum of remaining weight across credentials not checked out exclusively",
		},
	)

	PoolReplenishmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotapool",
			Name:      "pool_replenishments_total",
			Help:      "Credential budgets restored by the replenishment sweep",
		},
		[]string{"kind"},
	)

	PoolCheckoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotapool",
			Name:      "pool_checkouts_total",
			Help:      "Credential checkouts by mode and outcome",
		},
		[]string{"mode", "result"}, // mode: shared/exclusive, result: ok/empty
	)

	DispatchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotapool",
			Name:      "dispatch_requests_total",
			Help:      "Upstream calls issued by the dispatcher",
		},
		[]string{"status"}, // ok / retry / failed
	)

	DispatchInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "quotapool",
			Name:      "dispatch_in_flight",
			Help:      "Work items currently executing",
		},
	)

	DispatchBackpressureWaitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quotapool",
			Name:      "dispatch_backpressure_waits_total",
			Help:      "Times a batch parked waiting for new budget",
		},
	)

	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quotapool",
			Name:      "upstream_request_duration_seconds",
			Help:      "Remote API request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)

	CredentialRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotapool",
			Name:      "credential_refreshes_total",
			Help:      "Credential token exchanges by kind and result",
		},
		[]string{"kind", "result"}, // result: ok / error
	)
)

var registerPoolOnce sync.Once

// RegisterPoolMetrics registers the pool and dispatcher metrics. Safe to call more than once.
func RegisterPoolMetrics() {
	registerPoolOnce.Do(func() {
		prometheus.MustRegister(
			PoolCredentials,
			PoolFreeCredentials,
			PoolFreeWeight,
			PoolReplenishmentsTotal,
			PoolCheckoutsTotal,
			DispatchRequestsTotal,
			DispatchInFlight,
			DispatchBackpressureWaitsTotal,
			UpstreamRequestDuration,
			CredentialRefreshesTotal,
		)
	})
}
