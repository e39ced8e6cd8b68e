package quotapool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/quotapool/internal/domain"
)

// Outcome labels, most specific first.
var outcomes = []struct {
	err   error
	label string
}{
	{context.Canceled, "canceled"},
	{context.DeadlineExceeded, "timeout"},
	{domain.ErrInvalidArgument, "invalid_argument"},
	{domain.ErrEmptyCredential, "invalid_argument"},
	{domain.ErrInsufficientQuota, "insufficient_quota"},
	{domain.ErrNotEnoughHistory, "not_enough_history"},
	{domain.ErrNoCredential, "no_credential"},
	{domain.ErrExchangeFailed, "exchange_failed"},
	{domain.ErrUpstream, "upstream_error"},
}

// outcome maps an operation error to a low-cardinality metric label.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	for _, o := range outcomes {
		if errors.Is(err, o.err) {
			return o.label
		}
	}
	return "error"
}

type sdkMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func newSDKMetrics(reg prometheus.Registerer) (*sdkMetrics, error) {
	m := &sdkMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quotapool",
			Subsystem: "sdk",
			Name:      "operations_total",
			Help:      "SDK operations by operation, game region and outcome.",
		}, []string{"operation", "region", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quotapool",
			Subsystem: "sdk",
			Name:      "operation_duration_seconds",
			Help:      "SDK operation duration including time parked on an exhausted budget.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"operation"}),
	}
	if err := registerOrReuse(reg, &m.operations); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

// registerOrReuse lets several clients share one registerer.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	err := reg.Register(*c)
	if err == nil {
		return nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return fmt.Errorf("quotapool: register metric: %w", err)
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return fmt.Errorf("quotapool: metric already registered as %T", are.ExistingCollector)
	}
	*c = existing
	return nil
}

// observer logs and counts SDK calls. A nil observer is a no-op.
type observer struct {
	logger  *slog.Logger
	metrics *sdkMetrics
}

func newObserver(logger *slog.Logger, reg prometheus.Registerer) (*observer, error) {
	o := &observer{logger: logger}
	if reg != nil {
		m, err := newSDKMetrics(reg)
		if err != nil {
			return nil, err
		}
		o.metrics = m
	}
	return o, nil
}

// observe records one call. region is empty for credential management.
func (o *observer) observe(op, region string, start time.Time, err error) {
	if o == nil {
		return
	}
	dur := time.Since(start)
	result := outcome(err)

	if o.metrics != nil {
		o.metrics.operations.WithLabelValues(op, region, result).Inc()
		o.metrics.duration.WithLabelValues(op).Observe(dur.Seconds())
	}
	if o.logger == nil {
		return
	}

	attrs := []any{"op", op, "duration", dur, "outcome", result}
	if region != "" {
		attrs = append(attrs, "region", region)
	}
	switch result {
	case "ok":
		o.logger.Debug("quotapool call completed", attrs...)
	case "canceled", "not_enough_history", "invalid_argument":
		// caller-side outcomes
		o.logger.Info("quotapool call rejected", append(attrs, "error", err)...)
	default:
		var se *domain.StatusError
		if errors.As(err, &se) {
			attrs = append(attrs, "upstream_status", se.StatusCode)
		}
		o.logger.Warn("quotapool call failed", append(attrs, "error", err)...)
	}
}
