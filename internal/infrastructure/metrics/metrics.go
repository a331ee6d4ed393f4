// Package metrics exposes Prometheus counters for host calls and plugin
// invocations.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reglet-dev/warden/internal/domain/audit"
)

var (
	hostCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_host_calls_total",
			Help: "Host function calls by plugin, function and outcome",
		},
		[]string{"plugin", "function", "status", "kind"},
	)

	hostCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_host_call_duration_seconds",
			Help:    "Duration of host function calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"function"},
	)

	invocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_invocations_total",
			Help: "Guest invocations by plugin and outcome",
		},
		[]string{"plugin", "outcome"},
	)

	invocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_invocation_duration_seconds",
			Help:    "Wall-clock duration of guest invocations",
			Buckets: []float64{.001, .01, .1, .5, 1, 5, 10, 30, 60},
		},
		[]string{"plugin"},
	)

	droppedLogs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_guest_logs_dropped_total",
			Help: "Guest log messages dropped by the log rate limit",
		},
		[]string{"plugin"},
	)
)

// RecordInvocation counts one guest invocation and its duration.
func RecordInvocation(plugin, outcome string, d time.Duration) {
	invocations.WithLabelValues(plugin, outcome).Inc()
	invocationDuration.WithLabelValues(plugin).Observe(d.Seconds())
}

// RecordDroppedLog counts a guest log line refused by the rate limit.
func RecordDroppedLog(plugin string) {
	droppedLogs.WithLabelValues(plugin).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AuditSink counts every audit record before passing it on.
type AuditSink struct {
	next audit.Sink
}

// NewAuditSink wraps next.
func NewAuditSink(next audit.Sink) *AuditSink {
	return &AuditSink{next: next}
}

// Record implements audit.Sink.
func (s *AuditSink) Record(ctx context.Context, rec audit.Record) {
	hostCalls.WithLabelValues(rec.PluginID, rec.Function, string(rec.Status), rec.Kind).Inc()
	if rec.Duration > 0 {
		hostCallDuration.WithLabelValues(rec.Function).Observe(rec.Duration.Seconds())
	}
	s.next.Record(ctx, rec)
}
