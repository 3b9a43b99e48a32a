package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sobrief/orchestrator/pkg/agentkind"
	"github.com/sobrief/orchestrator/pkg/state"
)

// Monitor collects Prometheus metrics for agent runs, grounded on the
// teacher's pkg/observability/metrics.go CounterVec/HistogramVec
// construction and registration pattern, narrowed to the agent-kind
// dimension this orchestrator cares about.
type Monitor struct {
	registry *prometheus.Registry

	calls       *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	errors      *prometheus.CounterVec
	activeRuns  *prometheus.GaugeVec
}

// NewMonitor creates a Monitor registered against a fresh Prometheus
// registry.
func NewMonitor(namespace string) *Monitor {
	m := &Monitor{registry: prometheus.NewRegistry()}

	m.calls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "calls_total",
		Help:      "Total number of agent invocations.",
	}, []string{"agent_kind", "tier"})

	m.callDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "call_duration_seconds",
		Help:      "Agent invocation duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"agent_kind", "tier"})

	m.errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "errors_total",
		Help:      "Total number of agent invocation errors.",
	}, []string{"agent_kind", "error_kind"})

	m.activeRuns = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "active_runs",
		Help:      "Number of currently executing agent invocations.",
	}, []string{"agent_kind"})

	m.registry.MustRegister(m.calls, m.callDuration, m.errors, m.activeRuns)
	return m
}

// Registry exposes the Prometheus registry for a /metrics handler.
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// Monitoring wraps a Runner to record call count, duration, in-flight
// gauge, and error count per agent kind.
func Monitoring(m *Monitor) Middleware {
	return func(next Runner) Runner {
		return func(ctx context.Context, kind agentkind.Kind, s *state.AnalysisState) (*state.ResultSlot, error) {
			tier := string(TierFromContext(ctx))
			m.activeRuns.WithLabelValues(string(kind)).Inc()
			defer m.activeRuns.WithLabelValues(string(kind)).Dec()

			start := time.Now()
			slot, err := next(ctx, kind, s)
			m.calls.WithLabelValues(string(kind), tier).Inc()
			m.callDuration.WithLabelValues(string(kind), tier).Observe(time.Since(start).Seconds())
			if err != nil {
				m.errors.WithLabelValues(string(kind), "unknown").Inc()
			}
			return slot, err
		}
	}
}
