// Package telemetry wires tracing and metrics for the orchestrator.
// Grounded on the teacher's pkg/observability package: the same
// Manager-owns-tracer-and-metrics lifecycle (pkg/observability/manager.go)
// and enabled-flag-gated initialization (pkg/observability/tracer.go,
// metrics.go), rebuilt on the otel SDK's stdout trace exporter and the
// otel/exporters/prometheus metric bridge instead of the teacher's OTLP
// gRPC exporter and hand-built prometheus.CounterVec fields — this module's
// go.mod carries the former pair, not the latter.
package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"net/http"
)

// Config gates tracing/metrics the way the teacher's TracerConfig/
// MetricsConfig do, collapsed to the two switches this module needs.
type Config struct {
	ServiceName     string
	TracingEnabled  bool
	MetricsEnabled  bool
}

// Manager owns the tracer and meter providers for the process lifetime and
// exposes the prometheus handler for the metrics endpoint.
type Manager struct {
	cfg            Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
}

// New initializes tracing (stdout span exporter, batched) and metrics
// (prometheus bridge) per cfg's enabled flags. Either may be left nil if
// disabled; callers always get a valid (possibly no-op) Tracer/Meter.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	m := &Manager{cfg: cfg}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	if cfg.TracingEnabled {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		m.tracerProvider = tp
		otel.SetTracerProvider(tp)
		m.Tracer = tp.Tracer("orchestrator")
	} else {
		m.Tracer = otel.Tracer("orchestrator")
	}

	if cfg.MetricsEnabled {
		exporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("telemetry: prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter), sdkmetric.WithResource(res))
		m.meterProvider = mp
		otel.SetMeterProvider(mp)
		m.Meter = mp.Meter("orchestrator")
	} else {
		m.Meter = otel.Meter("orchestrator")
	}

	return m, nil
}

// MetricsHandler returns the HTTP handler the caller should mount at
// /metrics; nil if metrics were disabled.
func (m *Manager) MetricsHandler() http.Handler {
	if m == nil || m.meterProvider == nil {
		return nil
	}
	return promhttp.Handler()
}

// Shutdown flushes and stops the tracer/meter providers.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	if m.tracerProvider != nil {
		if err := m.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("telemetry: shutdown tracer: %w", err)
		}
	}
	if m.meterProvider != nil {
		if err := m.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("telemetry: shutdown meter: %w", err)
		}
	}
	return nil
}

// AgentCallCounters holds the per-agent-kind counters the middleware chain
// increments, grounded on the teacher's agentCalls/agentCallDuration/
// agentErrors triple (pkg/observability/metrics.go) but built on the otel
// metric API's Int64Counter/Float64Histogram instead of promauto CounterVec.
type AgentCallCounters struct {
	Calls    metric.Int64Counter
	Errors   metric.Int64Counter
	Duration metric.Float64Histogram
}

// NewAgentCallCounters registers the counters against meter.
func NewAgentCallCounters(meter metric.Meter) (*AgentCallCounters, error) {
	calls, err := meter.Int64Counter("agent_calls_total", metric.WithDescription("Agent invocations by kind"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: agent_calls_total: %w", err)
	}
	errs, err := meter.Int64Counter("agent_errors_total", metric.WithDescription("Agent invocation failures by kind"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: agent_errors_total: %w", err)
	}
	duration, err := meter.Float64Histogram("agent_call_duration_seconds", metric.WithDescription("Agent invocation latency by kind"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: agent_call_duration_seconds: %w", err)
	}
	return &AgentCallCounters{Calls: calls, Errors: errs, Duration: duration}, nil
}
