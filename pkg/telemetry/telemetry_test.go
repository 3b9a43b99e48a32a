package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DisabledStillReturnsUsableNoopProviders(t *testing.T) {
	m, err := New(context.Background(), Config{ServiceName: "orchestrator-test"})
	require.NoError(t, err)
	require.NotNil(t, m.Tracer)
	require.NotNil(t, m.Meter)
	assert.Nil(t, m.MetricsHandler())
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestNew_MetricsEnabledExposesHandler(t *testing.T) {
	m, err := New(context.Background(), Config{ServiceName: "orchestrator-test", MetricsEnabled: true})
	require.NoError(t, err)
	assert.NotNil(t, m.MetricsHandler())
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestNew_TracingEnabledBuildsRealTracer(t *testing.T) {
	m, err := New(context.Background(), Config{ServiceName: "orchestrator-test", TracingEnabled: true})
	require.NoError(t, err)
	require.NotNil(t, m.Tracer)
	_, span := m.Tracer.Start(context.Background(), "test-span")
	span.End()
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestNewAgentCallCounters_RegistersWithoutError(t *testing.T) {
	m, err := New(context.Background(), Config{ServiceName: "orchestrator-test", MetricsEnabled: true})
	require.NoError(t, err)
	counters, err := NewAgentCallCounters(m.Meter)
	require.NoError(t, err)
	require.NotNil(t, counters)

	counters.Calls.Add(context.Background(), 1)
	counters.Errors.Add(context.Background(), 1)
	counters.Duration.Record(context.Background(), 0.5)
}
