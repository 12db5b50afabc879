package observe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewMetricsCreatesAllInstruments(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	m, err := NewMetrics(mp)
	require.NoError(t, err)

	assert.NotNil(t, m.TurnDuration)
	assert.NotNil(t, m.GradingDuration)
	assert.NotNil(t, m.SummaryDuration)
	assert.NotNil(t, m.RateLimitWait)
	assert.NotNil(t, m.ProviderRequests)
	assert.NotNil(t, m.ProviderErrors)
	assert.NotNil(t, m.ActiveSessions)
	assert.NotNil(t, m.ActiveStreams)
}

func TestRecordProviderRequestIsCollected(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordProviderRequest(ctx, "openai", "generate", "ok")
	m.RecordProviderRequest(ctx, "openai", "generate", "ok")
	m.RecordProviderError(ctx, "deepgram", "stream")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.NotEmpty(t, rm.ScopeMetrics)

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, inst := range sm.Metrics {
			names[inst.Name] = true
		}
	}
	assert.True(t, names["parley.provider.requests"])
	assert.True(t, names["parley.provider.errors"])
}
