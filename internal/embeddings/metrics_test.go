package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func newTestMetrics() (*Metrics, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := &Metrics{meter: mp.Meter(instrumentationName), logger: zap.NewNop()}
	m.init()
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMetrics_RecordGeneration(t *testing.T) {
	m, reader := newTestMetrics()
	ctx := context.Background()

	m.RecordGeneration(ctx, "text-embedding-3-small", "embed_documents", 100*time.Millisecond, 10, nil)
	m.RecordGeneration(ctx, "text-embedding-3-small", "embed_query", 50*time.Millisecond, 1, nil)
	m.RecordGeneration(ctx, "text-embedding-3-small", "embed_documents", 25*time.Millisecond, 5, errors.New("boom"))
	m.RecordTruncation(ctx, "text-embedding-3-small", 2)
	m.RecordTruncation(ctx, "text-embedding-3-small", 0)

	got := collect(t, reader)

	dur, ok := got["obsidian_rag.embedding.duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var n uint64
	for _, dp := range dur.DataPoints {
		n += dp.Count
	}
	assert.Equal(t, uint64(3), n)
	assert.Len(t, dur.DataPoints, 2, "one series per operation")

	errs, ok := got["obsidian_rag.embedding.errors_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, errs.DataPoints, 1)
	assert.Equal(t, int64(1), errs.DataPoints[0].Value)

	trunc, ok := got["obsidian_rag.embedding.truncated_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, trunc.DataPoints, 1)
	assert.Equal(t, int64(2), trunc.DataPoints[0].Value)
}

func TestNewMetrics_NilLogger(t *testing.T) {
	assert.NotNil(t, NewMetrics(nil))
}
