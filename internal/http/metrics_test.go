package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/danielscholl/obsidian-rag-mcp/internal/engine"
)

func instrumentedEcho(t *testing.T) (*echo.Echo, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := newRequestMetrics(mp.Meter(meterName))
	require.NoError(t, err)

	e := echo.New()
	e.HTTPErrorHandler = errorHandler(e.DefaultHTTPErrorHandler)
	e.Use(m.middleware())
	e.GET("/ok", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/api/v1/conclusions/:id", func(c echo.Context) error {
		return fmt.Errorf("%w: conclusion %s", engine.ErrNotFound, c.Param("id"))
	})
	e.GET("/disabled", func(echo.Context) error { return engine.ErrReasoningDisabled })
	e.GET("/boom", func(echo.Context) error { return errors.New("store unavailable") })
	return e, reader
}

func get(e *echo.Echo, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumBy(t *testing.T, data metricdata.Aggregation, key string) map[string]int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected an int64 sum, got %T", data)
	out := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key(key))
		out[v.Emit()] += dp.Value
	}
	return out
}

func TestRequestMetrics_StatusMatchesResponse(t *testing.T) {
	e, reader := instrumentedEcho(t)

	assert.Equal(t, http.StatusOK, get(e, "/ok").Code)
	assert.Equal(t, http.StatusNotFound, get(e, "/api/v1/conclusions/3f2a9c").Code)
	assert.Equal(t, http.StatusConflict, get(e, "/disabled").Code)
	assert.Equal(t, http.StatusInternalServerError, get(e, "/boom").Code)

	data := collect(t, reader)
	byStatus := sumBy(t, data["obsidian_rag.http.requests"], "status")
	assert.Equal(t, map[string]int64{"200": 1, "404": 1, "409": 1, "500": 1}, byStatus)

	byRoute := sumBy(t, data["obsidian_rag.http.requests"], "route")
	assert.Equal(t, int64(1), byRoute["/api/v1/conclusions/:id"])
	assert.NotContains(t, byRoute, "/api/v1/conclusions/3f2a9c")

	hist, ok := data["obsidian_rag.http.request.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	assert.Equal(t, uint64(4), n)
}

func TestRequestMetrics_FailureKinds(t *testing.T) {
	e, reader := instrumentedEcho(t)
	get(e, "/ok")
	get(e, "/api/v1/conclusions/x")
	get(e, "/disabled")
	get(e, "/boom")
	get(e, "/nowhere")

	kinds := sumBy(t, collect(t, reader)["obsidian_rag.http.failures"], "kind")
	assert.Equal(t, map[string]int64{
		"not_found":          1,
		"reasoning_disabled": 1,
		"internal":           1,
		"http_404":           1,
	}, kinds)
}

func TestFailureKind(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: top_k", engine.ErrValidation), "validation"},
		{badRequest("top_k must be an integer"), "http_400"},
		{errors.New("boom"), "internal"},
	} {
		assert.Equal(t, tc.want, failureKind(tc.err), tc.err.Error())
	}
}
