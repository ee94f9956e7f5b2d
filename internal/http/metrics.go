package http

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/danielscholl/obsidian-rag-mcp/internal/engine"
)

const meterName = "obsidian-rag.http"

// requestMetrics records per-route traffic and counts failed requests by
// the kind of error the handler returned.
type requestMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	inflight metric.Int64UpDownCounter
	failures metric.Int64Counter
}

func newRequestMetrics(meter metric.Meter) (*requestMetrics, error) {
	var (
		m    requestMetrics
		errs [4]error
	)
	m.requests, errs[0] = meter.Int64Counter("obsidian_rag.http.requests",
		metric.WithDescription("Requests served, by method, route and status"),
		metric.WithUnit("{request}"))
	m.latency, errs[1] = meter.Float64Histogram("obsidian_rag.http.request.duration",
		metric.WithDescription("Time to serve a request, including embedding and LLM calls"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60))
	m.inflight, errs[2] = meter.Int64UpDownCounter("obsidian_rag.http.requests.active",
		metric.WithDescription("Requests currently being served"),
		metric.WithUnit("{request}"))
	m.failures, errs[3] = meter.Int64Counter("obsidian_rag.http.failures",
		metric.WithDescription("Requests whose handler returned an error, by kind"),
		metric.WithUnit("{request}"))
	if err := errors.Join(errs[:]...); err != nil {
		return nil, err
	}
	return &m, nil
}

// middleware hands handler errors to echo's error handler itself so the
// recorded status is the one the client sees.
func (m *requestMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			m.inflight.Add(ctx, 1)
			defer m.inflight.Add(ctx, -1)

			start := time.Now()
			if err := next(c); err != nil {
				m.failures.Add(ctx, 1, metric.WithAttributes(
					attribute.String("route", route(c)),
					attribute.String("kind", failureKind(err))))
				c.Error(err)
			}

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", route(c)),
				attribute.Int("status", c.Response().Status))
			m.requests.Add(ctx, 1, attrs)
			m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
			return nil
		}
	}
}

// route is the pattern echo matched, such as /api/v1/conclusions/:id, so
// conclusion IDs and note paths never become label values.
func route(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return "validation"
	case errors.Is(err, engine.ErrNotFound):
		return "not_found"
	case errors.Is(err, engine.ErrReasoningDisabled):
		return "reasoning_disabled"
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return "http_" + strconv.Itoa(he.Code)
	}
	return "internal"
}
