package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/danielscholl/obsidian-rag-mcp/internal/conclusions"
	"github.com/danielscholl/obsidian-rag-mcp/internal/engine"
)

const meterName = "obsidian-rag.mcp"

// toolMetrics counts tool calls by outcome and times them.
type toolMetrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	active   metric.Int64UpDownCounter
}

func newToolMetrics(meter metric.Meter) (*toolMetrics, error) {
	var (
		m    toolMetrics
		errs [3]error
	)
	m.calls, errs[0] = meter.Int64Counter("obsidian_rag.mcp.tool.calls",
		metric.WithDescription("MCP tool calls, by tool and outcome"),
		metric.WithUnit("{call}"))
	m.duration, errs[1] = meter.Float64Histogram("obsidian_rag.mcp.tool.duration",
		metric.WithDescription("MCP tool call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60))
	m.active, errs[2] = meter.Int64UpDownCounter("obsidian_rag.mcp.tool.active",
		metric.WithDescription("MCP tool calls in flight"),
		metric.WithUnit("{call}"))
	if err := errors.Join(errs[:]...); err != nil {
		return nil, err
	}
	return &m, nil
}

// start marks a call to tool as in flight. The returned func finishes it.
func (m *toolMetrics) start(ctx context.Context, tool string) func(error) {
	begin := time.Now()
	name := attribute.String("tool", tool)
	m.active.Add(ctx, 1, metric.WithAttributes(name))
	return func(err error) {
		m.active.Add(ctx, -1, metric.WithAttributes(name))
		attrs := metric.WithAttributes(name, attribute.String("outcome", outcome(err)))
		m.calls.Add(ctx, 1, attrs)
		m.duration.Record(ctx, time.Since(begin).Seconds(), attrs)
	}
}

// outcome is a low-cardinality label for a call's result.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, engine.ErrValidation):
		return "invalid"
	case errors.Is(err, engine.ErrNotFound):
		return "not_found"
	case errors.Is(err, engine.ErrReasoningDisabled):
		return "reasoning_disabled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case conclusions.IsStorageError(err):
		return "storage_error"
	default:
		return "error"
	}
}
