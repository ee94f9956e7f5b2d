package logging

import (
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

const bridgeName = "github.com/danielscholl/obsidian-rag-mcp"

// newCore tees the stderr core with the OTEL log bridge when configured,
// then applies sampling to the combined core.
func newCore(cfg *Config, sink zapcore.WriteSyncer, provider log.LoggerProvider) zapcore.Core {
	core := zapcore.NewCore(newEncoder(cfg), sink, cfg.Level)
	if cfg.OTEL && provider != nil {
		core = zapcore.NewTee(core, otelzap.NewCore(bridgeName, otelzap.WithLoggerProvider(provider)))
	}
	return newSampledCore(core, cfg.Sampling)
}
