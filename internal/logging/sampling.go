package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore samples entries below ErrorLevel. Errors always pass.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	sampled := zapcore.NewSamplerWithOptions(
		levelRange{Core: core, max: zapcore.WarnLevel},
		cfg.Tick, cfg.Initial, cfg.Thereafter,
	)
	return zapcore.NewTee(levelRange{Core: core, min: zapcore.ErrorLevel, hasMin: true}, sampled)
}

// levelRange passes entries whose level lies in [min, max]. A zero max means
// no upper bound; hasMin distinguishes min=Info from no lower bound.
type levelRange struct {
	zapcore.Core
	min, max zapcore.Level
	hasMin   bool
}

func (c levelRange) Enabled(l zapcore.Level) bool {
	if c.hasMin && l < c.min {
		return false
	}
	if c.max != 0 && l > c.max {
		return false
	}
	return c.Core.Enabled(l)
}

func (c levelRange) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c levelRange) With(fields []zapcore.Field) zapcore.Core {
	return levelRange{Core: c.Core.With(fields), min: c.min, max: c.max, hasMin: c.hasMin}
}
