package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug. It is used for per-chunk and per-request
// detail that is too noisy for debug output.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, accepting "trace" in addition to the
// zap names. Matching is case-insensitive.
func LevelFromString(level string) (zapcore.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// levelEncoder prints TraceLevel as "trace"; zap would print "Level(-2)".
func levelEncoder(console bool) zapcore.LevelEncoder {
	return func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		if l == TraceLevel {
			if console {
				enc.AppendString("TRACE")
			} else {
				enc.AppendString("trace")
			}
			return
		}
		if console {
			zapcore.CapitalLevelEncoder(l, enc)
			return
		}
		zapcore.LowercaseLevelEncoder(l, enc)
	}
}
