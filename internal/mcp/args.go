package mcp

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/danielscholl/obsidian-rag-mcp/internal/engine"
	"github.com/danielscholl/obsidian-rag-mcp/internal/reasoning"
)

const (
	defaultTopK        = 5
	defaultExploreTopK = 10
	defaultLimit       = 10
	defaultMaxDepth    = 3
)

// number converts a loosely typed JSON argument. Clients send numbers as
// float64, but strings such as "5" are accepted too. NaN and infinities
// count as unparseable.
func number(v any) (float64, bool) {
	var (
		f   float64
		err error
	)
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		f, err = n.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// clampInt reads an integer argument, falling back to def when it is absent
// or unparseable and clamping it to [lo, hi] otherwise.
func clampInt(v any, def, lo, hi int) int {
	f, ok := number(v)
	if !ok {
		return def
	}
	n := int(f)
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func topK(v any, def int) int {
	return clampInt(v, def, 1, engine.MaxTopK)
}

func confidence(v any) float64 {
	f, ok := number(v)
	if !ok {
		return 0
	}
	return math.Max(0, math.Min(1, f))
}

// conclusionTypes accepts a list or a single value and drops anything that
// is not a known type. A non-empty request naming no known type is an error
// rather than a search over every type.
func conclusionTypes(v any) ([]reasoning.ConclusionType, error) {
	var raw []any
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		raw = t
	case []string:
		for _, s := range t {
			raw = append(raw, s)
		}
	default:
		raw = []any{t}
	}

	var out []reasoning.ConclusionType
	for _, r := range raw {
		s, ok := r.(string)
		if !ok {
			continue
		}
		ct := reasoning.ConclusionType(strings.ToLower(strings.TrimSpace(s)))
		if ct.Valid() {
			out = append(out, ct)
		}
	}
	if len(raw) > 0 && len(out) == 0 {
		return nil, fmt.Errorf("%w: conclusion_types must include deductive, inductive or abductive", engine.ErrValidation)
	}
	return out, nil
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
