package vectorstore

import (
	"fmt"
	"strconv"
)

// FormatValue renders a scalar metadata value as the string chromem stores.
// Floats use the shortest representation that parses back to the same value.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// String returns a metadata value as a string, or "" when absent.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	return FormatValue(v)
}

// Float returns a metadata value as a float64.
func (m Metadata) Float(key string) (float64, bool) {
	return toFloat(m[key])
}

// Int returns a metadata value as an int.
func (m Metadata) Int(key string) (int, bool) {
	switch x := m[key].(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(x)
		return n, err == nil
	}
	return 0, false
}

// Has reports whether the key is present.
func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}

func stringMetadata(md Metadata) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = FormatValue(v)
	}
	return out
}

func fromStringMetadata(md map[string]string) Metadata {
	out := make(Metadata, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
