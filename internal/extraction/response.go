package extraction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedResponse means the model reply could not be decoded.
var ErrMalformedResponse = errors.New("malformed LLM response")

// rawConclusion is one item as the model wrote it.
type rawConclusion struct {
	Type       string      `json:"type"`
	Statement  string      `json:"statement"`
	Confidence flexFloat   `json:"confidence"`
	Evidence   flexStrings `json:"evidence"`
}

// flexFloat accepts 0.8 or "0.8".
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("confidence: %w", err)
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("confidence %q: %w", s, err)
	}
	*f = flexFloat(n)
	return nil
}

// flexStrings accepts ["a","b"] or "a".
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = nil
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*f = list
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("evidence: %w", err)
	}
	*f = []string{s}
	return nil
}

// stripFence removes a surrounding ``` or ```json code fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// parseSingle decodes {"conclusions": [...]} or a bare array.
func parseSingle(text string) ([]rawConclusion, error) {
	text = stripFence(text)
	if text == "" {
		return nil, nil
	}

	if strings.HasPrefix(text, "[") {
		var list []rawConclusion
		if err := json.Unmarshal([]byte(text), &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return list, nil
	}

	var obj struct {
		Conclusions []rawConclusion `json:"conclusions"`
	}
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return obj.Conclusions, nil
}

// parseBatch decodes {"results": {chunk_id: {"conclusions": [...]}}}. A
// chunk entry may also be a bare array.
func parseBatch(text string) (map[string][]rawConclusion, error) {
	text = stripFence(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrMalformedResponse)
	}

	var obj struct {
		Results map[string]json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if obj.Results == nil {
		return nil, fmt.Errorf("%w: missing results object", ErrMalformedResponse)
	}

	out := make(map[string][]rawConclusion, len(obj.Results))
	for id, raw := range obj.Results {
		items, err := parseSingle(string(raw))
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", id, err)
		}
		out[id] = items
	}
	return out, nil
}
