package chunker

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const fence = "---"

// splitFrontmatter separates a leading YAML block delimited by --- lines
// from the body. Invalid YAML is treated as body text.
func splitFrontmatter(content string) (map[string]any, string) {
	empty := map[string]any{}
	if !strings.HasPrefix(content, fence) {
		return empty, content
	}
	first, rest, ok := strings.Cut(content, "\n")
	if !ok || strings.TrimSpace(first) != fence {
		return empty, content
	}

	var (
		yamlLines []string
		closed    bool
		body      string
	)
	for {
		line, next, more := strings.Cut(rest, "\n")
		if strings.TrimRight(line, " \t") == fence {
			closed = true
			body = next
			break
		}
		yamlLines = append(yamlLines, line)
		if !more {
			break
		}
		rest = next
	}
	if !closed {
		return empty, content
	}

	fm := map[string]any{}
	if err := yaml.Unmarshal([]byte(strings.Join(yamlLines, "\n")), &fm); err != nil {
		return empty, content
	}
	if fm == nil {
		fm = empty
	}
	return fm, strings.TrimLeft(body, "\n")
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
