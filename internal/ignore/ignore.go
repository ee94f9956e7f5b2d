// Package ignore decides which vault paths are skipped during indexing.
//
// Patterns use fnmatch semantics: '*' matches any run of characters
// including '/', '?' matches one character and [...] is a class. A pattern
// matches a relative path when it matches the whole path, any leading
// sub-path, or any single component. For the component and sub-path
// checks, trailing '/' and '*' characters are stripped from the pattern, so
// ".obsidian/*" also excludes the ".obsidian" directory itself.
//
// Extra patterns come from a gitignore-style .ragignore file at the vault
// root. Negations are not supported.
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// FileName is the per-vault ignore file.
const FileName = ".ragignore"

// DefaultPatterns are always applied.
var DefaultPatterns = []string{
	".obsidian/*",
	".trash/*",
	".venv*/*",
	".git/*",
	"node_modules/*",
	"*.excalidraw.md",
}

// Matcher tests relative paths against a pattern list. It is immutable and
// safe for concurrent use.
type Matcher struct {
	patterns []compiled
}

type compiled struct {
	source string
	full   *regexp.Regexp // the pattern as written
	dir    *regexp.Regexp // trailing "/" and "*" stripped
}

// New compiles patterns. Blank patterns are skipped and duplicates dropped.
func New(patterns ...string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range deduplicate(patterns) {
		if strings.TrimSpace(p) == "" {
			continue
		}
		full, err := compileFnmatch(p)
		if err != nil {
			return nil, fmt.Errorf("ignore pattern %q: %w", p, err)
		}
		c := compiled{source: p, full: full}
		if stripped := strings.TrimRight(p, "/*"); stripped != "" {
			if c.dir, err = compileFnmatch(stripped); err != nil {
				return nil, fmt.Errorf("ignore pattern %q: %w", p, err)
			}
		}
		m.patterns = append(m.patterns, c)
	}
	return m, nil
}

// ForVault builds a matcher from the defaults, extra, and the vault's
// .ragignore. A missing .ragignore is not an error.
func ForVault(root string, extra []string) (*Matcher, error) {
	patterns := append(append([]string{}, DefaultPatterns...), extra...)
	fromFile, err := ParseFile(filepath.Join(root, FileName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return New(append(patterns, fromFile...)...)
}

// Patterns returns the source patterns in match order.
func (m *Matcher) Patterns() []string {
	out := make([]string, len(m.patterns))
	for i, c := range m.patterns {
		out[i] = c.source
	}
	return out
}

// Match reports whether relPath (slash or OS separated) is ignored.
func (m *Matcher) Match(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	parts := strings.Split(relPath, "/")
	for _, c := range m.patterns {
		if c.full.MatchString(relPath) {
			return true
		}
		if c.dir == nil {
			continue
		}
		for i, part := range parts {
			if c.dir.MatchString(strings.Join(parts[:i+1], "/")) || c.dir.MatchString(part) {
				return true
			}
		}
	}
	return false
}

// ParseFile reads gitignore-style patterns from path.
func ParseFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if p := parseLine(scanner.Text()); p != "" {
			patterns = append(patterns, p)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return patterns, nil
}

// parseLine converts one gitignore line. Comments, blanks and negations
// yield "".
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return ""
	}
	line = strings.TrimPrefix(line, "/")
	line = strings.ReplaceAll(line, "**/", "")
	line = strings.TrimSuffix(line, "/**")
	if strings.HasSuffix(line, "/") {
		line += "*"
	}
	return line
}

// compileFnmatch translates an fnmatch pattern into an anchored regexp.
func compileFnmatch(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch ch := pattern[i]; ch {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			end := strings.IndexByte(pattern[i+1:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := pattern[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + strings.ReplaceAll(class, `\`, `\\`) + "]")
			i += end + 1
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func deduplicate(patterns []string) []string {
	seen := make(map[string]bool, len(patterns))
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
