package embeddings

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxDocumentChars caps document input before embedding.
	MaxDocumentChars = 30000
	// MaxQueryChars caps query input before embedding.
	MaxQueryChars = 8000
)

var (
	blankLines = regexp.MustCompile(`\n{3,}`)
	spaceRuns  = regexp.MustCompile(` {2,}`)
)

// CleanText normalizes text for embedding: NUL bytes are dropped, three or
// more newlines become a blank line, and runs of spaces become one space.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = blankLines.ReplaceAllString(s, "\n\n")
	s = spaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// truncate cuts s to at most max runes and reports whether it did.
func truncate(s string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:max]), true
}
