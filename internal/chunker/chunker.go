// Package chunker splits Obsidian markdown notes into chunks for embedding.
//
// A note's frontmatter supplies its title and tags; inline #tags outside
// code blocks are added. The body is split into sections on level-two
// headings, and sections over the size limit are split again by paragraph
// with a short overlap. Fenced code blocks are never split.
package chunker

import (
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/danielscholl/obsidian-rag-mcp/internal/config"
	"github.com/danielscholl/obsidian-rag-mcp/internal/reasoning"
)

// charsPerToken is the estimate used for every size in this package.
const charsPerToken = 4

var (
	codeBlockRe = regexp.MustCompile("(?s)```.*?```")
	h1Re        = regexp.MustCompile(`(?m)^# (.+)$`)
	h2Re        = regexp.MustCompile(`(?m)^## .+$`)
	tagRe       = regexp.MustCompile(`#([a-zA-Z][a-zA-Z0-9_/-]*)`)
	paragraphRe = regexp.MustCompile(`\n\s*\n`)
)

// Chunk is one piece of a note.
type Chunk struct {
	ID          string
	Content     string
	SourcePath  string
	ChunkIndex  int
	Title       string
	Heading     string // empty for text before the first section heading
	Tags        []string
	Frontmatter map[string]any
}

// TokenEstimate approximates the chunk's token count.
func (c Chunk) TokenEstimate() int {
	return len(c.Content) / charsPerToken
}

// Context returns the provenance snapshot attached to conclusions.
func (c Chunk) Context() reasoning.ChunkContext {
	return reasoning.ChunkContext{
		SourcePath: c.SourcePath,
		Title:      c.Title,
		Heading:    c.Heading,
		Tags:       c.Tags,
		ChunkIndex: c.ChunkIndex,
	}
}

// Config sizes chunks in estimated tokens.
type Config struct {
	MaxChunkTokens int
	MinChunkTokens int
	OverlapTokens  int
	SplitOnH2      bool
}

// DefaultConfig returns the default chunk sizes.
func DefaultConfig() Config {
	return Config{
		MaxChunkTokens: 1000,
		MinChunkTokens: 100,
		OverlapTokens:  50,
		SplitOnH2:      true,
	}
}

// ConfigFrom maps the chunker section of the application config.
func ConfigFrom(c config.ChunkerConfig) Config {
	return Config{
		MaxChunkTokens: c.MaxChunkTokens,
		MinChunkTokens: c.MinChunkTokens,
		OverlapTokens:  c.OverlapTokens,
		SplitOnH2:      c.SplitOnH2,
	}
}

// Chunker splits markdown documents. It is stateless and safe for
// concurrent use.
type Chunker struct {
	cfg Config
}

// New creates a chunker. A non-positive max size falls back to the default.
func New(cfg Config) *Chunker {
	if cfg.MaxChunkTokens <= 0 {
		cfg.MaxChunkTokens = DefaultConfig().MaxChunkTokens
	}
	if cfg.MinChunkTokens < 0 {
		cfg.MinChunkTokens = 0
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = 0
	}
	return &Chunker{cfg: cfg}
}

// ChunkDocument splits content read from sourcePath. Chunk indexes are
// sequential from zero across the whole document.
func (c *Chunker) ChunkDocument(content, sourcePath string) []Chunk {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	fm, body := splitFrontmatter(content)

	doc := document{
		sourcePath:  sourcePath,
		title:       documentTitle(fm, body, sourcePath),
		tags:        extractTags(fm, body),
		frontmatter: fm,
	}

	var chunks []Chunk
	for _, s := range c.sections(body) {
		chunks = append(chunks, c.chunkSection(doc, s, len(chunks))...)
	}
	return chunks
}

type document struct {
	sourcePath  string
	title       string
	tags        []string
	frontmatter map[string]any
}

type section struct {
	heading string
	content string
}

func documentTitle(fm map[string]any, body, sourcePath string) string {
	if t, ok := fm["title"]; ok {
		if s := strings.TrimSpace(stringify(t)); s != "" {
			return s
		}
	}
	if m := h1Re.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSuffix(path.Base(strings.ReplaceAll(sourcePath, "\\", "/")), ".md")
}

func extractTags(fm map[string]any, body string) []string {
	set := make(map[string]struct{})
	for _, t := range frontmatterTags(fm["tags"]) {
		set[t] = struct{}{}
	}
	for _, m := range tagRe.FindAllStringSubmatch(codeBlockRe.ReplaceAllString(body, ""), -1) {
		set[m[1]] = struct{}{}
	}

	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

func frontmatterTags(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := strings.TrimSpace(stringify(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	default:
		return []string{stringify(t)}
	}
}

func (c *Chunker) sections(body string) []section {
	if !c.cfg.SplitOnH2 {
		return []section{{content: body}}
	}
	locs := h2Re.FindAllStringIndex(body, -1)
	if len(locs) == 0 {
		return []section{{content: body}}
	}

	var out []section
	if pre := strings.TrimSpace(body[:locs[0][0]]); pre != "" {
		out = append(out, section{content: pre})
	}
	for i, loc := range locs {
		heading := strings.TrimSpace(strings.TrimLeft(body[loc[0]:loc[1]], "#"))
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if text := strings.TrimSpace(body[loc[1]:end]); text != "" {
			out = append(out, section{heading: heading, content: text})
		}
	}
	return out
}

func (c *Chunker) chunkSection(doc document, s section, baseIndex int) []Chunk {
	maxChars := c.cfg.MaxChunkTokens * charsPerToken
	minChars := c.cfg.MinChunkTokens * charsPerToken
	overlapChars := c.cfg.OverlapTokens * charsPerToken

	if len(s.content) <= maxChars {
		if strings.TrimSpace(s.content) == "" {
			return nil
		}
		return []Chunk{doc.chunk(s.content, s.heading, baseIndex)}
	}

	var (
		out     []Chunk
		current string
		index   = baseIndex
	)
	for _, para := range splitParagraphs(s.content) {
		if len(current)+len(para) > maxChars && len(current) >= minChars {
			out = append(out, doc.chunk(strings.TrimSpace(current), s.heading, index))
			index++
			current = tail(current, overlapChars)
		}
		current += para + "\n\n"
	}
	if text := strings.TrimSpace(current); text != "" {
		out = append(out, doc.chunk(text, s.heading, index))
	}
	return out
}

func (d document) chunk(content, heading string, index int) Chunk {
	return Chunk{
		ID:          reasoning.ChunkID(d.sourcePath, index),
		Content:     content,
		SourcePath:  d.sourcePath,
		ChunkIndex:  index,
		Title:       d.title,
		Heading:     heading,
		Tags:        d.tags,
		Frontmatter: d.frontmatter,
	}
}

// splitParagraphs splits on blank lines without breaking fenced code.
func splitParagraphs(content string) []string {
	var blocks []string
	masked := codeBlockRe.ReplaceAllStringFunc(content, func(m string) string {
		blocks = append(blocks, m)
		return placeholder(len(blocks) - 1)
	})

	var out []string
	for _, p := range paragraphRe.Split(masked, -1) {
		for i := len(blocks) - 1; i >= 0; i-- {
			p = strings.ReplaceAll(p, placeholder(i), blocks[i])
		}
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func placeholder(i int) string {
	return "\x00CODE_BLOCK_" + strconv.Itoa(i) + "\x00"
}

// tail returns the last n bytes of s, moved forward to a rune boundary.
// It returns "" when s is not longer than n.
func tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return ""
	}
	i := len(s) - n
	for i < len(s) && !isRuneStart(s[i]) {
		i++
	}
	return s[i:]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
