package secrets

import (
	"fmt"
	"sort"
	"strings"
	"time"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
)

// previewLen is how many leading characters of a secret a marker keeps.
const previewLen = 4

// Options configures a Redactor.
type Options struct {
	VaultPath     string // directory holding .gitleaks.toml
	AllowlistPath string // user allowlist.toml
}

// Result is redacted content plus its audit trail.
type Result struct {
	Content string
	Audit   AuditLog
}

// Redactor replaces secrets with [REDACTED:rule:prev] markers. The rule set
// and allowlists are loaded once; Redact is safe for concurrent use.
type Redactor struct {
	cfg gitleaksconfig.Config
}

// NewRedactor loads the Gitleaks rules and the allowlists named by opts.
func NewRedactor(opts Options) (*Redactor, error) {
	allowlist, err := LoadAllowlists(opts.VaultPath, opts.AllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("loading allowlists: %w", err)
	}
	cfg, err := detectorConfig(allowlist)
	if err != nil {
		return nil, err
	}
	return &Redactor{cfg: cfg}, nil
}

// Redact returns content with every detected secret replaced.
func (r *Redactor) Redact(content string) (string, error) {
	res, err := r.RedactWithAudit(content)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// RedactWithAudit is Redact with an audit log of what was replaced.
func (r *Redactor) RedactWithAudit(content string) (Result, error) {
	start := time.Now()
	if strings.TrimSpace(content) == "" {
		return Result{Content: content, Audit: buildAuditLog(nil, time.Since(start))}, nil
	}

	findings := detectIn(r.cfg, content)
	return Result{
		Content: replaceFindings(content, findings),
		Audit:   buildAuditLog(findings, time.Since(start)),
	}, nil
}

// replaceFindings substitutes each distinct secret value, longest first so
// a secret containing another is replaced whole.
func replaceFindings(content string, findings []Finding) string {
	if len(findings) == 0 {
		return content
	}

	seen := make(map[string]string, len(findings))
	for _, f := range findings {
		if f.Match == "" {
			continue
		}
		if _, ok := seen[f.Match]; !ok {
			seen[f.Match] = fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview(f.Match))
		}
	}

	secrets := make([]string, 0, len(seen))
	for s := range seen {
		secrets = append(secrets, s)
	}
	sort.Slice(secrets, func(i, j int) bool {
		if len(secrets[i]) != len(secrets[j]) {
			return len(secrets[i]) > len(secrets[j])
		}
		return secrets[i] < secrets[j]
	})

	pairs := make([]string, 0, 2*len(secrets))
	for _, s := range secrets {
		pairs = append(pairs, s, seen[s])
	}
	return strings.NewReplacer(pairs...).Replace(content)
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen])
}

func buildAuditLog(findings []Finding, elapsed time.Duration) AuditLog {
	redactions := make([]Redaction, 0, len(findings))
	counts := make(map[string]int)
	for _, f := range findings {
		redactions = append(redactions, Redaction{
			RuleID:      f.RuleID,
			RuleDesc:    f.RuleDesc,
			LineNumber:  f.Line,
			Column:      f.StartCol,
			OriginalLen: len(f.Match),
			Preview:     preview(f.Match),
		})
		counts[f.RuleID]++
	}
	return AuditLog{
		Timestamp:  time.Now(),
		Redactions: redactions,
		Summary: Summary{
			TotalSecrets:     len(findings),
			UniqueRules:      len(counts),
			RuleCounts:       counts,
			ProcessingTimeMs: elapsed.Milliseconds(),
		},
	}
}
