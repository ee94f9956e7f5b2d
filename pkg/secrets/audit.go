package secrets

import (
	"encoding/json"
	"time"
)

// AuditLog records what a redaction pass replaced. It never holds secret
// values, only their rule, position, length and a short preview.
type AuditLog struct {
	Timestamp  time.Time   `json:"timestamp"`
	SourcePath string      `json:"source_path,omitempty"`
	Redactions []Redaction `json:"redactions"`
	Summary    Summary     `json:"summary"`
}

// Redaction is one replaced secret.
type Redaction struct {
	RuleID      string `json:"rule_id"`
	RuleDesc    string `json:"rule_desc"`
	LineNumber  int    `json:"line_number"`
	Column      int    `json:"column"`
	OriginalLen int    `json:"original_len"`
	Preview     string `json:"preview"`
}

// Summary aggregates a redaction pass.
type Summary struct {
	TotalSecrets     int            `json:"total_secrets"`
	UniqueRules      int            `json:"unique_rules"`
	RuleCounts       map[string]int `json:"rule_counts"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
}

// JSON returns the audit log as a compact JSON string.
func (a *AuditLog) JSON() string {
	data, err := json.Marshal(a)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// HasRedactions reports whether anything was replaced.
func (a *AuditLog) HasRedactions() bool {
	return len(a.Redactions) > 0
}
