package secrets

import (
	"fmt"
	"regexp"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Finding is a detected secret with its position.
type Finding struct {
	RuleID   string
	RuleDesc string
	Line     int // 1-based
	StartCol int // 0-based, inclusive
	EndCol   int // 0-based, exclusive
	Match    string
}

// detectorConfig builds the default Gitleaks rule set with the allowlist
// appended as a global allowlist.
func detectorConfig(allowlist *Allowlist) (gitleaksconfig.Config, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return gitleaksconfig.Config{}, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	cfg := d.Config
	if allowlist.Empty() {
		return cfg, nil
	}

	global := &gitleaksconfig.Allowlist{Description: "vault and user allowlist"}
	for _, p := range allowlist.Paths {
		re, err := regexp.Compile(p)
		if err != nil {
			return gitleaksconfig.Config{}, fmt.Errorf("%w: %q: %v", ErrInvalidRegex, p, err)
		}
		global.Paths = append(global.Paths, (*gitleaksregexp.Regexp)(re))
	}
	for _, p := range allowlist.Regexes {
		re, err := regexp.Compile(p)
		if err != nil {
			return gitleaksconfig.Config{}, fmt.Errorf("%w: %q: %v", ErrInvalidRegex, p, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksregexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allowlist.Regexes...)
	cfg.Allowlists = append(cfg.Allowlists, global)
	return cfg, nil
}

// detectIn scans content with a fresh detector. Detectors accumulate findings
// across calls, so one is created per scan from the shared config.
func detectIn(cfg gitleaksconfig.Config, content string) []Finding {
	found := detect.NewDetector(cfg).DetectString(content)
	out := make([]Finding, 0, len(found))
	for _, f := range found {
		out = append(out, Finding{
			RuleID:   f.RuleID,
			RuleDesc: f.Description,
			Line:     f.StartLine,
			StartCol: f.StartColumn,
			EndCol:   f.EndColumn,
			Match:    f.Secret,
		})
	}
	return out
}
