// Package redact removes secrets from text before it is embedded.
//
// Detection uses the gitleaks default rule set. Each secret is replaced by
// a [REDACTED:<rule>] marker so the surrounding text keeps its meaning for
// retrieval.
package redact

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ingestd/internal/config"
)

// Finding is one detected secret. The secret value itself is not kept.
type Finding struct {
	RuleID string `json:"rule_id"`
	Line   int    `json:"line"`
}

// Result is redacted text plus what was removed.
type Result struct {
	Text     string         `json:"-"`
	Findings []Finding      `json:"findings,omitempty"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
}

// Count returns the number of findings.
func (r Result) Count() int { return len(r.Findings) }

// Redactor detects and replaces secrets. A nil *Redactor, or one built with
// redaction disabled, returns text unchanged.
type Redactor struct {
	// guards detector, which keeps per-scan state
	mu       sync.Mutex
	detector *detect.Detector
	logger   *zap.Logger
}

// New builds a Redactor from configuration.
func New(cfg config.RedactionConfig, logger *zap.Logger) (*Redactor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Info("secret redaction disabled")
		return &Redactor{logger: logger}, nil
	}

	allowlist, err := LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return nil, err
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	applyAllowlist(&detector.Config, allowlist)

	return &Redactor{detector: detector, logger: logger}, nil
}

// applyAllowlist appends allowlist patterns as a global gitleaks allowlist.
// Patterns were compiled once in LoadAllowlist.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	if len(allowlist.Regexes) == 0 && len(allowlist.StopWords) == 0 {
		return
	}
	global := &gitleaksConfig.Allowlist{Description: "ingestd allowlist"}
	for _, pattern := range allowlist.Regexes {
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
	}
	global.StopWords = append(global.StopWords, allowlist.StopWords...)
	cfg.Allowlists = append(cfg.Allowlists, global)
}

// Enabled reports whether Redact scans text.
func (r *Redactor) Enabled() bool {
	return r != nil && r.detector != nil
}

// Redact returns text with every detected secret replaced.
func (r *Redactor) Redact(text string) Result {
	if !r.Enabled() || text == "" {
		return Result{Text: text}
	}

	r.mu.Lock()
	found := r.detector.DetectString(text)
	r.mu.Unlock()

	if len(found) == 0 {
		return Result{Text: text}
	}

	res := Result{
		Findings: make([]Finding, 0, len(found)),
		ByRule:   make(map[string]int),
	}
	replacements := make(map[string]string, len(found))
	for _, f := range found {
		res.Findings = append(res.Findings, Finding{RuleID: f.RuleID, Line: f.StartLine})
		res.ByRule[f.RuleID]++
		if f.Secret != "" {
			replacements[f.Secret] = "[REDACTED:" + f.RuleID + "]"
		}
	}
	res.Text = replaceSecrets(text, replacements)

	r.logger.Info("redacted secrets",
		zap.Int("count", len(res.Findings)),
		zap.Any("rules", res.ByRule),
	)
	return res
}

// replaceSecrets replaces longer secrets first so a secret that contains
// another is not split.
func replaceSecrets(text string, replacements map[string]string) string {
	secrets := make([]string, 0, len(replacements))
	for s := range replacements {
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
		pairs = append(pairs, s, replacements[s])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
