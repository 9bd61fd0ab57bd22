package logging

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ingestd/internal/config"
)

const (
	maxPatternLen   = 200
	redacted        = "[REDACTED]"
	redactedPattern = "[REDACTED:pattern]"
)

// Secret logs a config.Secret as its length only, so a missing or
// truncated credential is still visible.
func Secret(key string, val config.Secret) zap.Field {
	return zap.String(key, fmt.Sprintf("[REDACTED:%d]", len(val.Value())))
}

// RedactingEncoder wraps a zapcore.Encoder and redacts sensitive keys and
// string values matching a pattern, both for fields bound with With and for
// per-entry fields.
type RedactingEncoder struct {
	zapcore.Encoder
	fields   map[string]bool
	patterns []*regexp.Regexp
}

// NewRedactingEncoder wraps an encoder with redaction rules.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}

	fields := make(map[string]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		fields[strings.ToLower(f)] = true
	}

	patterns, err := compilePatterns(cfg.Patterns)
	if err != nil {
		return nil, err
	}
	return &RedactingEncoder{Encoder: base, fields: fields, patterns: patterns}, nil
}

// compilePatterns compiles value patterns, reporting every bad one.
func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	var errs []error
	for _, p := range patterns {
		if len(p) > maxPatternLen {
			errs = append(errs, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p))
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid redaction pattern %q: %w", p, err))
			continue
		}
		out = append(out, re)
	}
	return out, errors.Join(errs...)
}

// scrub returns the replacement for a string field, or false when the
// field may be written as is.
func (e *RedactingEncoder) scrub(key, val string) (string, bool) {
	if e.fields[strings.ToLower(key)] {
		return redacted, true
	}
	for _, re := range e.patterns {
		if re.MatchString(val) {
			return redactedPattern, true
		}
	}
	return "", false
}

// AddString redacts sensitive keys and values of fields bound with With.
func (e *RedactingEncoder) AddString(key, val string) {
	if r, ok := e.scrub(key, val); ok {
		val = r
	}
	e.Encoder.AddString(key, val)
}

// AddReflected redacts the whole value when the key is sensitive.
func (e *RedactingEncoder) AddReflected(key string, val any) error {
	if e.fields[strings.ToLower(key)] {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

// EncodeEntry redacts per-entry fields before delegating. Non-string
// fields are checked by key only.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if len(e.fields) == 0 && len(e.patterns) == 0 {
		return e.Encoder.EncodeEntry(ent, fields)
	}
	out := slices.Clone(fields)
	for i, f := range out {
		val := ""
		if f.Type == zapcore.StringType {
			val = f.String
		}
		if r, ok := e.scrub(f.Key, val); ok {
			out[i] = zap.String(f.Key, r)
		}
	}
	return e.Encoder.EncodeEntry(ent, out)
}

// Clone copies the wrapped encoder and shares the compiled rules.
func (e *RedactingEncoder) Clone() zapcore.Encoder {
	c := *e
	c.Encoder = e.Encoder.Clone()
	return &c
}
