// Package ignore reads gitignore-style files that exclude documents from
// watched directories.
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the ignore file looked up in a watched directory.
const FileName = ".ingestignore"

// DefaultPatterns are used when a directory has no ignore file.
var DefaultPatterns = []string{"*.tmp", "*.part", "*.swp", "*~"}

// Matcher decides whether a file name is excluded. Patterns are matched
// against the base name with filepath.Match semantics.
type Matcher struct {
	patterns []string
}

// NewMatcher builds a matcher from raw ignore-file lines. Comments, blank
// lines, negations and directory-only entries are dropped.
func NewMatcher(lines []string) *Matcher {
	var patterns []string
	for _, line := range lines {
		if p := parseLine(line); p != "" {
			patterns = append(patterns, p)
		}
	}
	return &Matcher{patterns: deduplicate(patterns)}
}

// Load reads the named ignore files from dir. When none exist the fallback
// lines are used instead.
func Load(dir string, files []string, fallback []string) (*Matcher, error) {
	var lines []string
	found := false
	for _, name := range files {
		fileLines, err := readLines(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		lines = append(lines, fileLines...)
		found = true
	}
	if !found {
		lines = fallback
	}
	return NewMatcher(lines), nil
}

// LoadDir reads FileName from dir, falling back to DefaultPatterns.
func LoadDir(dir string) (*Matcher, error) {
	return Load(dir, []string{FileName}, DefaultPatterns)
}

// Patterns returns the effective patterns.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.patterns...)
}

// Ignored reports whether name matches any pattern. A nil matcher ignores
// nothing.
func (m *Matcher) Ignored(name string) bool {
	if m == nil {
		return false
	}
	base := filepath.Base(name)
	for _, p := range m.patterns {
		if ok, err := filepath.Match(p, base); err == nil && ok {
			return true
		}
	}
	return false
}

// Filter wraps accept so that ignored names are rejected.
func (m *Matcher) Filter(accept func(name string) bool) func(name string) bool {
	return func(name string) bool {
		if m.Ignored(name) {
			return false
		}
		return accept == nil || accept(name)
	}
}

func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// parseLine returns the base-name pattern for one ignore line, or "" when
// the line carries none.
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t")
	switch {
	case line == "", strings.HasPrefix(line, "#"), strings.HasPrefix(line, "!"):
		return ""
	case strings.HasSuffix(line, "/"):
		// Watched directories are flat.
		return ""
	}

	line = strings.TrimPrefix(line, "/")
	line = strings.TrimPrefix(line, "**/")
	if strings.Contains(line, "/") {
		return ""
	}
	if _, err := filepath.Match(line, ""); err != nil {
		return ""
	}
	return line
}

// deduplicate removes duplicate patterns while preserving order.
func deduplicate(patterns []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}
