package testcases

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var csvHeader = []string{
	"external_id", "name", "scenario", "label", "fix_version",
	"priority", "test_steps", "expected_result", "test_data",
}

// WriteCSV writes a header row and one row per case.
func WriteCSV(w io.Writer, cases []TestCase) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, tc := range cases {
		err := cw.Write([]string{
			tc.ExternalID, tc.Name, tc.Scenario, tc.Label, tc.FixVersion,
			tc.Priority, tc.TestSteps, tc.ExpectedResult, tc.TestData,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes cases to <dir>/<key>_testcases.csv, creating dir. The
// file is written under a temporary name and renamed into place.
func WriteFile(dir, key string, cases []TestCase) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	path := filepath.Join(dir, fileStem(key)+"_testcases.csv")

	tmp, err := os.CreateTemp(dir, ".testcases-*.csv")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, cases); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("renaming into %s: %w", path, err)
	}
	return path, nil
}

// fileStem keeps letters, digits, '-', '_' and '.' of key.
func fileStem(key string) string {
	stem := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, key)
	stem = strings.Trim(stem, ".")
	if stem == "" {
		return "story"
	}
	return stem
}
