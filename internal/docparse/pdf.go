package docparse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var pdfMagic = []byte("%PDF-")

// Runner runs a command with stdin and returns its stdout. Failures carry
// stderr in the error text.
type Runner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, ErrPDFToolNotFound
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// extractPDF converts with "pdftotext -layout - -", pages separated by
// form feeds which become newlines.
func (x *Extractor) extractPDF(ctx context.Context, filename string, data []byte) (string, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \r\n\t"), pdfMagic) {
		return "", newParseError(filename, ErrCorrupted, "missing %PDF header")
	}

	out, err := x.runner.Run(ctx, data, "pdftotext", "-enc", "UTF-8", "-layout", "-", "-")
	if err != nil {
		switch {
		case errors.Is(err, ErrPDFToolNotFound):
			return "", newParseError(filename, ErrPDFToolNotFound, "")
		case strings.Contains(strings.ToLower(err.Error()), "password"):
			return "", newParseError(filename, ErrEncrypted, "")
		case ctx.Err() != nil:
			return "", ctx.Err()
		default:
			return "", newParseError(filename, ErrCorrupted, err.Error())
		}
	}
	return strings.ReplaceAll(decodeText(out), "\f", "\n"), nil
}
