// Package docparse extracts plain text from uploaded files.
//
// Supported formats are plain text, Markdown, DOCX and PDF. PDF text comes
// from the pdftotext tool (poppler-utils), run as a subprocess.
package docparse

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"
)

var supportedExtensions = []string{".txt", ".md", ".markdown", ".docx", ".pdf"}

// Supported reports whether filename has an extension Extract handles.
func Supported(filename string) bool {
	return slices.Contains(supportedExtensions, strings.ToLower(filepath.Ext(filename)))
}

// SupportedList returns the supported extensions for messages.
func SupportedList() string {
	return strings.Join(supportedExtensions, ", ")
}

// Extractor turns file bytes into text.
type Extractor struct {
	runner Runner
}

// New returns an Extractor that runs pdftotext from PATH.
func New() *Extractor {
	return &Extractor{runner: execRunner{}}
}

// NewWithRunner returns an Extractor that runs PDF conversion through r.
func NewWithRunner(r Runner) *Extractor {
	return &Extractor{runner: r}
}

// Extract returns the text of data, dispatching on filename's extension.
// The result is trimmed and never empty; failures are *ParseError.
func (x *Extractor) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		text = decodeText(data)
	case ".md", ".markdown":
		text = extractMarkdown(decodeText(data))
	case ".docx":
		text, err = extractDOCX(filename, data)
	case ".pdf":
		text, err = x.extractPDF(ctx, filename, data)
	default:
		return "", newParseError(filename, ErrUnsupportedFileType, "")
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", newParseError(filename, ErrEmptyText, "")
	}
	return text, nil
}

// decodeText reads data as UTF-8, dropping invalid bytes.
func decodeText(data []byte) string {
	s := string(data)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.TrimPrefix(s, "\uFEFF")
}
