package docparse

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every error returned by Extract wraps one of these in a
// *ParseError.
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrEncrypted           = errors.New("file is encrypted")
	ErrEmptyText           = errors.New("no extractable text")
	ErrCorrupted           = errors.New("file is corrupted")

	// ErrPDFToolNotFound means pdftotext is not installed.
	ErrPDFToolNotFound = errors.New("pdftotext not found in PATH (install poppler-utils)")
)

// ParseError reports why a file could not be turned into text. Parse
// errors are permanent; retrying the same bytes gives the same result.
type ParseError struct {
	Filename string
	Err      error
	Detail   string
}

func (e *ParseError) Error() string {
	var msg string
	switch {
	case errors.Is(e.Err, ErrUnsupportedFileType):
		msg = fmt.Sprintf("unsupported file type for %q; supported: %s", e.Filename, SupportedList())
	case errors.Is(e.Err, ErrEncrypted):
		msg = fmt.Sprintf("file %q is encrypted or password-protected; provide a decrypted copy", e.Filename)
	case errors.Is(e.Err, ErrEmptyText):
		msg = fmt.Sprintf("no extractable text found in %q; scanned PDFs need OCR first", e.Filename)
	case errors.Is(e.Err, ErrCorrupted):
		msg = fmt.Sprintf("file %q appears corrupted or unreadable", e.Filename)
	default:
		msg = fmt.Sprintf("failed to extract text from %q: %v", e.Filename, e.Err)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

func newParseError(filename string, err error, detail string) *ParseError {
	return &ParseError{Filename: filename, Err: err, Detail: detail}
}
