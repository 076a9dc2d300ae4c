// Package document converts raw file bytes into plain text ready for
// chunking.
//
// Extraction is MIME-keyed: each supported format has a dedicated extractor
// and unknown types fail with ErrUnsupportedFormat. PDF extraction shells
// out to pdftotext through the CommandRunner interface so tests can stub the
// binary.
package document

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat indicates no extractor handles the MIME type.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrExtraction indicates the content could not be parsed as the
	// declared format.
	ErrExtraction = errors.New("extraction failed")

	// ErrEmptyDocument indicates extraction produced no text.
	ErrEmptyDocument = errors.New("document contains no extractable text")
)

// MIME types accepted by Extract. Aliases map onto these canonical values.
const (
	MIMEPlainText = "text/plain"
	MIMEMarkdown  = "text/markdown"
	MIMEHTML      = "text/html"
	MIMEPDF       = "application/pdf"
	MIMEDocx      = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Extracted is the result of text extraction.
type Extracted struct {
	// Title is derived from document metadata, the first heading, or the
	// source filename, in that order.
	Title string

	// Text is the plain text content with whitespace normalized.
	Text string

	// MIMEType is the canonical MIME type that was extracted.
	MIMEType string

	// Metadata holds format-specific details such as the PDF page count or
	// the markdown heading outline. May be nil.
	Metadata map[string]any
}

// CommandRunner executes an external command and returns its stdout.
// The production implementation wraps os/exec; tests substitute a stub.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner runs commands via os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// DetectMIMEType guesses the canonical MIME type from a filename extension.
// Returns "" when the extension is unknown.
func DetectMIMEType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".text", ".log":
		return MIMEPlainText
	case ".md", ".markdown":
		return MIMEMarkdown
	case ".html", ".htm":
		return MIMEHTML
	case ".pdf":
		return MIMEPDF
	case ".docx":
		return MIMEDocx
	default:
		return ""
	}
}

// titleFromFilename derives a human-readable title from a file path.
func titleFromFilename(name string) string {
	base := filepath.Base(name)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	base = strings.ReplaceAll(base, "_", " ")
	base = strings.ReplaceAll(base, "-", " ")
	return strings.TrimSpace(base)
}

// normalizeWhitespace collapses runs of blank lines and trims each line.
func normalizeWhitespace(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	var b strings.Builder
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

// binaryAvailable reports whether an external binary is on PATH. Used by the
// CLI to give install hints before ingestion starts.
func binaryAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
