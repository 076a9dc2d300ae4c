package document

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Extractor converts raw document bytes into plain text by MIME type.
type Extractor struct {
	runner CommandRunner
	logger *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithCommandRunner replaces the external command runner. Tests use this to
// stub pdftotext.
func WithCommandRunner(r CommandRunner) Option {
	return func(e *Extractor) { e.runner = r }
}

// NewExtractor creates an Extractor. The logger must not be nil.
func NewExtractor(logger *slog.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		runner: execRunner{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract converts content into plain text according to mimeType. The name
// parameter is the source filename or URL, used only for title fallback.
//
// Returns ErrUnsupportedFormat for unknown MIME types, ErrExtraction when
// the bytes do not parse as the declared format, and ErrEmptyDocument when
// extraction yields no text.
func (e *Extractor) Extract(ctx context.Context, content []byte, mimeType, name string) (*Extracted, error) {
	canonical := canonicalMIME(mimeType)

	var (
		result *Extracted
		err    error
	)
	switch canonical {
	case MIMEPlainText:
		result, err = extractPlainText(content, name)
	case MIMEMarkdown:
		result, err = extractMarkdown(content, name)
	case MIMEHTML:
		result, err = extractHTML(content, name)
	case MIMEPDF:
		result, err = e.extractPDF(ctx, content, name)
	case MIMEDocx:
		result, err = extractDocx(content, name)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}
	if err != nil {
		return nil, err
	}

	result.Text = normalizeWhitespace(result.Text)
	if result.Text == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, name)
	}
	result.MIMEType = canonical
	if result.Title == "" {
		result.Title = titleFromFilename(name)
	}

	e.logger.Debug("extracted document",
		"mime_type", canonical,
		"name", name,
		"chars", len(result.Text))

	return result, nil
}

// Supported reports whether Extract handles the given MIME type.
func (e *Extractor) Supported(mimeType string) bool {
	switch canonicalMIME(mimeType) {
	case MIMEPlainText, MIMEMarkdown, MIMEHTML, MIMEPDF, MIMEDocx:
		return true
	}
	return false
}

// canonicalMIME strips parameters ("text/html; charset=utf-8") and maps
// aliases onto the canonical constants.
func canonicalMIME(mimeType string) string {
	base := strings.TrimSpace(mimeType)
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	base = strings.ToLower(base)

	switch base {
	case "text/x-markdown":
		return MIMEMarkdown
	case "application/xhtml+xml":
		return MIMEHTML
	case "text/x-log", "application/text":
		return MIMEPlainText
	}
	return base
}

// extractPlainText passes the bytes through, replacing invalid UTF-8
// sequences so downstream chunking always sees valid text.
func extractPlainText(content []byte, _ string) (*Extracted, error) {
	return &Extracted{Text: strings.ToValidUTF8(string(content), "�")}, nil
}
