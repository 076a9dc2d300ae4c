package document

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const pdftotextBinary = "pdftotext"

// PDFToolAvailable reports whether pdftotext is installed. Callers can check
// before attempting PDF ingestion to produce a friendlier error.
func PDFToolAvailable() bool {
	return binaryAvailable(pdftotextBinary)
}

// PDFInstallInstructions returns platform hints for installing pdftotext.
func PDFInstallInstructions() string {
	return `PDF extraction requires pdftotext (part of poppler):
  macOS:  brew install poppler
  Debian: apt install poppler-utils
  Fedora: dnf install poppler-utils`
}

// extractPDF shells out to pdftotext. The content is written to a temp file
// because pdftotext does not read PDFs from stdin reliably across versions.
func (e *Extractor) extractPDF(ctx context.Context, content []byte, name string) (*Extracted, error) {
	if len(content) < 5 || string(content[:5]) != "%PDF-" {
		return nil, fmt.Errorf("%w: missing PDF header", ErrExtraction)
	}

	tmp, err := os.CreateTemp("", "corvus-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("%w: creating temp file: %v", ErrExtraction, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("%w: writing temp file: %v", ErrExtraction, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("%w: closing temp file: %v", ErrExtraction, err)
	}

	// "-" sends the text to stdout; -layout keeps reading order sane for
	// multi-column documents.
	out, err := e.runner.Run(ctx, pdftotextBinary, "-layout", tmpPath, "-")
	if err != nil {
		return nil, fmt.Errorf("%w: pdftotext: %v", ErrExtraction, err)
	}

	text := string(out)
	return &Extracted{
		Title: pdfTitle(text, name),
		Text:  text,
		// pdftotext separates pages with form feeds.
		Metadata: map[string]any{"pages": strings.Count(text, "\f") + 1},
	}, nil
}

// pdfTitle uses the first short non-empty line as the title, falling back to
// the filename. Lines over 200 chars are body text, not titles.
func pdfTitle(text, name string) string {
	for line := range strings.SplitSeq(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || len(line) > 200 {
			continue
		}
		return line
	}
	return titleFromFilename(name)
}
