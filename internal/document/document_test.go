package document

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/corvid-labs/corvus/internal/log"
)

// stubRunner stands in for pdftotext.
type stubRunner struct {
	output    []byte
	err       error
	callCount int
	lastName  string
	lastArgs  []string
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	s.callCount++
	s.lastName = name
	s.lastArgs = args
	return s.output, s.err
}

func newTestExtractor(t *testing.T, opts ...Option) *Extractor {
	t.Helper()
	return NewExtractor(log.NewNop(), opts...)
}

func TestExtractPlainText(t *testing.T) {
	e := newTestExtractor(t)

	got, err := e.Extract(context.Background(), []byte("hello world\r\n\r\n\r\nsecond paragraph"), "text/plain", "notes.txt")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Text != "hello world\n\nsecond paragraph" {
		t.Errorf("text = %q", got.Text)
	}
	if got.Title != "notes" {
		t.Errorf("title = %q, want filename fallback", got.Title)
	}
	if got.MIMEType != MIMEPlainText {
		t.Errorf("mime = %q", got.MIMEType)
	}
}

func TestExtractPlainTextInvalidUTF8(t *testing.T) {
	e := newTestExtractor(t)

	got, err := e.Extract(context.Background(), []byte("ok\xff\xfebytes"), "text/plain", "raw.log")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !utf8.ValidString(got.Text) {
		t.Errorf("text still contains invalid UTF-8: %q", got.Text)
	}
	if !strings.Contains(got.Text, "ok") || !strings.Contains(got.Text, "bytes") {
		t.Errorf("valid bytes lost: %q", got.Text)
	}
}

func TestExtractUnsupportedFormat(t *testing.T) {
	e := newTestExtractor(t)

	_, err := e.Extract(context.Background(), []byte("x"), "image/png", "photo.png")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestExtractEmptyDocument(t *testing.T) {
	e := newTestExtractor(t)

	_, err := e.Extract(context.Background(), []byte("   \n\t\n"), "text/plain", "blank.txt")
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("err = %v, want ErrEmptyDocument", err)
	}
}

func TestExtractMarkdown(t *testing.T) {
	src := "# Getting Started\n\nInstall with `go install`.\n\nSee [the docs](https://example.com) for **more**.\n\n```go\nfmt.Println(\"skipped\")\n```\n"
	e := newTestExtractor(t)

	got, err := e.Extract(context.Background(), []byte(src), "text/markdown", "README.md")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Title != "Getting Started" {
		t.Errorf("title = %q", got.Title)
	}
	if strings.Contains(got.Text, "```") || strings.Contains(got.Text, "fmt.Println") {
		t.Errorf("code block survived: %q", got.Text)
	}
	if strings.Contains(got.Text, "https://example.com") {
		t.Errorf("link URL survived: %q", got.Text)
	}
	if !strings.Contains(got.Text, "the docs") {
		t.Errorf("link text lost: %q", got.Text)
	}
	if !strings.Contains(got.Text, "more") || strings.Contains(got.Text, "**") {
		t.Errorf("emphasis handling wrong: %q", got.Text)
	}
	headings, ok := got.Metadata["headings"].([]string)
	if !ok || len(headings) != 1 || headings[0] != "Getting Started" {
		t.Errorf("headings metadata = %v", got.Metadata["headings"])
	}
}

func TestExtractHTML(t *testing.T) {
	src := `<html><head><title>Release Notes</title><style>body{color:red}</style></head>
<body><h1>Release Notes</h1><p>Version 2 adds streaming.</p><script>alert(1)</script></body></html>`
	e := newTestExtractor(t)

	got, err := e.Extract(context.Background(), []byte(src), "text/html; charset=utf-8", "notes.html")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(got.Text, "Version 2 adds streaming.") {
		t.Errorf("body text missing: %q", got.Text)
	}
	if strings.Contains(got.Text, "alert(1)") || strings.Contains(got.Text, "color:red") {
		t.Errorf("script/style text leaked: %q", got.Text)
	}
	if got.MIMEType != MIMEHTML {
		t.Errorf("mime = %q", got.MIMEType)
	}
}

func TestStripHTMLRemovesPageChrome(t *testing.T) {
	src := `<div><nav>Home About Contact</nav><header>Site Banner</header>` +
		`<p>Short note body.</p><footer>Copyright Notice</footer></div>`
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}

	got, err := stripHTML(root)
	if err != nil {
		t.Fatalf("stripHTML: %v", err)
	}
	if !strings.Contains(got.Text, "Short note body.") {
		t.Errorf("body text missing: %q", got.Text)
	}
	for _, chrome := range []string{"Home About Contact", "Site Banner", "Copyright Notice"} {
		if strings.Contains(got.Text, chrome) {
			t.Errorf("boilerplate %q survived: %q", chrome, got.Text)
		}
	}
}

func TestExtractPDF(t *testing.T) {
	runner := &stubRunner{output: []byte("Quarterly Report\n\nRevenue grew 12%.")}
	e := newTestExtractor(t, WithCommandRunner(runner))

	got, err := e.Extract(context.Background(), []byte("%PDF-1.7 fake"), "application/pdf", "q3.pdf")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if runner.callCount != 1 {
		t.Fatalf("runner called %d times", runner.callCount)
	}
	if runner.lastName != "pdftotext" {
		t.Errorf("ran %q", runner.lastName)
	}
	if got.Title != "Quarterly Report" {
		t.Errorf("title = %q", got.Title)
	}
	if !strings.Contains(got.Text, "Revenue grew 12%.") {
		t.Errorf("text = %q", got.Text)
	}
	if pages := got.Metadata["pages"]; pages != 1 {
		t.Errorf("pages = %v, want 1", pages)
	}
}

func TestExtractPDFPageCount(t *testing.T) {
	runner := &stubRunner{output: []byte("page one\fpage two\fpage three")}
	e := newTestExtractor(t, WithCommandRunner(runner))

	got, err := e.Extract(context.Background(), []byte("%PDF-1.7 fake"), "application/pdf", "multi.pdf")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if pages := got.Metadata["pages"]; pages != 3 {
		t.Errorf("pages = %v, want 3", pages)
	}
}

func TestExtractPDFBadHeader(t *testing.T) {
	runner := &stubRunner{}
	e := newTestExtractor(t, WithCommandRunner(runner))

	_, err := e.Extract(context.Background(), []byte("not a pdf"), "application/pdf", "x.pdf")
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("err = %v, want ErrExtraction", err)
	}
	if runner.callCount != 0 {
		t.Errorf("runner should not run on bad header")
	}
}

func TestExtractPDFCommandFailure(t *testing.T) {
	runner := &stubRunner{err: errors.New("exec: pdftotext: not found")}
	e := newTestExtractor(t, WithCommandRunner(runner))

	_, err := e.Extract(context.Background(), []byte("%PDF-1.4"), "application/pdf", "x.pdf")
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("err = %v, want ErrExtraction", err)
	}
}

func buildDocx(t *testing.T, documentXML, coreXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	entry, err := w.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := entry.Write([]byte(documentXML)); err != nil {
		t.Fatal(err)
	}

	if coreXML != "" {
		entry, err = w.Create("docProps/core.xml")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := entry.Write([]byte(coreXML)); err != nil {
			t.Fatal(err)
		}
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractDocx(t *testing.T) {
	docXML := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
  </w:body>
</w:document>`
	coreXML := `<?xml version="1.0"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties"
  xmlns:dc="http://purl.org/dc/elements/1.1/">
  <dc:title>Design Doc</dc:title>
</cp:coreProperties>`

	e := newTestExtractor(t)
	got, err := e.Extract(context.Background(), buildDocx(t, docXML, coreXML), MIMEDocx, "design.docx")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Title != "Design Doc" {
		t.Errorf("title = %q", got.Title)
	}
	want := "First paragraph.\nSecond paragraph."
	if got.Text != want {
		t.Errorf("text = %q, want %q", got.Text, want)
	}
}

func TestExtractDocxNotAZip(t *testing.T) {
	e := newTestExtractor(t)
	_, err := e.Extract(context.Background(), []byte("plain bytes"), MIMEDocx, "broken.docx")
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("err = %v, want ErrExtraction", err)
	}
}

func TestCanonicalMIME(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"text/html; charset=utf-8", MIMEHTML},
		{"application/xhtml+xml", MIMEHTML},
		{"text/x-markdown", MIMEMarkdown},
		{"TEXT/PLAIN", MIMEPlainText},
		{"application/pdf", MIMEPDF},
	}
	for _, tt := range tests {
		if got := canonicalMIME(tt.in); got != tt.want {
			t.Errorf("canonicalMIME(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name, want string
	}{
		{"report.pdf", MIMEPDF},
		{"README.md", MIMEMarkdown},
		{"index.HTML", MIMEHTML},
		{"notes.txt", MIMEPlainText},
		{"report.docx", MIMEDocx},
		{"binary.exe", ""},
	}
	for _, tt := range tests {
		if got := DetectMIMEType(tt.name); got != tt.want {
			t.Errorf("DetectMIMEType(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestSupported(t *testing.T) {
	e := newTestExtractor(t)
	if !e.Supported("text/markdown") {
		t.Error("markdown should be supported")
	}
	if e.Supported("video/mp4") {
		t.Error("mp4 should not be supported")
	}
}

func TestTitleFromFilename(t *testing.T) {
	if got := titleFromFilename("/data/annual_report-2025.pdf"); got != "annual report 2025" {
		t.Errorf("got %q", got)
	}
}
