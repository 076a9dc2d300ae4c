package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// extractDocx pulls paragraph text out of the OOXML word/document.xml entry
// and the title out of docProps/core.xml.
func extractDocx(content []byte, name string) (*Extracted, error) {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a zip archive: %v", ErrExtraction, err)
	}

	text, err := docxBodyText(reader)
	if err != nil {
		return nil, err
	}

	return &Extracted{
		Title: docxTitle(reader),
		Text:  text,
	}, nil
}

// docxBody mirrors the parts of word/document.xml we care about. Word
// namespaces the elements but encoding/xml matches on local names.
type docxBody struct {
	Body struct {
		Paragraphs []struct {
			Runs []struct {
				Text []struct {
					Content string `xml:",chardata"`
				} `xml:"t"`
			} `xml:"r"`
		} `xml:"p"`
	} `xml:"body"`
}

func docxBodyText(reader *zip.Reader) (string, error) {
	raw, err := readZipEntry(reader, "word/document.xml")
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", fmt.Errorf("%w: missing word/document.xml", ErrExtraction)
	}

	var doc docxBody
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("%w: parsing document.xml: %v", ErrExtraction, err)
	}

	var b strings.Builder
	for i, para := range doc.Body.Paragraphs {
		if i > 0 {
			b.WriteByte('\n')
		}
		for _, run := range para.Runs {
			for _, t := range run.Text {
				b.WriteString(t.Content)
			}
		}
	}
	return b.String(), nil
}

// docxTitle reads the dc:title property; empty when absent or unparseable.
func docxTitle(reader *zip.Reader) string {
	raw, err := readZipEntry(reader, "docProps/core.xml")
	if err != nil || raw == nil {
		return ""
	}

	var core struct {
		Title string `xml:"title"`
	}
	if err := xml.Unmarshal(raw, &core); err != nil {
		return ""
	}
	return strings.TrimSpace(core.Title)
}

// readZipEntry returns the named entry's bytes, or nil if absent.
func readZipEntry(reader *zip.Reader, name string) ([]byte, error) {
	for _, file := range reader.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: opening %s: %v", ErrExtraction, name, err)
		}
		defer rc.Close()

		raw, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrExtraction, name, err)
		}
		return raw, nil
	}
	return nil, nil
}
