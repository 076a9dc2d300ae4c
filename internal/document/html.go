package document

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// extractHTML runs readability first to isolate the article body; pages
// without enough article structure (fragments, index pages) fall back to a
// goquery strip of the whole body. The document is parsed once and the node
// tree shared between both passes.
func extractHTML(content []byte, name string) (*Extracted, error) {
	root, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing HTML: %v", ErrExtraction, err)
	}

	// Readability resolves relative links against the page URL; local files
	// get a placeholder base.
	base, err := url.Parse(name)
	if err != nil || base.Scheme == "" {
		base = &url.URL{Scheme: "file", Path: "/" + name}
	}

	article, err := readability.FromDocument(root, base)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return &Extracted{
			Title: strings.TrimSpace(article.Title),
			Text:  article.TextContent,
		}, nil
	}

	return stripHTML(root)
}

// stripHTML extracts all visible text with goquery. Page chrome is removed
// along with non-content elements so navigation and footer boilerplate never
// reaches the chunker.
func stripHTML(root *html.Node) (*Extracted, error) {
	doc := goquery.NewDocumentFromNode(root)

	doc.Find("script, style, noscript, iframe, svg, nav, header, footer").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	var b strings.Builder
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		b.WriteString(sel.Text())
	})
	text := b.String()
	if strings.TrimSpace(text) == "" {
		// Fragment without a <body> wrapper.
		text = doc.Text()
	}

	return &Extracted{
		Title: title,
		Text:  text,
	}, nil
}
