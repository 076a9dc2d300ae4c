package document

import (
	"regexp"
	"strings"
)

var (
	mdCodeBlock  = regexp.MustCompile("(?s)```[^`]*```")
	mdInlineCode = regexp.MustCompile("`[^`]+`")
	mdImage      = regexp.MustCompile(`!\[[^\]]*\]\([^)]+\)`)
	mdLink       = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	mdHeading    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdEmphasis   = regexp.MustCompile(`(\*\*|__|\*|_)([^*_]+)(\*\*|__|\*|_)`)
	mdListMarker = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
)

// extractMarkdown strips formatting syntax while keeping heading and list
// text inline, so chunk boundaries follow the prose.
func extractMarkdown(content []byte, name string) (*Extracted, error) {
	raw := string(content)
	out := &Extracted{
		Title: markdownTitle(raw, name),
		Text:  stripMarkdown(raw),
	}
	if headings := markdownHeadings(raw); len(headings) > 0 {
		out.Metadata = map[string]any{"headings": headings}
	}
	return out, nil
}

// markdownHeadings collects the heading lines in document order, syntax
// stripped.
func markdownHeadings(content string) []string {
	var headings []string
	for line := range strings.SplitSeq(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#") {
			continue
		}
		text := strings.TrimSpace(strings.TrimLeft(line, "#"))
		if text != "" {
			headings = append(headings, text)
		}
	}
	return headings
}

// markdownTitle returns the first H1 heading, or "" for filename fallback.
func markdownTitle(content, _ string) string {
	for line := range strings.SplitSeq(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "#"))
		}
	}
	return ""
}

func stripMarkdown(content string) string {
	content = mdCodeBlock.ReplaceAllString(content, "")
	content = mdInlineCode.ReplaceAllString(content, "")
	content = mdImage.ReplaceAllString(content, "")
	content = mdLink.ReplaceAllString(content, "$1")
	content = mdHeading.ReplaceAllString(content, "")
	content = mdEmphasis.ReplaceAllString(content, "$2")
	content = mdListMarker.ReplaceAllString(content, "")
	return content
}
