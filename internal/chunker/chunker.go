// Package chunker splits extracted text into bounded pieces for embedding.
//
// Splitting is recursive: paragraph breaks first, then line breaks, then
// sentence boundaries, and finally fixed rune windows for text with no
// structure at all. Boundaries are preferred over exact sizes so chunks stay
// semantically coherent.
package chunker

import (
	"regexp"
	"strings"
)

const (
	// DefaultMaxSize is the maximum chunk length in runes.
	DefaultMaxSize = 1000

	// DefaultOverlap is the number of runes adjacent chunks share.
	DefaultOverlap = 200
)

// sentencePattern matches one sentence including its terminator.
var sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]`)

// Chunker splits text into chunks of bounded rune length.
type Chunker struct {
	maxSize int
	overlap int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMaxSize sets the maximum chunk length in runes. Non-positive values
// keep the default.
func WithMaxSize(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithOverlap sets the overlap between adjacent chunks in runes. Negative
// values keep the default.
func WithOverlap(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

// New creates a Chunker. An overlap that is not smaller than the chunk size
// is clamped to a quarter of it.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		maxSize: DefaultMaxSize,
		overlap: DefaultOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.maxSize {
		c.overlap = c.maxSize / 4
	}
	return c
}

// Split divides text into chunks of at most the configured size. Adjacent
// chunks share up to the configured overlap where room allows; the overlap
// never pushes a chunk past the size limit. Empty or whitespace-only input
// returns nil. Output is deterministic for a given input.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	segments := c.split(text, 0)
	out := make([]string, len(segments))
	for i, seg := range segments {
		out[i] = seg.text
		// Window segments already carry their overlap from the window step.
		if i == 0 || c.overlap == 0 || seg.windowed {
			continue
		}
		// Prepend the previous chunk's tail, capped so the result still
		// fits.
		room := c.maxSize - len([]rune(seg.text))
		n := min(c.overlap, room)
		out[i] = tailRunes(segments[i-1].text, n) + seg.text
	}
	return out
}

// segment is one split piece. windowed marks pieces cut by the rune window
// fallback, whose overlap is baked in during windowing.
type segment struct {
	text     string
	windowed bool
}

// Split levels, coarsest first. The rune window level is the terminal
// fallback and always succeeds.
const (
	levelParagraph = iota
	levelLine
	levelSentence
	levelRunes
)

func (c *Chunker) split(text string, level int) []segment {
	if len([]rune(text)) <= c.maxSize {
		return []segment{{text: text}}
	}

	var parts []string
	switch level {
	case levelParagraph:
		parts = strings.Split(text, "\n\n")
	case levelLine:
		parts = strings.Split(text, "\n")
	case levelSentence:
		parts = splitSentences(text)
	default:
		return c.windowSplit(text)
	}

	var out []segment
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, c.split(part, level+1)...)
	}
	return out
}

// splitSentences cuts on terminal punctuation, keeping the terminator with
// its sentence. A trailing fragment without punctuation becomes its own
// piece.
func splitSentences(text string) []string {
	spans := sentencePattern.FindAllStringIndex(text, -1)
	if len(spans) == 0 {
		return []string{text}
	}

	var parts []string
	end := 0
	for _, span := range spans {
		parts = append(parts, text[span[0]:span[1]])
		end = span[1]
	}
	if end < len(text) {
		parts = append(parts, text[end:])
	}
	return parts
}

// windowSplit cuts unstructured text into fixed windows. The step bakes the
// overlap in directly, so every window is a contiguous span of the input.
func (c *Chunker) windowSplit(text string) []segment {
	runes := []rune(text)
	step := c.maxSize - c.overlap
	if step <= 0 {
		step = c.maxSize
	}

	var out []segment
	for start := 0; start < len(runes); start += step {
		end := min(start+c.maxSize, len(runes))
		out = append(out, segment{text: string(runes[start:end]), windowed: true})
		if end == len(runes) {
			break
		}
	}
	return out
}

// tailRunes returns the last n runes of s.
func tailRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}
	return string(runes[len(runes)-n:])
}
