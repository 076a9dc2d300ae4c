package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
)

// ErrFetch indicates a URL could not be downloaded.
var ErrFetch = errors.New("fetch failed")

const (
	defaultUserAgent = "corvus/1.0"
	defaultTimeout   = 30 * time.Second
	defaultMaxBody   = 4 << 20 // 4 MiB
)

// FetcherConfig controls the URL fetcher.
type FetcherConfig struct {
	UserAgent string
	Timeout   time.Duration
	MaxBody   int // bytes; larger responses are truncated by colly
}

// Fetcher downloads pages for URL ingestion.
type Fetcher struct {
	cfg FetcherConfig
}

// NewFetcher creates a Fetcher, filling unset config fields with defaults.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = defaultMaxBody
	}
	return &Fetcher{cfg: cfg}
}

// Fetch downloads url and returns the body and Content-Type header.
func (f *Fetcher) Fetch(url string) (body []byte, contentType string, err error) {
	// A fresh collector per fetch keeps visited-URL state from rejecting
	// repeat ingestions of the same page.
	c := colly.NewCollector(
		colly.UserAgent(f.cfg.UserAgent),
		colly.MaxBodySize(f.cfg.MaxBody),
	)
	c.SetRequestTimeout(f.cfg.Timeout)

	var fetchErr error
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		contentType = r.Headers.Get("Content-Type")
	})
	c.OnError(func(r *colly.Response, e error) {
		fetchErr = e
	})

	if err := c.Visit(url); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if fetchErr != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetch, fetchErr)
	}
	if len(body) == 0 {
		return nil, "", fmt.Errorf("%w: empty response from %s", ErrFetch, url)
	}
	return body, contentType, nil
}
