// Package embed turns text into vectors through a Genkit embedder, with
// batching, rate limiting, and a bounded cache in front of the provider.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"
)

// ErrEmbeddingService indicates the embedding provider failed or returned an
// unusable response.
var ErrEmbeddingService = errors.New("embedding service error")

const (
	// DefaultBatchSize is the number of texts sent per provider call.
	DefaultBatchSize = 100

	// DefaultTimeout bounds a single provider call.
	DefaultTimeout = 30 * time.Second

	// defaultRequestsPerSecond limits calls to the provider.
	defaultRequestsPerSecond = 10
)

// Config holds embedding client settings.
type Config struct {
	// BatchSize is the number of texts per provider call. Default 100.
	BatchSize int

	// Dimension is the expected vector dimension. Every returned vector is
	// checked against it. Required.
	Dimension int

	// Timeout bounds each provider call. Default 30s.
	Timeout time.Duration

	// RequestsPerSecond throttles provider calls. Default 10.
	RequestsPerSecond float64

	// ProviderOptions is passed through on every EmbedRequest. The Gemini
	// path uses it to request truncated output dimensionality.
	ProviderOptions any
}

func (c *Config) validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", c.Dimension)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = defaultRequestsPerSecond
	}
	return nil
}

// Client embeds text through an ai.Embedder.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	embedder ai.Embedder
	cache    *Cache
	limiter  *rate.Limiter
	cfg      Config
	logger   *slog.Logger
}

// NewClient creates an embedding client. The cache may be nil to disable
// caching.
func NewClient(embedder ai.Embedder, cache *Cache, cfg Config, logger *slog.Logger) (*Client, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Client{
		embedder: embedder,
		cache:    cache,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Dimension returns the configured vector dimension.
func (c *Client) Dimension() int {
	return c.cfg.Dimension
}

// Embed returns one vector per input text, in input order. Cached texts are
// served without a provider call; the rest go out in batches.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))

	// Resolve cache hits first so only misses hit the provider.
	var missIdx []int
	for i, text := range texts {
		if c.cache != nil {
			if vec, ok := c.cache.Get(text); ok {
				vectors[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
	}

	for start := 0; start < len(missIdx); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(missIdx))
		batch := missIdx[start:end]

		batchTexts := make([]string, len(batch))
		for j, idx := range batch {
			batchTexts[j] = texts[idx]
		}

		embedded, err := c.embedBatch(ctx, batchTexts)
		if err != nil {
			return nil, err
		}

		for j, idx := range batch {
			vectors[idx] = embedded[j]
			if c.cache != nil {
				c.cache.Put(texts[idx], embedded[j])
			}
		}
	}

	c.logger.Debug("embedded texts",
		"total", len(texts),
		"cache_hits", len(texts)-len(missIdx))

	return vectors, nil
}

// EmbedQuery embeds a single text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embedBatch performs one rate-limited, timeout-bounded provider call.
func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrEmbeddingService, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	docs := make([]*ai.Document, len(texts))
	for i, text := range texts {
		docs[i] = ai.DocumentFromText(text, nil)
	}

	resp, err := c.embedder.Embed(callCtx, &ai.EmbedRequest{
		Input:   docs,
		Options: c.cfg.ProviderOptions,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingService, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
			ErrEmbeddingService, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) != c.cfg.Dimension {
			return nil, fmt.Errorf("%w: expected dimension %d, got %d",
				ErrEmbeddingService, c.cfg.Dimension, len(emb.Embedding))
		}
		vectors[i] = emb.Embedding
	}
	return vectors, nil
}
