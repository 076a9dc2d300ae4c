package config

import (
	"fmt"
	"os"
)

// Validate performs fail-fast validation of the loaded configuration.
// All range checks live here so a bad value surfaces at startup, not at the
// first query.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini, ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("GOOGLE_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY or GOOGLE_API_KEY required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host must not be empty", ErrInvalidProvider)
		}
	default:
		return fmt.Errorf("%w: %q (supported: gemini, ollama, openai)", ErrInvalidProvider, c.Provider)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name must not be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model must not be empty", ErrInvalidEmbedderModel)
	}
	if c.Dimension <= 0 || c.Dimension > 4096 {
		return fmt.Errorf("%w: %d (want 1..4096)", ErrInvalidDimension, c.Dimension)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: postgres_host must not be empty", ErrInvalidPostgres)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidPostgres, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: postgres_db_name must not be empty", ErrInvalidPostgres)
	}

	if c.Chunking.MaxSize <= 0 {
		return fmt.Errorf("%w: max_size %d must be positive", ErrInvalidChunking, c.Chunking.MaxSize)
	}
	if c.Chunking.Overlap < 0 {
		return fmt.Errorf("%w: overlap %d must not be negative", ErrInvalidChunking, c.Chunking.Overlap)
	}
	if c.Chunking.Overlap >= c.Chunking.MaxSize {
		return fmt.Errorf("%w: overlap %d must be smaller than max_size %d", ErrInvalidChunking, c.Chunking.Overlap, c.Chunking.MaxSize)
	}

	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size %d must be positive", ErrInvalidRetrieval, c.Embedding.BatchSize)
	}

	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("%w: top_k %d must be positive", ErrInvalidRetrieval, c.Retrieval.TopK)
	}
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		return fmt.Errorf("%w: threshold %g out of [0,1]", ErrInvalidRetrieval, c.Retrieval.Threshold)
	}
	if c.Retrieval.Expansion < 0 {
		return fmt.Errorf("%w: expansion %d must not be negative", ErrInvalidRetrieval, c.Retrieval.Expansion)
	}
	if c.Retrieval.VectorWeight < 0 || c.Retrieval.KeywordWeight < 0 {
		return fmt.Errorf("%w: hybrid weights must not be negative", ErrInvalidRetrieval)
	}

	return nil
}
