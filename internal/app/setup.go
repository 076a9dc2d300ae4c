package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/genai"

	"github.com/corvid-labs/corvus/db"
	"github.com/corvid-labs/corvus/internal/answer"
	"github.com/corvid-labs/corvus/internal/chunker"
	"github.com/corvid-labs/corvus/internal/config"
	"github.com/corvid-labs/corvus/internal/conversation"
	"github.com/corvid-labs/corvus/internal/document"
	"github.com/corvid-labs/corvus/internal/embed"
	"github.com/corvid-labs/corvus/internal/ingest"
	"github.com/corvid-labs/corvus/internal/llm"
	"github.com/corvid-labs/corvus/internal/observability"
	"github.com/corvid-labs/corvus/internal/retriever"
	"github.com/corvid-labs/corvus/internal/vecstore"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing registers with Genkit's TracerProvider, so it runs first.
	otelCleanup, err := observability.Setup(ctx, cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.otelCleanup = otelCleanup

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	pool, dbCleanup, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.Pool = pool

	store, err := vecstore.NewPostgres(pool, cfg.Dimension, logger)
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}
	a.Store = store

	embedClient, err := provideEmbedClient(embedder, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Embed = embedClient

	llmClient, err := llm.New(g, cfg.FullModelName(), logger)
	if err != nil {
		return nil, fmt.Errorf("creating llm client: %w", err)
	}
	a.LLM = llmClient

	ret, err := retriever.New(embedClient, store, llmClient, logger)
	if err != nil {
		return nil, fmt.Errorf("creating retriever: %w", err)
	}
	a.Retriever = ret

	ingestSvc, err := ingest.NewService(ingest.Config{
		Extractor: document.NewExtractor(logger),
		Splitter: chunker.New(
			chunker.WithMaxSize(cfg.Chunking.MaxSize),
			chunker.WithOverlap(cfg.Chunking.Overlap),
		),
		Embedder: embedClient,
		Store:    store,
		Fetcher: ingest.NewFetcher(ingest.FetcherConfig{
			UserAgent: cfg.Fetcher.UserAgent,
			Timeout:   time.Duration(cfg.Fetcher.TimeoutMS) * time.Millisecond,
			MaxBody:   cfg.Fetcher.MaxBodyKiB << 10,
		}),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating ingest service: %w", err)
	}
	a.Ingest = ingestSvc

	convStore, err := conversation.NewStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating conversation store: %w", err)
	}
	a.Conversations = convStore

	answerSvc, err := answer.NewService(ret, llmClient, convStore, logger)
	if err != nil {
		return nil, fmt.Errorf("creating answer service: %w", err)
	}
	a.Answer = answerSvc

	return a, nil
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default), ollama, and openai providers.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderGemini
	}

	var g *genkit.Genkit

	switch provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery)
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized Genkit with openai provider", "model", cfg.ModelName)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the AI provider plugin.
// Each provider registers embedders differently:
//   - gemini: GoogleAIEmbedder(g, modelName)
//   - ollama: registered in provideGenkit, keyed by server address
//   - openai: auto-registered in Init(), looked up by model name
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default: // gemini
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideEmbedClient builds the caching embedding client around the provider
// embedder. Gemini models emit 3072 dimensions natively and truncate via
// OutputDimensionality (Matryoshka Representation Learning).
func provideEmbedClient(embedder ai.Embedder, cfg *config.Config, logger *slog.Logger) (*embed.Client, error) {
	var providerOpts any
	if cfg.Provider == "" || cfg.Provider == config.ProviderGemini {
		dim := int32(cfg.Dimension)
		providerOpts = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}

	cache := embed.NewCache(cfg.Embedding.CacheCapacity, time.Duration(cfg.Embedding.CacheTTLSec)*time.Second)

	client, err := embed.NewClient(embedder, cache, embed.Config{
		BatchSize:       cfg.Embedding.BatchSize,
		Dimension:       cfg.Dimension,
		Timeout:         time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
		ProviderOptions: providerOpts,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating embed client: %w", err)
	}
	return client, nil
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
func provideDBPool(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}
