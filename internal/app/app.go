// Package app assembles the pipeline from configuration.
//
// Setup wires Genkit, the database pool, and every service in dependency
// order and hands back an App container. Call Close() to release resources;
// it is safe after a partial Setup failure.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corvid-labs/corvus/internal/answer"
	"github.com/corvid-labs/corvus/internal/config"
	"github.com/corvid-labs/corvus/internal/conversation"
	"github.com/corvid-labs/corvus/internal/embed"
	"github.com/corvid-labs/corvus/internal/ingest"
	"github.com/corvid-labs/corvus/internal/llm"
	"github.com/corvid-labs/corvus/internal/retriever"
	"github.com/corvid-labs/corvus/internal/vecstore"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	// Core services
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Pool     *pgxpool.Pool

	// Pipeline services
	Store         vecstore.Store
	Embed         *embed.Client
	LLM           *llm.Client
	Retriever     *retriever.Retriever
	Ingest        *ingest.Service
	Answer        *answer.Service
	Conversations *conversation.Store

	// Lifecycle management
	otelCleanup func(context.Context) error
	dbCleanup   func()
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.otelCleanup != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelCleanup(ctx); err != nil {
			a.Logger.Warn("shutting down tracer provider", "error", err)
		}
	}

	if a.dbCleanup != nil {
		a.dbCleanup()
		a.Logger.Info("database pool closed")
	}

	return nil
}

// RetrievalOptions translates the configured retrieval settings into
// per-call options. Callers append request-specific overrides after these.
func (a *App) RetrievalOptions() []retriever.Option {
	r := a.Config.Retrieval
	opts := []retriever.Option{
		retriever.WithTopK(r.TopK),
		retriever.WithThreshold(r.Threshold),
	}
	if r.Expansion > 0 {
		opts = append(opts, retriever.WithExpansion(r.Expansion))
	}
	if r.Hybrid {
		opts = append(opts, retriever.WithHybrid(r.VectorWeight, r.KeywordWeight))
	}
	if r.Rerank {
		opts = append(opts, retriever.WithRerank())
	}
	return opts
}
