package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corvid-labs/corvus/internal/answer"
	"github.com/corvid-labs/corvus/internal/conversation"
	"github.com/corvid-labs/corvus/internal/ingest"
	"github.com/corvid-labs/corvus/internal/retriever"
	"github.com/corvid-labs/corvus/internal/vecstore"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger        *slog.Logger
	Ingest        *ingest.Service     // Required
	Answer        *answer.Service     // Required
	Store         vecstore.Store      // Required
	Conversations *conversation.Store // Optional: nil disables conversation endpoints
	Pool          *pgxpool.Pool       // Optional: nil disables pool stats in /ready
	Retrieval     []retriever.Option  // Base retrieval settings; requests append overrides
	CORSOrigins   []string            // Allowed origins for CORS
	TrustProxy    bool                // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst     int                 // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Ingest == nil {
		return nil, errors.New("ingest service is required")
	}
	if cfg.Answer == nil {
		return nil, errors.New("answer service is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("vector store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dh := &documentsHandler{ingest: cfg.Ingest, store: cfg.Store, logger: logger}
	qh := &queryHandler{answer: cfg.Answer, retrieval: cfg.Retrieval, logger: logger}

	mux := http.NewServeMux()

	// Document ingestion and management
	mux.HandleFunc("POST /api/v1/documents", dh.upload)
	mux.HandleFunc("POST /api/v1/documents/url", dh.uploadURL)
	mux.HandleFunc("GET /api/v1/documents", dh.list)
	mux.HandleFunc("GET /api/v1/documents/{id}", dh.get)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", dh.remove)

	// Question answering
	mux.HandleFunc("POST /api/v1/query", qh.ask)
	mux.HandleFunc("POST /api/v1/query/stream", qh.stream)

	// Conversation history (only registered when a store is wired)
	if cfg.Conversations != nil {
		ch := &conversationsHandler{store: cfg.Conversations, logger: logger}
		mux.HandleFunc("GET /api/v1/conversations", ch.list)
		mux.HandleFunc("GET /api/v1/conversations/{id}", ch.get)
		mux.HandleFunc("GET /api/v1/conversations/{id}/messages", ch.messages)
		mux.HandleFunc("DELETE /api/v1/conversations/{id}", ch.remove)
	}

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		handler.ServeHTTP(w, r)
	})

	// A top-level mux keeps health probes outside the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
