// Package ingest runs the document pipeline: extract, chunk, embed, store.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/corvid-labs/corvus/internal/chunker"
	"github.com/corvid-labs/corvus/internal/document"
	"github.com/corvid-labs/corvus/internal/vecstore"
)

// defaultBatchWorkers bounds concurrent documents in IngestBatch.
const defaultBatchWorkers = 4

// Embedder is the slice of the embedding client ingestion needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Request describes one document to ingest.
type Request struct {
	Data     []byte
	MIMEType string // empty: detected from Filename
	Owner    string
	Filename string
	Source   string // original path or URL, defaults to Filename
	Metadata map[string]any
}

// Receipt reports a completed ingestion.
type Receipt struct {
	DocumentID uuid.UUID
	Title      string
	ChunkCount int
}

// BatchResult is the outcome for one document of a batch.
type BatchResult struct {
	Index   int // position in the request slice
	Receipt *Receipt
	Err     error
}

// Service ingests documents.
//
// Service is safe for concurrent use by multiple goroutines.
type Service struct {
	extractor *document.Extractor
	splitter  *chunker.Chunker
	embedder  Embedder
	store     vecstore.Store
	fetcher   *Fetcher
	workers   int
	logger    *slog.Logger
}

// Config holds the ingestion service dependencies.
type Config struct {
	Extractor *document.Extractor
	Splitter  *chunker.Chunker
	Embedder  Embedder
	Store     vecstore.Store
	Fetcher   *Fetcher // nil disables IngestURL
	Workers   int      // batch concurrency, default 4
}

// NewService creates an ingestion Service.
func NewService(cfg Config, logger *slog.Logger) (*Service, error) {
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if cfg.Splitter == nil {
		return nil, fmt.Errorf("splitter is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultBatchWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		extractor: cfg.Extractor,
		splitter:  cfg.Splitter,
		embedder:  cfg.Embedder,
		store:     cfg.Store,
		fetcher:   cfg.Fetcher,
		workers:   cfg.Workers,
		logger:    logger,
	}, nil
}

// Ingest runs the full pipeline for one document and registers it.
func (s *Service) Ingest(ctx context.Context, req Request) (*Receipt, error) {
	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = document.DetectMIMEType(req.Filename)
	}

	extracted, err := s.extractor.Extract(ctx, req.Data, mimeType, req.Filename)
	if err != nil {
		return nil, err
	}

	chunks := s.splitter.Split(extracted.Text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", document.ErrEmptyDocument, req.Filename)
	}

	vectors, err := s.embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, err
	}

	source := req.Source
	if source == "" {
		source = req.Filename
	}
	doc := &vecstore.Document{
		ID:       uuid.New(),
		Owner:    req.Owner,
		Name:     req.Filename,
		Source:   source,
		MIMEType: extracted.MIMEType,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	records := make([]vecstore.Record, len(chunks))
	for i, chunk := range chunks {
		metadata := map[string]any{
			"filename":    req.Filename,
			"title":       extracted.Title,
			"chunk_index": i,
			"chunk_total": len(chunks),
		}
		for k, v := range extracted.Metadata {
			metadata[k] = v
		}
		// Caller metadata wins over extractor metadata.
		for k, v := range req.Metadata {
			metadata[k] = v
		}
		records[i] = vecstore.Record{
			ID:         uuid.New(),
			DocumentID: doc.ID,
			Owner:      req.Owner,
			Position:   i,
			Content:    chunk,
			Embedding:  vectors[i],
			Metadata:   metadata,
		}
	}

	if err := s.store.Upsert(ctx, records); err != nil {
		// Leave no registry entry pointing at missing chunks.
		if delErr := s.store.DeleteDocument(ctx, doc.ID, req.Owner); delErr != nil {
			s.logger.Warn("cleaning up document after failed upsert", "error", delErr)
		}
		return nil, err
	}

	s.logger.Info("ingested document",
		"document_id", doc.ID,
		"name", req.Filename,
		"chunks", len(chunks))

	return &Receipt{DocumentID: doc.ID, Title: extracted.Title, ChunkCount: len(chunks)}, nil
}

// IngestBatch ingests documents concurrently with a bounded worker pool. One
// failing document does not fail the batch; per-document outcomes come back
// in request order.
func (s *Service) IngestBatch(ctx context.Context, reqs []Request) []BatchResult {
	results := make([]BatchResult, len(reqs))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for range s.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				receipt, err := s.Ingest(ctx, reqs[idx])
				results[idx] = BatchResult{Index: idx, Receipt: receipt, Err: err}
			}
		}()
	}

	for idx := range reqs {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	return results
}

// IngestURL downloads a page and ingests it through the HTML path.
func (s *Service) IngestURL(ctx context.Context, url, owner string) (*Receipt, error) {
	if s.fetcher == nil {
		return nil, fmt.Errorf("URL ingestion is not configured")
	}

	body, contentType, err := s.fetcher.Fetch(url)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = document.MIMEHTML
	}

	return s.Ingest(ctx, Request{
		Data:     body,
		MIMEType: contentType,
		Owner:    owner,
		Filename: url,
		Source:   url,
	})
}

// Delete removes a document and all its chunks.
func (s *Service) Delete(ctx context.Context, docID uuid.UUID, owner string) error {
	return s.store.DeleteDocument(ctx, docID, owner)
}
