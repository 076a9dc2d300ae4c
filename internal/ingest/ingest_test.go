package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/corvid-labs/corvus/internal/chunker"
	"github.com/corvid-labs/corvus/internal/document"
	"github.com/corvid-labs/corvus/internal/log"
	"github.com/corvid-labs/corvus/internal/vecstore"
)

const testDim = 4

type stubEmbedder struct {
	err       error
	dimension int
	callCount int
	lastTexts []string
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.callCount++
	s.lastTexts = texts
	if s.err != nil {
		return nil, s.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = make([]float32, s.dimension)
		vectors[i][0] = 1
	}
	return vectors, nil
}

func newService(t *testing.T, embedder Embedder, store vecstore.Store, fetcher *Fetcher) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Extractor: document.NewExtractor(log.NewNop()),
		Splitter:  chunker.New(chunker.WithMaxSize(40), chunker.WithOverlap(0)),
		Embedder:  embedder,
		Store:     store,
		Fetcher:   fetcher,
	}, log.NewNop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func newMemStore(t *testing.T) *vecstore.Memory {
	t.Helper()
	store, err := vecstore.NewMemory(testDim)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestIngest(t *testing.T) {
	store := newMemStore(t)
	embedder := &stubEmbedder{dimension: testDim}
	svc := newService(t, embedder, store, nil)
	ctx := context.Background()

	receipt, err := svc.Ingest(ctx, Request{
		Data:     []byte("First paragraph of prose.\n\nSecond paragraph of prose."),
		MIMEType: "text/plain",
		Owner:    "alice",
		Filename: "notes.txt",
		Metadata: map[string]any{"project": "corvus"},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if receipt.ChunkCount != 2 {
		t.Errorf("chunk count = %d, want 2", receipt.ChunkCount)
	}

	doc, err := store.GetDocument(ctx, receipt.DocumentID, "alice")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.ChunkCount != 2 {
		t.Errorf("stored chunk count = %d", doc.ChunkCount)
	}
	if doc.MIMEType != "text/plain" {
		t.Errorf("mime = %q", doc.MIMEType)
	}

	vec := make([]float32, testDim)
	vec[0] = 1
	matches, err := store.Query(ctx, vec, vecstore.QueryOptions{TopK: 10, Owner: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d chunks", len(matches))
	}
	for _, m := range matches {
		if m.Metadata["filename"] != "notes.txt" {
			t.Errorf("metadata filename = %v", m.Metadata["filename"])
		}
		if m.Metadata["project"] != "corvus" {
			t.Errorf("caller metadata lost: %v", m.Metadata)
		}
		if m.Metadata["chunk_total"] != 2 {
			t.Errorf("chunk_total = %v", m.Metadata["chunk_total"])
		}
	}
}

func TestIngestDetectsMIMEFromFilename(t *testing.T) {
	store := newMemStore(t)
	svc := newService(t, &stubEmbedder{dimension: testDim}, store, nil)

	receipt, err := svc.Ingest(context.Background(), Request{
		Data:     []byte("# Title\n\nBody text."),
		Filename: "README.md",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	doc, err := store.GetDocument(context.Background(), receipt.DocumentID, "")
	if err != nil {
		t.Fatal(err)
	}
	if doc.MIMEType != document.MIMEMarkdown {
		t.Errorf("mime = %q", doc.MIMEType)
	}
	if receipt.Title != "Title" {
		t.Errorf("title = %q", receipt.Title)
	}
}

func TestIngestUnsupportedFormat(t *testing.T) {
	store := newMemStore(t)
	svc := newService(t, &stubEmbedder{dimension: testDim}, store, nil)

	_, err := svc.Ingest(context.Background(), Request{
		Data:     []byte{0xff, 0xd8},
		MIMEType: "image/jpeg",
		Filename: "photo.jpg",
	})
	if !errors.Is(err, document.ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}

	docs, _ := store.ListDocuments(context.Background(), "")
	if len(docs) != 0 {
		t.Errorf("failed ingest left documents behind: %v", docs)
	}
}

func TestIngestEmbedFailure(t *testing.T) {
	store := newMemStore(t)
	svc := newService(t, &stubEmbedder{err: errors.New("quota")}, store, nil)

	_, err := svc.Ingest(context.Background(), Request{
		Data:     []byte("some text"),
		MIMEType: "text/plain",
		Filename: "x.txt",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	docs, _ := store.ListDocuments(context.Background(), "")
	if len(docs) != 0 {
		t.Errorf("failed ingest left documents behind")
	}
}

func TestIngestUpsertFailureCleansUp(t *testing.T) {
	store := newMemStore(t)
	// Wrong dimension makes Upsert fail after the document is registered.
	svc := newService(t, &stubEmbedder{dimension: testDim + 1}, store, nil)

	_, err := svc.Ingest(context.Background(), Request{
		Data:     []byte("some text"),
		MIMEType: "text/plain",
		Filename: "x.txt",
	})
	if !errors.Is(err, vecstore.ErrDimensionMismatch) {
		t.Fatalf("err = %v", err)
	}

	docs, _ := store.ListDocuments(context.Background(), "")
	if len(docs) != 0 {
		t.Errorf("registry entry survived failed upsert: %v", docs)
	}
}

func TestIngestBatch(t *testing.T) {
	store := newMemStore(t)
	svc := newService(t, &stubEmbedder{dimension: testDim}, store, nil)

	reqs := []Request{
		{Data: []byte("document one text"), MIMEType: "text/plain", Filename: "1.txt"},
		{Data: []byte{0x00}, MIMEType: "application/octet-stream", Filename: "bad.bin"},
		{Data: []byte("document three text"), MIMEType: "text/plain", Filename: "3.txt"},
	}

	results := svc.IngestBatch(context.Background(), reqs)
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("good documents failed: %v, %v", results[0].Err, results[2].Err)
	}
	if !errors.Is(results[1].Err, document.ErrUnsupportedFormat) {
		t.Errorf("bad document err = %v", results[1].Err)
	}
	for i, res := range results {
		if res.Index != i {
			t.Errorf("result %d has index %d", i, res.Index)
		}
	}

	docs, _ := store.ListDocuments(context.Background(), "")
	if len(docs) != 2 {
		t.Errorf("got %d documents, want 2", len(docs))
	}
}

func TestIngestURL(t *testing.T) {
	page := `<html><head><title>Landing</title></head>
<body><article><h1>Landing</h1><p>Welcome to the documentation portal. It explains everything.</p></article></body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer server.Close()

	store := newMemStore(t)
	svc := newService(t, &stubEmbedder{dimension: testDim}, store, NewFetcher(FetcherConfig{}))

	receipt, err := svc.IngestURL(context.Background(), server.URL, "alice")
	if err != nil {
		t.Fatalf("IngestURL: %v", err)
	}
	if receipt.ChunkCount == 0 {
		t.Error("no chunks ingested")
	}

	doc, err := store.GetDocument(context.Background(), receipt.DocumentID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Source != server.URL {
		t.Errorf("source = %q", doc.Source)
	}
}

func TestIngestURLFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := newMemStore(t)
	svc := newService(t, &stubEmbedder{dimension: testDim}, store, NewFetcher(FetcherConfig{}))

	_, err := svc.IngestURL(context.Background(), server.URL, "")
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("err = %v, want ErrFetch", err)
	}
}

func TestDelete(t *testing.T) {
	store := newMemStore(t)
	svc := newService(t, &stubEmbedder{dimension: testDim}, store, nil)
	ctx := context.Background()

	receipt, err := svc.Ingest(ctx, Request{
		Data: []byte("text to delete"), MIMEType: "text/plain", Filename: "d.txt", Owner: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Delete(ctx, receipt.DocumentID, "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Delete(ctx, receipt.DocumentID, "alice"); !errors.Is(err, vecstore.ErrNotFound) {
		t.Errorf("double delete err = %v", err)
	}
}

func TestDeleteWrongOwner(t *testing.T) {
	store := newMemStore(t)
	svc := newService(t, &stubEmbedder{dimension: testDim}, store, nil)
	ctx := context.Background()

	receipt, err := svc.Ingest(ctx, Request{
		Data: []byte("private text"), MIMEType: "text/plain", Filename: "p.txt", Owner: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Delete(ctx, receipt.DocumentID, "bob"); !errors.Is(err, vecstore.ErrNotFound) {
		t.Errorf("cross-owner delete err = %v", err)
	}
	if _, err := store.GetDocument(ctx, receipt.DocumentID, "alice"); err != nil {
		t.Errorf("document should survive cross-owner delete: %v", err)
	}
}

func TestBatchUUIDUnique(t *testing.T) {
	store := newMemStore(t)
	svc := newService(t, &stubEmbedder{dimension: testDim}, store, nil)

	reqs := make([]Request, 6)
	for i := range reqs {
		reqs[i] = Request{Data: []byte("same content everywhere"), MIMEType: "text/plain", Filename: "same.txt"}
	}
	results := svc.IngestBatch(context.Background(), reqs)

	seen := make(map[uuid.UUID]bool)
	for _, res := range results {
		if res.Err != nil {
			t.Fatalf("ingest failed: %v", res.Err)
		}
		if seen[res.Receipt.DocumentID] {
			t.Fatal("duplicate document id across batch")
		}
		seen[res.Receipt.DocumentID] = true
	}
}
