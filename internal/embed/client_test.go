package embed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"

	"github.com/corvid-labs/corvus/internal/log"
)

// mockEmbedder implements ai.Embedder for testing.
type mockEmbedder struct {
	dimension  int
	embedErr   error
	shortBatch bool  // return one fewer embedding than requested
	callCount  int   // provider calls made
	batchSizes []int // inputs per call
}

func (m *mockEmbedder) Name() string { return "mock-embedder" }

func (m *mockEmbedder) Register(_ api.Registry) {}

func (m *mockEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.callCount++
	m.batchSizes = append(m.batchSizes, len(req.Input))

	if m.embedErr != nil {
		return nil, m.embedErr
	}

	n := len(req.Input)
	if m.shortBatch && n > 0 {
		n--
	}

	resp := &ai.EmbedResponse{}
	for i := range n {
		// Deterministic per-text vector: first component encodes the text
		// length so order preservation is checkable.
		vec := make([]float32, m.dimension)
		if len(req.Input[i].Content) > 0 {
			vec[0] = float32(len(req.Input[i].Content[0].Text))
		}
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{Embedding: vec})
	}
	return resp, nil
}

func newTestClient(t *testing.T, m *mockEmbedder, cache *Cache, cfg Config) *Client {
	t.Helper()
	if cfg.Dimension == 0 {
		cfg.Dimension = m.dimension
	}
	cfg.RequestsPerSecond = 1000 // keep tests fast
	client, err := NewClient(m, cache, cfg, log.NewNop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestEmbedPreservesOrder(t *testing.T) {
	m := &mockEmbedder{dimension: 4}
	client := newTestClient(t, m, nil, Config{})

	texts := []string{"a", "bb", "ccc", "dddd"}
	vectors, err := client.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors", len(vectors))
	}
	for i, text := range texts {
		if vectors[i][0] != float32(len(text)) {
			t.Errorf("vector %d out of order: got marker %v, want %d", i, vectors[i][0], len(text))
		}
	}
}

func TestEmbedBatches(t *testing.T) {
	m := &mockEmbedder{dimension: 2}
	client := newTestClient(t, m, nil, Config{BatchSize: 3})

	texts := []string{"1", "22", "333", "4444", "55555", "666666", "7777777"}
	if _, err := client.Embed(context.Background(), texts); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if m.callCount != 3 {
		t.Errorf("callCount = %d, want 3", m.callCount)
	}
	wantSizes := []int{3, 3, 1}
	for i, size := range m.batchSizes {
		if size != wantSizes[i] {
			t.Errorf("batch %d size = %d, want %d", i, size, wantSizes[i])
		}
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	m := &mockEmbedder{dimension: 2}
	client := newTestClient(t, m, nil, Config{})

	vectors, err := client.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vectors != nil {
		t.Errorf("got %v, want nil", vectors)
	}
	if m.callCount != 0 {
		t.Errorf("provider called for empty input")
	}
}

func TestEmbedProviderError(t *testing.T) {
	m := &mockEmbedder{dimension: 2, embedErr: errors.New("quota exhausted")}
	client := newTestClient(t, m, nil, Config{})

	_, err := client.Embed(context.Background(), []string{"x"})
	if !errors.Is(err, ErrEmbeddingService) {
		t.Fatalf("err = %v, want ErrEmbeddingService", err)
	}
}

func TestEmbedDimensionCheck(t *testing.T) {
	m := &mockEmbedder{dimension: 4}
	client := newTestClient(t, m, nil, Config{Dimension: 8})

	_, err := client.Embed(context.Background(), []string{"x"})
	if !errors.Is(err, ErrEmbeddingService) {
		t.Fatalf("err = %v, want ErrEmbeddingService for wrong dimension", err)
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	m := &mockEmbedder{dimension: 2, shortBatch: true}
	client := newTestClient(t, m, nil, Config{})

	_, err := client.Embed(context.Background(), []string{"x", "y"})
	if !errors.Is(err, ErrEmbeddingService) {
		t.Fatalf("err = %v, want ErrEmbeddingService for count mismatch", err)
	}
}

func TestEmbedUsesCache(t *testing.T) {
	m := &mockEmbedder{dimension: 2}
	cache := NewCache(10, time.Minute)
	client := newTestClient(t, m, cache, Config{})

	ctx := context.Background()
	if _, err := client.Embed(ctx, []string{"repeated"}); err != nil {
		t.Fatalf("first Embed: %v", err)
	}
	if _, err := client.Embed(ctx, []string{"repeated"}); err != nil {
		t.Fatalf("second Embed: %v", err)
	}
	if m.callCount != 1 {
		t.Errorf("callCount = %d, want 1 (second call served from cache)", m.callCount)
	}
}

func TestEmbedPartialCacheHit(t *testing.T) {
	m := &mockEmbedder{dimension: 2}
	cache := NewCache(10, time.Minute)
	client := newTestClient(t, m, cache, Config{})

	ctx := context.Background()
	if _, err := client.Embed(ctx, []string{"hot"}); err != nil {
		t.Fatal(err)
	}

	vectors, err := client.Embed(ctx, []string{"cold1", "hot", "cold2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) != 3 {
		t.Fatalf("got %d vectors", len(vectors))
	}
	// Second call embeds only the two misses.
	if got := m.batchSizes[len(m.batchSizes)-1]; got != 2 {
		t.Errorf("last batch size = %d, want 2", got)
	}
	if vectors[1][0] != float32(len("hot")) {
		t.Errorf("cached vector misplaced: %v", vectors[1])
	}
}

func TestEmbedQuery(t *testing.T) {
	m := &mockEmbedder{dimension: 3}
	client := newTestClient(t, m, nil, Config{})

	vec, err := client.EmbedQuery(context.Background(), "hello")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("dimension = %d", len(vec))
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(nil, nil, Config{Dimension: 4}, log.NewNop()); err == nil {
		t.Error("expected error for nil embedder")
	}
	if _, err := NewClient(&mockEmbedder{dimension: 4}, nil, Config{}, log.NewNop()); err == nil {
		t.Error("expected error for zero dimension")
	}
}
