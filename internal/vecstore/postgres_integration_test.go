package vecstore

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/corvid-labs/corvus/internal/log"
	"github.com/corvid-labs/corvus/internal/testutil"
)

func setupPostgres(t *testing.T) *Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	testDB, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	store, err := NewPostgres(testDB.Pool, 768, log.NewNop())
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	return store
}

// unitVector768 returns a 768-dim unit vector pointing along axis.
func unitVector768(axis int) []float32 {
	v := make([]float32, 768)
	v[axis] = 1
	return v
}

func TestPostgresRoundTrip(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	doc := &Document{ID: uuid.New(), Owner: "alice", Name: "guide.md", MIMEType: "text/markdown"}
	if err := store.InsertDocument(ctx, doc); err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}
	if doc.CreatedAt.IsZero() {
		t.Error("CreatedAt not populated")
	}

	records := []Record{
		{ID: uuid.New(), DocumentID: doc.ID, Owner: "alice", Position: 0,
			Content: "goroutines make concurrency simple", Embedding: unitVector768(0)},
		{ID: uuid.New(), DocumentID: doc.ID, Owner: "alice", Position: 1,
			Content: "channels carry values between goroutines", Embedding: unitVector768(1)},
	}
	if err := store.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := store.Query(ctx, unitVector768(0), QueryOptions{TopK: 5, Threshold: 0.5, Owner: "alice"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches: %v", len(matches), matches)
	}
	if math.Abs(matches[0].Similarity-1.0) > 1e-5 {
		t.Errorf("self-similarity = %v", matches[0].Similarity)
	}
	if matches[0].Content != records[0].Content {
		t.Errorf("content = %q", matches[0].Content)
	}

	got, err := store.GetDocument(ctx, doc.ID, "alice")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.ChunkCount != 2 {
		t.Errorf("chunk count = %d", got.ChunkCount)
	}
}

func TestPostgresKeyword(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	doc := &Document{ID: uuid.New(), Name: "notes.txt", MIMEType: "text/plain"}
	if err := store.InsertDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	records := []Record{
		{ID: uuid.New(), DocumentID: doc.ID, Position: 0,
			Content: "postgres indexes speed up queries", Embedding: unitVector768(0)},
		{ID: uuid.New(), DocumentID: doc.ID, Position: 1,
			Content: "vectors live in a different table", Embedding: unitVector768(1)},
	}
	if err := store.Upsert(ctx, records); err != nil {
		t.Fatal(err)
	}

	matches, err := store.Keyword(ctx, "postgres indexes", QueryOptions{TopK: 5})
	if err != nil {
		t.Fatalf("Keyword: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches: %v", len(matches), matches)
	}
	if matches[0].Content != records[0].Content {
		t.Errorf("content = %q", matches[0].Content)
	}
	if matches[0].Similarity <= 0 || matches[0].Similarity > 1 {
		t.Errorf("rank score out of range: %v", matches[0].Similarity)
	}
}

func TestPostgresDeleteCascade(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	doc := &Document{ID: uuid.New(), Owner: "alice", Name: "tmp.txt", MIMEType: "text/plain"}
	if err := store.InsertDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if err := store.Upsert(ctx, []Record{
		{ID: uuid.New(), DocumentID: doc.ID, Owner: "alice", Content: "x", Embedding: unitVector768(0)},
	}); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteDocument(ctx, doc.ID, "alice"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	matches, err := store.Query(ctx, unitVector768(0), QueryOptions{TopK: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Errorf("chunks survived cascade: %v", matches)
	}

	if err := store.DeleteDocument(ctx, doc.ID, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestPostgresDimensionMismatch(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	err := store.Upsert(ctx, []Record{
		{ID: uuid.New(), DocumentID: uuid.New(), Content: "x", Embedding: make([]float32, 128)},
	})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestPostgresListDocuments(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	for _, name := range []string{"a.txt", "b.txt"} {
		doc := &Document{ID: uuid.New(), Owner: "alice", Name: name, MIMEType: "text/plain"}
		if err := store.InsertDocument(ctx, doc); err != nil {
			t.Fatal(err)
		}
	}
	other := &Document{ID: uuid.New(), Owner: "bob", Name: "c.txt", MIMEType: "text/plain"}
	if err := store.InsertDocument(ctx, other); err != nil {
		t.Fatal(err)
	}

	docs, err := store.ListDocuments(ctx, "alice")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("got %d documents", len(docs))
	}
	for _, d := range docs {
		if d.Owner != "alice" {
			t.Errorf("foreign document listed: %v", d)
		}
	}
}
