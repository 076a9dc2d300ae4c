// Package vecstore persists embedded chunks and serves similarity and
// keyword queries over them.
//
// Two backends implement Store: Postgres (pgvector, production) and Memory
// (tests and local development). Both apply owner and document filters
// before ranking and truncation, so top-K is computed over the filtered set.
package vecstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrVectorStore indicates an upstream storage failure.
	ErrVectorStore = errors.New("vector store error")

	// ErrDimensionMismatch indicates a vector's dimension differs from the
	// store's configured dimension. The offending record is not stored.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("document not found")
)

// upsertBatchSize bounds records per database round trip.
const upsertBatchSize = 100

// Record is one embedded chunk.
type Record struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Owner      string
	Position   int // chunk index within the document
	Content    string
	Embedding  []float32
	Metadata   map[string]any
}

// Match is a retrieved chunk with its relevance score.
type Match struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Position   int
	Content    string
	Metadata   map[string]any

	// Similarity is cosine similarity for vector queries and a normalized
	// rank score in [0,1] for keyword queries.
	Similarity float64
}

// QueryOptions filters and bounds a query.
type QueryOptions struct {
	// TopK is the maximum number of matches. Required, must be positive.
	TopK int

	// Threshold drops vector matches below this cosine similarity. Ignored
	// by keyword queries.
	Threshold float64

	// Owner restricts matches to one owner when non-empty.
	Owner string

	// DocumentID restricts matches to one document when non-zero.
	DocumentID uuid.UUID
}

// Document is an entry in the document registry.
type Document struct {
	ID         uuid.UUID
	Owner      string
	Name       string
	Source     string // original path or URL
	MIMEType   string
	ChunkCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store is the persistence contract shared by the Postgres and Memory
// backends.
type Store interface {
	// Upsert stores records, replacing existing ones by id.
	Upsert(ctx context.Context, records []Record) error

	// Query returns the top-K most similar chunks by cosine similarity,
	// descending, ties broken by chunk id ascending.
	Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error)

	// Keyword returns chunks ranked by full-text relevance, descending.
	Keyword(ctx context.Context, query string, opts QueryOptions) ([]Match, error)

	// DeleteByIDs removes the identified chunks.
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) error

	// DeleteByDocument removes all chunks of a document.
	DeleteByDocument(ctx context.Context, docID uuid.UUID) error

	// InsertDocument adds a registry entry.
	InsertDocument(ctx context.Context, doc *Document) error

	// DeleteDocument removes a document and its chunks. Returns ErrNotFound
	// when no document matches the id and owner.
	DeleteDocument(ctx context.Context, id uuid.UUID, owner string) error

	// GetDocument fetches one registry entry scoped by owner.
	GetDocument(ctx context.Context, id uuid.UUID, owner string) (*Document, error)

	// ListDocuments returns the owner's documents, most recently updated
	// first.
	ListDocuments(ctx context.Context, owner string) ([]Document, error)
}
