package vecstore

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store for tests and local development. It mirrors
// the Postgres backend's semantics: cosine similarity, filter-before-limit,
// ties broken by chunk id.
//
// Memory is safe for concurrent use by multiple goroutines.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	records   map[uuid.UUID]Record
	documents map[uuid.UUID]Document
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store for vectors of the given
// dimension.
func NewMemory(dimension int) (*Memory, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	return &Memory{
		dimension: dimension,
		records:   make(map[uuid.UUID]Record),
		documents: make(map[uuid.UUID]Document),
	}, nil
}

// Upsert stores records keyed by id. All dimensions are validated before any
// record is written.
func (m *Memory) Upsert(_ context.Context, records []Record) error {
	for i, rec := range records {
		if len(rec.Embedding) != m.dimension {
			return fmt.Errorf("%w: record %d has dimension %d, store expects %d",
				ErrDimensionMismatch, i, len(rec.Embedding), m.dimension)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		m.records[rec.ID] = rec
	}
	return nil
}

// Query computes cosine similarity against every stored record.
func (m *Memory) Query(_ context.Context, vector []float32, opts QueryOptions) ([]Match, error) {
	if len(vector) != m.dimension {
		return nil, fmt.Errorf("%w: query vector has dimension %d, store expects %d",
			ErrDimensionMismatch, len(vector), m.dimension)
	}
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("%w: top-k must be positive", ErrVectorStore)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []Match
	for _, rec := range m.records {
		if !recordVisible(rec, opts) {
			continue
		}
		sim := cosineSimilarity(vector, rec.Embedding)
		if sim < opts.Threshold {
			continue
		}
		matches = append(matches, matchFromRecord(rec, sim))
	}

	sortMatches(matches)
	if len(matches) > opts.TopK {
		matches = matches[:opts.TopK]
	}
	return matches, nil
}

// Keyword ranks records by the fraction of query terms present in the
// content, a rough stand-in for ts_rank_cd.
func (m *Memory) Keyword(_ context.Context, query string, opts QueryOptions) ([]Match, error) {
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("%w: top-k must be positive", ErrVectorStore)
	}

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []Match
	for _, rec := range m.records {
		if !recordVisible(rec, opts) {
			continue
		}
		content := strings.ToLower(rec.Content)
		hits := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		matches = append(matches, matchFromRecord(rec, float64(hits)/float64(len(terms))))
	}

	sortMatches(matches)
	if len(matches) > opts.TopK {
		matches = matches[:opts.TopK]
	}
	return matches, nil
}

// DeleteByIDs removes the identified chunks. Unknown ids are ignored.
func (m *Memory) DeleteByIDs(_ context.Context, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

// DeleteByDocument removes all chunks of docID.
func (m *Memory) DeleteByDocument(_ context.Context, docID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.records {
		if rec.DocumentID == docID {
			delete(m.records, id)
		}
	}
	return nil
}

// InsertDocument adds a registry entry.
func (m *Memory) InsertDocument(_ context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	m.documents[doc.ID] = *doc
	return nil
}

// DeleteDocument removes a document and cascades to its chunks.
func (m *Memory) DeleteDocument(_ context.Context, id uuid.UUID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[id]
	if !ok || (owner != "" && doc.Owner != owner) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.documents, id)
	for recID, rec := range m.records {
		if rec.DocumentID == id {
			delete(m.records, recID)
		}
	}
	return nil
}

// GetDocument fetches one registry entry with its live chunk count.
func (m *Memory) GetDocument(_ context.Context, id uuid.UUID, owner string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[id]
	if !ok || (owner != "" && doc.Owner != owner) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	doc.ChunkCount = m.countChunksLocked(id)
	return &doc, nil
}

// ListDocuments returns the owner's documents, newest update first.
func (m *Memory) ListDocuments(_ context.Context, owner string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var docs []Document
	for _, doc := range m.documents {
		if owner != "" && doc.Owner != owner {
			continue
		}
		doc.ChunkCount = m.countChunksLocked(doc.ID)
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
		}
		return bytes.Compare(docs[i].ID[:], docs[j].ID[:]) < 0
	})
	return docs, nil
}

func (m *Memory) countChunksLocked(docID uuid.UUID) int {
	n := 0
	for _, rec := range m.records {
		if rec.DocumentID == docID {
			n++
		}
	}
	return n
}

func recordVisible(rec Record, opts QueryOptions) bool {
	if opts.Owner != "" && rec.Owner != opts.Owner {
		return false
	}
	if opts.DocumentID != uuid.Nil && rec.DocumentID != opts.DocumentID {
		return false
	}
	return true
}

func matchFromRecord(rec Record, score float64) Match {
	return Match{
		ID:         rec.ID,
		DocumentID: rec.DocumentID,
		Position:   rec.Position,
		Content:    rec.Content,
		Metadata:   rec.Metadata,
		Similarity: score,
	}
}

// sortMatches orders by score descending, chunk id ascending on ties.
func sortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return bytes.Compare(matches[i].ID[:], matches[j].ID[:]) < 0
	})
}

// cosineSimilarity returns the cosine of the angle between a and b. Zero
// vectors yield 0.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
