package vecstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// opTimeout bounds every database round trip so a stalled connection fails
// instead of hanging the caller.
const opTimeout = 10 * time.Second

func opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}

const queryChunksSQL = `SELECT id, document_id, position, content, metadata,
	        1 - (embedding <=> $1) AS similarity
	 FROM chunks
	 WHERE ($2 = '' OR owner = $2)
	   AND ($3::uuid IS NULL OR document_id = $3)
	   AND 1 - (embedding <=> $1) >= $4
	 ORDER BY embedding <=> $1, id ASC
	 LIMIT $5`

const keywordChunksSQL = `SELECT id, document_id, position, content, metadata,
	        LEAST(1.0, ts_rank_cd(search_text, plainto_tsquery('english', $1), 1)) AS rank
	 FROM chunks
	 WHERE search_text @@ plainto_tsquery('english', $1)
	   AND ($2 = '' OR owner = $2)
	   AND ($3::uuid IS NULL OR document_id = $3)
	 ORDER BY rank DESC, id ASC
	 LIMIT $4`

const upsertChunkSQL = `INSERT INTO chunks (id, document_id, owner, position, content, embedding, metadata)
	 VALUES ($1, $2, $3, $4, $5, $6, $7)
	 ON CONFLICT (id) DO UPDATE SET
	   position = EXCLUDED.position,
	   content = EXCLUDED.content,
	   embedding = EXCLUDED.embedding,
	   metadata = EXCLUDED.metadata`

// Postgres is the pgvector-backed Store.
//
// Postgres is safe for concurrent use by multiple goroutines.
type Postgres struct {
	pool      *pgxpool.Pool
	dimension int
	logger    *slog.Logger
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a Postgres store. dimension must match the vector
// column width from the schema.
func NewPostgres(pool *pgxpool.Pool, dimension int, logger *slog.Logger) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, dimension: dimension, logger: logger}, nil
}

// Upsert stores records in batches. Dimensions are checked before anything
// is written, so a bad record fails the call without partial inserts from
// its batch.
func (p *Postgres) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	for i, rec := range records {
		if len(rec.Embedding) != p.dimension {
			return fmt.Errorf("%w: record %d has dimension %d, store expects %d",
				ErrDimensionMismatch, i, len(rec.Embedding), p.dimension)
		}
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	for start := 0; start < len(records); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(records))

		batch := &pgx.Batch{}
		for _, rec := range records[start:end] {
			metadata := rec.Metadata
			if metadata == nil {
				metadata = map[string]any{}
			}
			batch.Queue(upsertChunkSQL,
				rec.ID, rec.DocumentID, rec.Owner, rec.Position, rec.Content,
				pgvector.NewVector(rec.Embedding), metadata)
		}

		if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("%w: upserting chunks: %v", ErrVectorStore, err)
		}
	}

	p.logger.Debug("upserted chunks", "count", len(records))
	return nil
}

// Query runs cosine similarity search. Filtering happens in SQL before
// LIMIT, so top-K covers the filtered set.
func (p *Postgres) Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error) {
	if len(vector) != p.dimension {
		return nil, fmt.Errorf("%w: query vector has dimension %d, store expects %d",
			ErrDimensionMismatch, len(vector), p.dimension)
	}
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("%w: top-k must be positive", ErrVectorStore)
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx, queryChunksSQL,
		pgvector.NewVector(vector), opts.Owner, nullableUUID(opts.DocumentID),
		opts.Threshold, opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("%w: querying chunks: %v", ErrVectorStore, err)
	}
	defer rows.Close()

	return scanMatches(rows)
}

// Keyword runs full-text search over chunk content.
func (p *Postgres) Keyword(ctx context.Context, query string, opts QueryOptions) ([]Match, error) {
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("%w: top-k must be positive", ErrVectorStore)
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx, keywordChunksSQL,
		query, opts.Owner, nullableUUID(opts.DocumentID), opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("%w: keyword search: %v", ErrVectorStore, err)
	}
	defer rows.Close()

	return scanMatches(rows)
}

// DeleteByIDs removes the identified chunks. Unknown ids are ignored.
func (p *Postgres) DeleteByIDs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := opContext(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("%w: deleting chunks: %v", ErrVectorStore, err)
	}
	return nil
}

// DeleteByDocument removes all chunks belonging to docID.
func (p *Postgres) DeleteByDocument(ctx context.Context, docID uuid.UUID) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, docID)
	if err != nil {
		return fmt.Errorf("%w: deleting document chunks: %v", ErrVectorStore, err)
	}
	return nil
}

// InsertDocument adds a registry entry and fills in generated timestamps.
func (p *Postgres) InsertDocument(ctx context.Context, doc *Document) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	err := p.pool.QueryRow(ctx,
		`INSERT INTO documents (id, owner, name, source, mime_type)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		doc.ID, doc.Owner, doc.Name, doc.Source, doc.MIMEType,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: inserting document: %v", ErrVectorStore, err)
	}
	return nil
}

// DeleteDocument removes a document; its chunks go with it via ON DELETE
// CASCADE.
func (p *Postgres) DeleteDocument(ctx context.Context, id uuid.UUID, owner string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	tag, err := p.pool.Exec(ctx,
		`DELETE FROM documents WHERE id = $1 AND ($2 = '' OR owner = $2)`, id, owner)
	if err != nil {
		return fmt.Errorf("%w: deleting document: %v", ErrVectorStore, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// GetDocument fetches one registry entry with its live chunk count.
func (p *Postgres) GetDocument(ctx context.Context, id uuid.UUID, owner string) (*Document, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var doc Document
	err := p.pool.QueryRow(ctx,
		`SELECT d.id, d.owner, d.name, d.source, d.mime_type,
		        (SELECT COUNT(*) FROM chunks c WHERE c.document_id = d.id),
		        d.created_at, d.updated_at
		 FROM documents d
		 WHERE d.id = $1 AND ($2 = '' OR d.owner = $2)`,
		id, owner,
	).Scan(&doc.ID, &doc.Owner, &doc.Name, &doc.Source, &doc.MIMEType,
		&doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetching document: %v", ErrVectorStore, err)
	}
	return &doc, nil
}

// ListDocuments returns all documents for owner, newest update first.
func (p *Postgres) ListDocuments(ctx context.Context, owner string) ([]Document, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx,
		`SELECT d.id, d.owner, d.name, d.source, d.mime_type,
		        (SELECT COUNT(*) FROM chunks c WHERE c.document_id = d.id),
		        d.created_at, d.updated_at
		 FROM documents d
		 WHERE $1 = '' OR d.owner = $1
		 ORDER BY d.updated_at DESC, d.id ASC`,
		owner)
	if err != nil {
		return nil, fmt.Errorf("%w: listing documents: %v", ErrVectorStore, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Owner, &doc.Name, &doc.Source, &doc.MIMEType,
			&doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning document: %v", ErrVectorStore, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating documents: %v", ErrVectorStore, err)
	}
	return docs, nil
}

// scanMatches reads query result rows into matches.
func scanMatches(rows pgx.Rows) ([]Match, error) {
	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.Position, &m.Content,
			&m.Metadata, &m.Similarity); err != nil {
			return nil, fmt.Errorf("%w: scanning match: %v", ErrVectorStore, err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating matches: %v", ErrVectorStore, err)
	}
	return matches, nil
}

// nullableUUID maps the zero UUID onto SQL NULL so it can disable a filter.
func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
