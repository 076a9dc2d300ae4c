// Package conversation persists query/answer history per owner.
//
// Messages are append-only. Assistant messages carry the retrieval sources
// that backed the answer, stored as JSONB for provenance.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound indicates the conversation does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrForbidden indicates the conversation belongs to another owner.
	ErrForbidden = errors.New("conversation access denied")
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SourceRef records one retrieved chunk an answer was grounded on.
type SourceRef struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Similarity float64   `json:"similarity"`
}

// Conversation is one query/answer thread.
type Conversation struct {
	ID        uuid.UUID
	Owner     string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one turn of a conversation.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        string
	Sources        []SourceRef
	CreatedAt      time.Time
}

// Store manages conversations in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a conversation Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Create starts a new conversation for owner.
func (s *Store) Create(ctx context.Context, owner string) (*Conversation, error) {
	conv := &Conversation{ID: uuid.New(), Owner: owner}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, owner) VALUES ($1, $2)
		 RETURNING created_at, updated_at`,
		conv.ID, owner,
	).Scan(&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return conv, nil
}

// Get fetches a conversation, enforcing ownership.
func (s *Store) Get(ctx context.Context, id uuid.UUID, owner string) (*Conversation, error) {
	var conv Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner, title, created_at, updated_at FROM conversations WHERE id = $1`,
		id,
	).Scan(&conv.ID, &conv.Owner, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching conversation: %w", err)
	}
	if owner != "" && conv.Owner != owner {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, id)
	}
	return &conv, nil
}

// List returns the owner's conversations, most recently active first.
func (s *Store) List(ctx context.Context, owner string) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner, title, created_at, updated_at
		 FROM conversations
		 WHERE $1 = '' OR owner = $1
		 ORDER BY updated_at DESC, id ASC`,
		owner)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.Owner, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return convs, nil
}

// UpdateTitle sets the conversation title, enforcing ownership.
func (s *Store) UpdateTitle(ctx context.Context, id uuid.UUID, owner, title string) error {
	if _, err := s.Get(ctx, id, owner); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE conversations SET title = $2, updated_at = now() WHERE id = $1`,
		id, title)
	if err != nil {
		return fmt.Errorf("updating title: %w", err)
	}
	return nil
}

// AppendMessage adds a message and bumps the conversation's activity
// timestamp in one transaction.
func (s *Store) AppendMessage(ctx context.Context, convID uuid.UUID, msg Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("rolling back append", "error", rbErr)
		}
	}()

	sources := msg.Sources
	if sources == nil {
		sources = []SourceRef{}
	}

	id := msg.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, sources)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, convID, msg.Role, msg.Content, sources); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`, convID)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, convID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}
	return nil
}

// Messages returns a conversation's messages in chronological order. A
// positive limit keeps only the most recent messages, so a long conversation
// feeds its latest turns into the model context rather than its oldest.
func (s *Store) Messages(ctx context.Context, convID uuid.UUID, limit int) ([]Message, error) {
	query := `SELECT id, conversation_id, role, content, sources, created_at
	 FROM messages
	 WHERE conversation_id = $1
	 ORDER BY created_at ASC, id ASC`
	args := []any{convID}
	if limit > 0 {
		query = `SELECT id, conversation_id, role, content, sources, created_at
		 FROM (SELECT id, conversation_id, role, content, sources, created_at
		       FROM messages
		       WHERE conversation_id = $1
		       ORDER BY created_at DESC, id DESC
		       LIMIT $2) recent
		 ORDER BY created_at ASC, id ASC`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&msg.Sources, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

// Delete removes a conversation and its messages, enforcing ownership.
func (s *Store) Delete(ctx context.Context, id uuid.UUID, owner string) error {
	if _, err := s.Get(ctx, id, owner); err != nil {
		return err
	}
	// Messages cascade via the foreign key.
	_, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	return nil
}
