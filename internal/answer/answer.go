// Package answer turns retrieved chunks into grounded answers.
//
// The orchestrator retrieves context, builds a citation-labeled prompt, and
// generates either a full answer or a cancellable stream of text increments.
// Conversation history is optional; with a store wired in, turns are
// persisted and prior messages ride along in the model call.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/corvid-labs/corvus/internal/conversation"
	"github.com/corvid-labs/corvus/internal/llm"
	"github.com/corvid-labs/corvus/internal/retriever"
)

// ErrGeneration indicates the model call failed. Retrieval succeeded; the
// caller may retry.
var ErrGeneration = errors.New("generation error")

// noContextAnswer is returned without a model call when retrieval finds
// nothing, so the model never fabricates sources.
const noContextAnswer = "I couldn't find any relevant information in the indexed documents to answer that question."

// historyLimit bounds how many prior messages ride along in a model call.
const historyLimit = 20

// StreamCallback receives each text increment of a streamed answer.
// Returning an error cancels the generation.
type StreamCallback = llm.StreamCallback

// Retriever finds chunks relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query, owner string, opts ...retriever.Option) (*retriever.Result, error)
}

// Completer generates chat completions.
type Completer interface {
	Complete(ctx context.Context, system string, messages []llm.Message) (string, error)
	CompleteStream(ctx context.Context, system string, messages []llm.Message, cb llm.StreamCallback) (string, error)
}

// History persists conversation turns. Optional; nil means stateless
// answering.
type History interface {
	Create(ctx context.Context, owner string) (*conversation.Conversation, error)
	Get(ctx context.Context, id uuid.UUID, owner string) (*conversation.Conversation, error)
	AppendMessage(ctx context.Context, convID uuid.UUID, msg conversation.Message) error
	Messages(ctx context.Context, convID uuid.UUID, limit int) ([]conversation.Message, error)
}

// Input is one question to answer.
type Input struct {
	Query          string
	Owner          string
	ConversationID uuid.UUID // zero starts a new conversation when history is wired

	// Retrieval tunes the retrieval stage for this call.
	Retrieval []retriever.Option
}

// Source is a chunk an answer was grounded on, labeled for citation.
type Source struct {
	Label      int // citation label used in the answer text, 1-based
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	Content    string
	Similarity float64
}

// Output is a completed answer.
type Output struct {
	Text           string
	Sources        []Source
	ConversationID uuid.UUID // zero when history is not wired
}

// Service orchestrates retrieval and generation.
//
// Service is safe for concurrent use by multiple goroutines.
type Service struct {
	retriever Retriever
	completer Completer
	history   History // may be nil
	logger    *slog.Logger
}

// NewService creates an answer Service. history may be nil.
func NewService(ret Retriever, completer Completer, history History, logger *slog.Logger) (*Service, error) {
	if ret == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{retriever: ret, completer: completer, history: history, logger: logger}, nil
}

// Answer retrieves context and generates a complete answer.
func (s *Service) Answer(ctx context.Context, in Input) (*Output, error) {
	prep, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}

	if !prep.grounded {
		out := &Output{Text: noContextAnswer, ConversationID: prep.conversationID}
		s.record(ctx, prep.conversationID, in.Query, out)
		return out, nil
	}

	text, err := s.completer.Complete(ctx, prep.system, prep.messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	out := &Output{Text: text, Sources: prep.sources, ConversationID: prep.conversationID}
	s.record(ctx, prep.conversationID, in.Query, out)
	return out, nil
}

// Stream is Answer with per-chunk delivery. The callback sees the text
// increments in order; cancelling ctx or returning an error from the
// callback stops generation upstream.
func (s *Service) Stream(ctx context.Context, in Input, cb StreamCallback) (*Output, error) {
	prep, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}

	if !prep.grounded {
		if cb != nil {
			if err := cb(ctx, noContextAnswer); err != nil {
				return nil, err
			}
		}
		out := &Output{Text: noContextAnswer, ConversationID: prep.conversationID}
		s.record(ctx, prep.conversationID, in.Query, out)
		return out, nil
	}

	text, err := s.completer.CompleteStream(ctx, prep.system, prep.messages, cb)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	out := &Output{Text: text, Sources: prep.sources, ConversationID: prep.conversationID}
	s.record(ctx, prep.conversationID, in.Query, out)
	return out, nil
}

// prepared carries everything needed for the generation stage.
type prepared struct {
	system         string
	messages       []llm.Message
	sources        []Source // above the similarity threshold, cited in output
	grounded       bool     // any retrieved context at all
	conversationID uuid.UUID
}

func (s *Service) prepare(ctx context.Context, in Input) (*prepared, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	result, err := s.retriever.Retrieve(ctx, in.Query, in.Owner, in.Retrieval...)
	if err != nil {
		return nil, err
	}
	blocks := sourcesFromMatches(result.Matches)

	convID, history, err := s.conversationHistory(ctx, in)
	if err != nil {
		return nil, err
	}

	messages := append(history, llm.Message{Role: llm.RoleUser, Content: in.Query})

	return &prepared{
		system:         buildSystemPrompt(blocks),
		messages:       messages,
		sources:        citedSources(blocks, result.Threshold),
		grounded:       len(blocks) > 0,
		conversationID: convID,
	}, nil
}

// conversationHistory resolves the conversation and loads prior turns.
// Without a history store it returns zeroes.
func (s *Service) conversationHistory(ctx context.Context, in Input) (uuid.UUID, []llm.Message, error) {
	if s.history == nil {
		return uuid.Nil, nil, nil
	}

	if in.ConversationID == uuid.Nil {
		conv, err := s.history.Create(ctx, in.Owner)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("creating conversation: %w", err)
		}
		return conv.ID, nil, nil
	}

	if _, err := s.history.Get(ctx, in.ConversationID, in.Owner); err != nil {
		return uuid.Nil, nil, err
	}

	msgs, err := s.history.Messages(ctx, in.ConversationID, historyLimit)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("loading history: %w", err)
	}

	history := make([]llm.Message, 0, len(msgs))
	for _, msg := range msgs {
		role := llm.RoleUser
		if msg.Role == conversation.RoleAssistant {
			role = llm.RoleAssistant
		}
		history = append(history, llm.Message{Role: role, Content: msg.Content})
	}
	return in.ConversationID, history, nil
}

// record persists the turn. Persistence failures are logged, not surfaced;
// the answer already succeeded.
func (s *Service) record(ctx context.Context, convID uuid.UUID, query string, out *Output) {
	if s.history == nil || convID == uuid.Nil {
		return
	}

	if err := s.history.AppendMessage(ctx, convID, conversation.Message{
		Role: conversation.RoleUser, Content: query,
	}); err != nil {
		s.logger.Warn("persisting user message", "error", err)
		return
	}

	refs := make([]conversation.SourceRef, len(out.Sources))
	for i, src := range out.Sources {
		refs[i] = conversation.SourceRef{
			ChunkID:    src.ChunkID,
			DocumentID: src.DocumentID,
			Similarity: src.Similarity,
		}
	}
	if err := s.history.AppendMessage(ctx, convID, conversation.Message{
		Role: conversation.RoleAssistant, Content: out.Text, Sources: refs,
	}); err != nil {
		s.logger.Warn("persisting assistant message", "error", err)
	}
}

func sourcesFromMatches(matches []retriever.Match) []Source {
	sources := make([]Source, len(matches))
	for i, m := range matches {
		sources[i] = Source{
			Label:      i + 1,
			ChunkID:    m.ID,
			DocumentID: m.DocumentID,
			Content:    m.Content,
			Similarity: m.Similarity,
		}
	}
	return sources
}

// citedSources keeps the context blocks whose vector similarity clears the
// threshold. Keyword-only hybrid matches still ground the prompt but are not
// reported as citations. Labels keep their prompt numbering.
func citedSources(blocks []Source, threshold float64) []Source {
	cited := make([]Source, 0, len(blocks))
	for _, src := range blocks {
		if src.Similarity >= threshold {
			cited = append(cited, src)
		}
	}
	return cited
}

// buildSystemPrompt assembles the grounding instructions with numbered
// context blocks for citation.
func buildSystemPrompt(sources []Source) string {
	var b strings.Builder
	b.WriteString("You are a question answering assistant. Answer using only the context below.\n")
	b.WriteString("Cite the context blocks you used with their bracketed numbers, like [1].\n")
	b.WriteString("If the context is insufficient to answer, say so explicitly instead of guessing.\n\n")
	b.WriteString("Context:\n")
	for _, src := range sources {
		fmt.Fprintf(&b, "[%d] %s\n\n", src.Label, src.Content)
	}
	return b.String()
}
