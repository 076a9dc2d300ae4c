package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/corvid-labs/corvus/internal/answer"
	"github.com/corvid-labs/corvus/internal/conversation"
	"github.com/corvid-labs/corvus/internal/retriever"
)

// maxQueryBytes bounds the JSON body of a query request.
const maxQueryBytes = 1 << 20

// SSE event types for query streaming.
const (
	eventStatus  = "status"  // pipeline stage transitions
	eventContent = "content" // partial answer text
	eventSources = "sources" // citation sources, sent after the last content chunk
	eventDone    = "done"    // stream completed successfully
	eventError   = "error"   // error occurred during streaming
)

// Pipeline stages reported via status events.
const (
	stageRetrieving = "retrieving"
	stageGenerating = "generating"
)

// queryHandler serves the question answering endpoints.
type queryHandler struct {
	answer    *answer.Service
	retrieval []retriever.Option // configured defaults, applied before request overrides
	logger    *slog.Logger
}

type queryRequest struct {
	Query          string  `json:"query"`
	OwnerID        string  `json:"ownerId"`
	ConversationID string  `json:"conversationId"`
	DocumentID     string  `json:"documentId"`
	TopK           int     `json:"topK"`
	Threshold      float64 `json:"threshold"`
	Expansion      int     `json:"expansion"`
	Hybrid         bool    `json:"hybrid"`
	Rerank         bool    `json:"rerank"`
}

type sourceResponse struct {
	Label      int       `json:"label"`
	ChunkID    uuid.UUID `json:"chunkId"`
	DocumentID uuid.UUID `json:"documentId"`
	Content    string    `json:"content"`
	Similarity float64   `json:"similarity"`
}

type queryResponse struct {
	Answer         string           `json:"answer"`
	Sources        []sourceResponse `json:"sources"`
	ConversationID string           `json:"conversationId,omitempty"`
}

type contentPayload struct {
	Text string `json:"text"`
}

type statusPayload struct {
	Stage string `json:"stage"`
}

type donePayload struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversationId,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *queryHandler) parseInput(w http.ResponseWriter, r *http.Request) (answer.Input, bool) {
	var req queryRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxQueryBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return answer.Input{}, false
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "query is required", h.logger)
		return answer.Input{}, false
	}

	in := answer.Input{Query: req.Query, Owner: req.OwnerID}
	in.Retrieval = append(in.Retrieval, h.retrieval...)

	if req.ConversationID != "" {
		convID, err := uuid.Parse(req.ConversationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_conversation_id", "invalid conversation ID", h.logger)
			return answer.Input{}, false
		}
		in.ConversationID = convID
	}
	if req.DocumentID != "" {
		docID, err := uuid.Parse(req.DocumentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_document_id", "invalid document ID", h.logger)
			return answer.Input{}, false
		}
		in.Retrieval = append(in.Retrieval, retriever.WithDocument(docID))
	}
	if req.TopK > 0 {
		in.Retrieval = append(in.Retrieval, retriever.WithTopK(req.TopK))
	}
	if req.Threshold > 0 {
		in.Retrieval = append(in.Retrieval, retriever.WithThreshold(req.Threshold))
	}
	if req.Expansion > 0 {
		in.Retrieval = append(in.Retrieval, retriever.WithExpansion(req.Expansion))
	}
	if req.Hybrid {
		in.Retrieval = append(in.Retrieval, retriever.WithHybrid(0, 0))
	}
	if req.Rerank {
		in.Retrieval = append(in.Retrieval, retriever.WithRerank())
	}
	return in, true
}

func toSourceResponses(sources []answer.Source) []sourceResponse {
	out := make([]sourceResponse, len(sources))
	for i, src := range sources {
		out[i] = sourceResponse{
			Label:      src.Label,
			ChunkID:    src.ChunkID,
			DocumentID: src.DocumentID,
			Content:    src.Content,
			Similarity: src.Similarity,
		}
	}
	return out
}

func conversationIDString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

// ask handles POST /api/v1/query.
func (h *queryHandler) ask(w http.ResponseWriter, r *http.Request) {
	in, ok := h.parseInput(w, r)
	if !ok {
		return
	}

	out, err := h.answer.Answer(r.Context(), in)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Answer:         out.Text,
		Sources:        toSourceResponses(out.Sources),
		ConversationID: conversationIDString(out.ConversationID),
	}, h.logger)
}

// stream handles POST /api/v1/query/stream via Server-Sent Events.
// Status events mark stage transitions, content chunks stream as they
// arrive, sources follow once generation finishes, and a done event
// closes the exchange.
func (h *queryHandler) stream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	in, ok := h.parseInput(w, r)
	if !ok {
		return
	}

	ctx := r.Context()

	if err := writeEvent(w, flusher, eventStatus, statusPayload{Stage: stageRetrieving}); err != nil {
		return
	}

	generating := false
	out, err := h.answer.Stream(ctx, in, func(cbCtx context.Context, chunk string) error {
		select {
		case <-cbCtx.Done():
			return cbCtx.Err()
		default:
		}
		if !generating {
			generating = true
			if err := writeEvent(w, flusher, eventStatus, statusPayload{Stage: stageGenerating}); err != nil {
				return err
			}
		}
		return writeEvent(w, flusher, eventContent, contentPayload{Text: chunk})
	})
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Info("client disconnected during stream")
			return
		}
		h.streamError(w, flusher, err)
		return
	}

	if len(out.Sources) > 0 {
		_ = writeEvent(w, flusher, eventSources, toSourceResponses(out.Sources))
	}
	_ = writeEvent(w, flusher, eventDone, donePayload{
		Answer:         out.Text,
		ConversationID: conversationIDString(out.ConversationID),
	})
}

// streamError maps pipeline errors to SSE error events.
func (h *queryHandler) streamError(w io.Writer, f http.Flusher, err error) {
	code := "stream_error"
	switch {
	case errors.Is(err, answer.ErrGeneration):
		code = "generation_failed"
	case errors.Is(err, conversation.ErrNotFound):
		code = "conversation_not_found"
	case errors.Is(err, conversation.ErrForbidden):
		code = "forbidden"
	}

	h.logger.Warn("stream failed", "error", err)
	_ = writeEvent(w, f, eventError, errorPayload{Code: code, Message: err.Error()})
}

// writeEvent writes a single SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n"
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
