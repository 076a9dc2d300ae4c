package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/corvid-labs/corvus/internal/conversation"
)

// conversationsHandler serves conversation history endpoints.
type conversationsHandler struct {
	store  *conversation.Store
	logger *slog.Logger
}

type conversationResponse struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type messageResponse struct {
	ID        uuid.UUID                `json:"id"`
	Role      string                   `json:"role"`
	Content   string                   `json:"content"`
	Sources   []conversation.SourceRef `json:"sources,omitempty"`
	CreatedAt time.Time                `json:"createdAt"`
}

func toConversationResponse(conv *conversation.Conversation) conversationResponse {
	return conversationResponse{
		ID:        conv.ID,
		OwnerID:   conv.Owner,
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
}

func (h *conversationsHandler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid conversation ID", h.logger)
		return uuid.Nil, false
	}
	return id, true
}

// list handles GET /api/v1/conversations.
func (h *conversationsHandler) list(w http.ResponseWriter, r *http.Request) {
	convs, err := h.store.List(r.Context(), r.URL.Query().Get("ownerId"))
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	items := make([]conversationResponse, len(convs))
	for i := range convs {
		items[i] = toConversationResponse(&convs[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": items,
		"count":         len(items),
	}, h.logger)
}

// get handles GET /api/v1/conversations/{id}.
func (h *conversationsHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	conv, err := h.store.Get(r.Context(), id, r.URL.Query().Get("ownerId"))
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(conv), h.logger)
}

// messages handles GET /api/v1/conversations/{id}/messages.
func (h *conversationsHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	// Ownership is enforced before touching messages.
	if _, err := h.store.Get(r.Context(), id, r.URL.Query().Get("ownerId")); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer", h.logger)
			return
		}
		limit = n
	}

	msgs, err := h.store.Messages(r.Context(), id, limit)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	items := make([]messageResponse, len(msgs))
	for i, msg := range msgs {
		items[i] = messageResponse{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			Sources:   msg.Sources,
			CreatedAt: msg.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": items,
		"count":    len(items),
	}, h.logger)
}

// remove handles DELETE /api/v1/conversations/{id}.
func (h *conversationsHandler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id, r.URL.Query().Get("ownerId")); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, h.logger)
}
