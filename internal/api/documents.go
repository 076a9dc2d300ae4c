package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/corvid-labs/corvus/internal/ingest"
	"github.com/corvid-labs/corvus/internal/vecstore"
)

// maxUploadBytes bounds the JSON body of a document upload. Base64 inflates
// content by a third, so this allows roughly 24MB of raw document.
const maxUploadBytes = 32 << 20

// documentsHandler serves the document ingestion and management endpoints.
type documentsHandler struct {
	ingest *ingest.Service
	store  vecstore.Store
	logger *slog.Logger
}

type uploadRequest struct {
	Filename string         `json:"filename"`
	Content  string         `json:"content"` // base64
	MIMEType string         `json:"mimeType"`
	OwnerID  string         `json:"ownerId"`
	Metadata map[string]any `json:"metadata"`
}

type urlRequest struct {
	URL     string `json:"url"`
	OwnerID string `json:"ownerId"`
}

type receiptResponse struct {
	DocumentID uuid.UUID `json:"documentId"`
	Title      string    `json:"title"`
	ChunkCount int       `json:"chunkCount"`
}

type documentResponse struct {
	ID         uuid.UUID `json:"id"`
	OwnerID    string    `json:"ownerId"`
	Name       string    `json:"name"`
	Source     string    `json:"source"`
	MIMEType   string    `json:"mimeType"`
	ChunkCount int       `json:"chunkCount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func toDocumentResponse(doc *vecstore.Document) documentResponse {
	return documentResponse{
		ID:         doc.ID,
		OwnerID:    doc.Owner,
		Name:       doc.Name,
		Source:     doc.Source,
		MIMEType:   doc.MIMEType,
		ChunkCount: doc.ChunkCount,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}

// upload handles POST /api/v1/documents.
func (h *documentsHandler) upload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large", h.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if req.Filename == "" {
		writeError(w, http.StatusBadRequest, "missing_filename", "filename is required", h.logger)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_content", "content must be base64 encoded", h.logger)
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty_content", "content is required", h.logger)
		return
	}

	receipt, err := h.ingest.Ingest(r.Context(), ingest.Request{
		Data:     data,
		MIMEType: req.MIMEType,
		Owner:    req.OwnerID,
		Filename: req.Filename,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, receiptResponse{
		DocumentID: receipt.DocumentID,
		Title:      receipt.Title,
		ChunkCount: receipt.ChunkCount,
	}, h.logger)
}

// uploadURL handles POST /api/v1/documents/url.
func (h *documentsHandler) uploadURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "missing_url", "url is required", h.logger)
		return
	}

	receipt, err := h.ingest.IngestURL(r.Context(), req.URL, req.OwnerID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, receiptResponse{
		DocumentID: receipt.DocumentID,
		Title:      receipt.Title,
		ChunkCount: receipt.ChunkCount,
	}, h.logger)
}

// list handles GET /api/v1/documents.
func (h *documentsHandler) list(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("ownerId")

	docs, err := h.store.ListDocuments(r.Context(), owner)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	items := make([]documentResponse, len(docs))
	for i := range docs {
		items[i] = toDocumentResponse(&docs[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": items,
		"count":     len(items),
	}, h.logger)
}

// get handles GET /api/v1/documents/{id}.
func (h *documentsHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid document ID", h.logger)
		return
	}

	doc, err := h.store.GetDocument(r.Context(), id, r.URL.Query().Get("ownerId"))
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc), h.logger)
}

// remove handles DELETE /api/v1/documents/{id}.
func (h *documentsHandler) remove(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid document ID", h.logger)
		return
	}

	if err := h.ingest.Delete(r.Context(), id, r.URL.Query().Get("ownerId")); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, h.logger)
}
