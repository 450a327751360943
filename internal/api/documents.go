// Package api provides the HTTP surface for document ingestion and
// retrieval.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docstream/docstream/internal/blobstore"
	"github.com/docstream/docstream/internal/observability"
	"github.com/docstream/docstream/internal/storage"
)

// Summarizer regenerates summaries on demand for already-extracted text.
type Summarizer interface {
	Summarize(ctx context.Context, text, customPrompt string) (string, error)
}

// DocumentHandler handles document upload, listing, and summary
// regeneration requests.
type DocumentHandler struct {
	logger         *observability.Logger
	repo           *storage.DocumentRepository
	store          blobstore.Store
	summarizer     Summarizer
	maxUploadBytes int64
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(logger *observability.Logger, repo *storage.DocumentRepository, store blobstore.Store, summarizer Summarizer, maxUploadBytes int64) *DocumentHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 << 20
	}
	return &DocumentHandler{
		logger:         logger.WithComponent("api"),
		repo:           repo,
		store:          store,
		summarizer:     summarizer,
		maxUploadBytes: maxUploadBytes,
	}
}

// DocumentDTO is the API representation of a document. Extracted text is
// only present on single-document responses.
type DocumentDTO struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	Status           string    `json:"status"`
	Summary          *string   `json:"summary"`
	ExtractedText    *string   `json:"extracted_text,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RegenerateSummaryRequest is the body of a summary regeneration call.
type RegenerateSummaryRequest struct {
	CustomPrompt string `json:"custom_prompt"`
}

// Upload handles POST /api/documents. The multipart "file" part must be a
// PDF; the optional "is_transcript" field is stored as blob metadata.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "file is required", err.Error())
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "pdf") {
		h.writeError(w, http.StatusBadRequest, "only PDF files are supported", fmt.Sprintf("got content type %q", contentType))
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read file", err.Error())
		return
	}

	isTranscript := r.FormValue("is_transcript") == "true"

	// The stored key is a fresh UUID, not the client filename, so two
	// uploads of the same file never collide in the object store.
	key := uuid.New().String() + ".pdf"

	result, err := h.store.Upload(ctx, key, content, contentType, map[string]string{
		"originalFilename": header.Filename,
		"isTranscript":     fmt.Sprintf("%t", isTranscript),
	})
	if err != nil {
		h.logger.Error().Err(err).Str("key", key).Msg("Blob upload failed")
		h.writeError(w, http.StatusInternalServerError, "upload failed", "")
		return
	}

	var fingerprint *string
	if result.Fingerprint != "" {
		fingerprint = &result.Fingerprint
	}
	doc := &storage.Document{
		Filename:         key,
		OriginalFilename: header.Filename,
		BlobURL:          result.URL,
		ContentType:      contentType,
		Fingerprint:      fingerprint,
	}
	if err := h.repo.Create(ctx, doc); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			h.writeError(w, http.StatusConflict, "document already exists", "")
			return
		}
		h.logger.Error().Err(err).Str("key", key).Msg("Failed to create document record")
		h.writeError(w, http.StatusInternalServerError, "failed to create document", "")
		return
	}

	h.logger.Info().Str("document_id", doc.ID.String()).Str("filename", header.Filename).Msg("Document uploaded")
	h.writeJSON(w, http.StatusCreated, toDTO(doc, false))
}

// List handles GET /api/documents, newest first.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.repo.ListAll(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list documents")
		h.writeError(w, http.StatusInternalServerError, "failed to list documents", "")
		return
	}

	dtos := make([]DocumentDTO, 0, len(docs))
	for _, doc := range docs {
		dtos = append(dtos, toDTO(doc, false))
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// Get handles GET /api/documents/{id}.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid document id", err.Error())
		return
	}

	doc, err := h.repo.GetByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "document not found", "")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", id.String()).Msg("Failed to get document")
		h.writeError(w, http.StatusInternalServerError, "failed to get document", "")
		return
	}

	h.writeJSON(w, http.StatusOK, toDTO(doc, true))
}

// RegenerateSummary handles POST /api/documents/{id}/regenerate-summary.
// The document must already have extracted text; nothing is mutated when
// it does not.
func (h *DocumentHandler) RegenerateSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid document id", err.Error())
		return
	}

	req := RegenerateSummaryRequest{}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}

	doc, err := h.repo.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "document not found", "")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", id.String()).Msg("Failed to get document")
		h.writeError(w, http.StatusInternalServerError, "failed to get document", "")
		return
	}

	if doc.ExtractedText == nil || *doc.ExtractedText == "" {
		h.writeError(w, http.StatusBadRequest, "document has no extracted text yet", "")
		return
	}

	summary, err := h.summarizer.Summarize(ctx, *doc.ExtractedText, req.CustomPrompt)
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", id.String()).Msg("Summary regeneration failed")
		h.writeError(w, http.StatusInternalServerError, "failed to regenerate summary", "")
		return
	}

	doc, err = h.repo.SetSummary(ctx, id, summary)
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", id.String()).Msg("Failed to store regenerated summary")
		h.writeError(w, http.StatusInternalServerError, "failed to store summary", "")
		return
	}

	h.logger.Info().Str("document_id", id.String()).Msg("Summary regenerated")
	h.writeJSON(w, http.StatusOK, toDTO(doc, false))
}

func toDTO(doc *storage.Document, includeText bool) DocumentDTO {
	dto := DocumentDTO{
		ID:               doc.ID.String(),
		OriginalFilename: doc.OriginalFilename,
		Status:           string(doc.Status),
		Summary:          doc.Summary,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	if includeText {
		dto.ExtractedText = doc.ExtractedText
	}
	return dto
}

func (h *DocumentHandler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *DocumentHandler) writeError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	json.NewEncoder(w).Encode(resp)
}
