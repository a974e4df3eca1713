package handlers

import (
	"net/http"

	"github.com/alexmaze/aimemos/internal/apperr"
	"github.com/alexmaze/aimemos/internal/auth"
	"github.com/alexmaze/aimemos/internal/document"
	"github.com/alexmaze/aimemos/internal/indexing"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// IndexingHandler exposes the outer CRUD layer's notification hooks into
// the coordinator, plus operational endpoints for the timeout sweep.
// The document create/update/delete HTTP surface itself is out of scope
// (§1); this only wires the two calls that layer would make.
type IndexingHandler struct {
	docs        *document.Repo
	coordinator *indexing.Coordinator
}

func NewIndexingHandler(docs *document.Repo, coordinator *indexing.Coordinator) *IndexingHandler {
	return &IndexingHandler{docs: docs, coordinator: coordinator}
}

func (h *IndexingHandler) NotifyCreated(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	docID, err := uuid.Parse(chi.URLParam(r, "doc_id"))
	if err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid document id"))
		return
	}

	doc, err := h.docs.Get(r.Context(), userID, docID)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.coordinator.OnDocumentCreated(r.Context(), userID, doc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "submitted"})
}

func (h *IndexingHandler) NotifyUpdated(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	docID, err := uuid.Parse(chi.URLParam(r, "doc_id"))
	if err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid document id"))
		return
	}

	doc, err := h.docs.Get(r.Context(), userID, docID)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.coordinator.OnDocumentUpdated(r.Context(), userID, doc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "submitted"})
}

func (h *IndexingHandler) ActiveTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"active_tasks": h.coordinator.ActiveTaskCount()})
}

func (h *IndexingHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	count, err := h.coordinator.CheckTimeoutTasks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"timed_out": count})
}
