package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/alexmaze/aimemos/internal/apperr"
	"github.com/alexmaze/aimemos/internal/auth"
	"github.com/alexmaze/aimemos/internal/chat"
	"github.com/alexmaze/aimemos/internal/models"
	"github.com/alexmaze/aimemos/internal/sse"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type ChatHandler struct {
	repo     *chat.Repo
	pipeline *chat.Pipeline
}

func NewChatHandler(repo *chat.Repo, pipeline *chat.Pipeline) *ChatHandler {
	return &ChatHandler{repo: repo, pipeline: pipeline}
}

type createSessionRequest struct {
	Title           string     `json:"title"`
	KnowledgeBaseID *uuid.UUID `json:"knowledge_base_id"`
}

func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}

	session, err := h.repo.CreateSession(r.Context(), userID, req.Title, req.KnowledgeBaseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	skip, limit := pagination(r)

	sessions, err := h.repo.ListSessions(r.Context(), userID, skip, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid session id"))
		return
	}

	session, err := h.repo.GetSession(r.Context(), userID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type updateSessionRequest struct {
	Title           *string    `json:"title"`
	KnowledgeBaseID *uuid.UUID `json:"knowledge_base_id"`
}

func (h *ChatHandler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid session id"))
		return
	}

	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}

	session, err := h.repo.UpdateSession(r.Context(), userID, sessionID, req.Title, req.KnowledgeBaseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *ChatHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid session id"))
		return
	}

	if err := h.repo.DeleteSession(r.Context(), userID, sessionID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid session id"))
		return
	}

	if _, err := h.repo.GetSession(r.Context(), userID, sessionID); err != nil {
		writeError(w, err)
		return
	}

	skip, limit := pagination(r)
	messages, err := h.repo.ListMessages(r.Context(), sessionID, skip, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type postMessageRequest struct {
	Content string `json:"content"`
}

// PostMessage runs the chat pipeline and streams its StreamEvents as
// Server-Sent Events per §4.10.
func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid session id"))
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}
	if req.Content == "" {
		writeError(w, apperr.New(apperr.KindValidation, "content required"))
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindStore, "streaming not supported", err))
		return
	}

	emit := func(ev models.StreamEvent) error {
		return writer.Write(ev)
	}

	if err := h.pipeline.Send(r.Context(), userID, sessionID, req.Content, emit); err != nil {
		_ = emit(models.ErrorEvent(err.Error(), nil))
	}
}

func pagination(r *http.Request) (skip, limit int) {
	skip, _ = strconv.Atoi(r.URL.Query().Get("skip"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	return skip, limit
}
