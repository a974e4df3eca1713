// Package chat implements session/message persistence (ChatRepo) and the
// RAG chat pipeline (ChatPipeline) that orchestrates retrieval, prompt
// assembly, and streaming generation.
package chat

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/alexmaze/aimemos/internal/apperr"
	"github.com/alexmaze/aimemos/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{db: db}
}

var _ SessionStore = (*Repo)(nil)

func (r *Repo) CreateSession(ctx context.Context, userID uuid.UUID, title string, kbID *uuid.UUID) (*models.ChatSession, error) {
	if title == "" {
		title = "New chat"
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO chat_sessions (user_id, title, kb_id)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, title, kb_id, created_at, updated_at`,
		userID, title, kbID,
	)

	return scanSession(row)
}

func (r *Repo) ListSessions(ctx context.Context, userID uuid.UUID, skip, limit int) ([]*models.ChatSession, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, title, kb_id, created_at, updated_at
		FROM chat_sessions WHERE user_id = $1
		ORDER BY updated_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, skip,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "list sessions", err)
	}
	defer rows.Close()

	var sessions []*models.ChatSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStore, "scan session", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *Repo) GetSession(ctx context.Context, userID, sessionID uuid.UUID) (*models.ChatSession, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, title, kb_id, created_at, updated_at
		FROM chat_sessions WHERE user_id = $1 AND id = $2`,
		userID, sessionID,
	)

	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "chat session not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "get session", err)
	}
	return s, nil
}

func (r *Repo) UpdateSession(ctx context.Context, userID, sessionID uuid.UUID, title *string, kbID *uuid.UUID) (*models.ChatSession, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE chat_sessions SET
			title = COALESCE($3, title),
			kb_id = COALESCE($4, kb_id),
			updated_at = now()
		WHERE user_id = $1 AND id = $2
		RETURNING id, user_id, title, kb_id, created_at, updated_at`,
		userID, sessionID, title, kbID,
	)

	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "chat session not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "update session", err)
	}
	return s, nil
}

// DeleteSession removes a session; chat_messages cascades via the
// foreign key so no separate message delete is needed.
func (r *Repo) DeleteSession(ctx context.Context, userID, sessionID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM chat_sessions WHERE user_id = $1 AND id = $2", userID, sessionID)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "delete session", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "chat session not found")
	}
	return nil
}

// touchSession advances updated_at; called after every appended message.
func (r *Repo) touchSession(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.db.Exec(ctx, "UPDATE chat_sessions SET updated_at = now() WHERE id = $1", sessionID)
	return err
}

func (r *Repo) ListMessages(ctx context.Context, sessionID uuid.UUID, skip, limit int) ([]*models.ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, session_id, role, content, content_type, rag_context, rag_sources, created_at
		FROM chat_messages WHERE session_id = $1
		ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		sessionID, limit, skip,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "list messages", err)
	}
	defer rows.Close()

	var messages []*models.ChatMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStore, "scan message", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// LastMessages returns the N most recent messages of a session in
// chronological (ascending) order, forming the prior-conversation window
// ChatPipeline feeds to the LLM.
func (r *Repo) LastMessages(ctx context.Context, sessionID uuid.UUID, n int) ([]*models.ChatMessage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, session_id, role, content, content_type, rag_context, rag_sources, created_at
		FROM (
			SELECT * FROM chat_messages WHERE session_id = $1
			ORDER BY created_at DESC LIMIT $2
		) recent
		ORDER BY created_at ASC`,
		sessionID, n,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "load recent messages", err)
	}
	defer rows.Close()

	var messages []*models.ChatMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStore, "scan message", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *Repo) AppendMessage(ctx context.Context, msg *models.ChatMessage) (*models.ChatMessage, error) {
	var sourcesJSON []byte
	if msg.RAGSources != nil {
		b, err := json.Marshal(msg.RAGSources)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStore, "marshal rag sources", err)
		}
		sourcesJSON = b
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO chat_messages (session_id, role, content, content_type, rag_context, rag_sources)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, session_id, role, content, content_type, rag_context, rag_sources, created_at`,
		msg.SessionID, msg.Role, msg.Content, msg.ContentType, msg.RAGContext, sourcesJSON,
	)

	saved, err := scanMessage(row)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "append message", err)
	}

	if err := r.touchSession(ctx, msg.SessionID); err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "touch session", err)
	}

	return saved, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.ChatSession, error) {
	var s models.ChatSession
	var kbID *uuid.UUID
	if err := row.Scan(&s.ID, &s.UserID, &s.Title, &kbID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.KBID = kbID
	return &s, nil
}

func scanMessage(row rowScanner) (*models.ChatMessage, error) {
	var m models.ChatMessage
	var ragContext *string
	var sourcesJSON []byte

	if err := row.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.ContentType, &ragContext, &sourcesJSON, &m.CreatedAt); err != nil {
		return nil, err
	}

	m.RAGContext = ragContext
	if len(sourcesJSON) > 0 {
		if err := json.Unmarshal(sourcesJSON, &m.RAGSources); err != nil {
			return nil, err
		}
	}
	return &m, nil
}
