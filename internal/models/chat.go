package models

import (
	"time"

	"github.com/google/uuid"
)

type ChatSession struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Title     string
	KBID      *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type ContentType string

const (
	ContentTypeContent  ContentType = "content"
	ContentTypeThinking ContentType = "thinking"
)

// RAGSource is one retrieval hit cited by an assistant message.
type RAGSource struct {
	DocName string  `json:"doc_name"`
	DocID   string  `json:"doc_id"`
	Score   float64 `json:"score"`
}

type ChatMessage struct {
	ID          uuid.UUID
	SessionID   uuid.UUID
	Role        MessageRole
	Content     string
	ContentType ContentType
	RAGContext  *string
	RAGSources  []RAGSource
	CreatedAt   time.Time
}
