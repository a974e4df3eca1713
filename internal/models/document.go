package models

import (
	"time"

	"github.com/google/uuid"
)

// DocKind mirrors the source content types a document can hold. Only
// note and uploaded are indexable; folder rows never carry content.
type DocKind string

const (
	DocKindNote     DocKind = "note"
	DocKindUploaded DocKind = "uploaded"
	DocKindFolder   DocKind = "folder"
)

// IndexStatus is the literal status vocabulary persisted on a Document row.
type IndexStatus string

const (
	IndexStatusPending  IndexStatus = "pending"
	IndexStatusIndexing IndexStatus = "indexing"
	IndexStatusComplete IndexStatus = "completed"
	IndexStatusFailed   IndexStatus = "failed"
	IndexStatusTimeout  IndexStatus = "timeout"
)

// IndexState tracks the lifecycle of the most recent indexing submission
// for a document. Whenever Status is Indexing, TaskUUID and StartedAt are
// set; whenever Status is terminal, CompletedAt is set.
type IndexState struct {
	Status      IndexStatus
	TaskUUID    *uuid.UUID
	WorkerID    *string
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       *string
}

// Document is the subset of document metadata the indexing core reads
// and CAS-updates. Everything else about a document (title, folder
// hierarchy, raw upload path) belongs to the outer CRUD layer.
type Document struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	KBID     uuid.UUID
	FolderID *uuid.UUID
	Name     string
	Content  string
	Kind     DocKind
	Index    IndexState
}

// Indexable reports whether the document kind participates in RAG indexing.
func (d Document) Indexable() bool {
	return d.Kind == DocKindNote || d.Kind == DocKindUploaded
}
