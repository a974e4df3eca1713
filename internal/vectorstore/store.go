package vectorstore

import (
	"context"

	"github.com/google/uuid"
)

// ChunkMetadata is the structured payload stored alongside every vector
// record, used to scope search and delete without a join back to
// documents.
type ChunkMetadata struct {
	KBID       uuid.UUID `json:"kb_id"`
	DocID      uuid.UUID `json:"doc_id"`
	DocKind    string    `json:"doc_kind"`
	DocName    string    `json:"doc_name"`
	UserID     uuid.UUID `json:"user_id"`
	ChunkIndex int       `json:"chunk_index"`
}

// Record is one row of the vector collection. Pk is assigned by the
// store on Insert; content is capped at 65535 bytes to match the
// varchar column width.
type Record struct {
	Pk        int64
	Embedding []float32
	Content   string
	Source    string
	Metadata  ChunkMetadata
	CreatedAt int64 // unix milliseconds
}

type SearchFilter struct {
	UserID uuid.UUID
	DocID  *uuid.UUID
	KBID   *uuid.UUID
}

type SearchResult struct {
	Record   Record
	Distance float64
}

// VectorStore is the narrow persistence interface RAGIndexer and
// ChatPipeline's retrieval step depend on. Insert batches internally at
// 100 rows per transaction; Delete must be atomic with respect to any
// Search issued after it returns.
type VectorStore interface {
	EnsureCollection(ctx context.Context) error
	Insert(ctx context.Context, records []Record) error
	Search(ctx context.Context, query []float32, topK int, filter SearchFilter) ([]SearchResult, error)
	// Delete removes every record matching filter and returns the count
	// deleted. Atomic with respect to any Search issued after it returns.
	Delete(ctx context.Context, filter SearchFilter) (int64, error)
}
