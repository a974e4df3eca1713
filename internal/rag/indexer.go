// Package rag composes the embedder, chunker, and vector store into a
// single reindex operation. It has no knowledge of task_uuids or worker
// pools — that coordination lives in internal/indexing.
package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/alexmaze/aimemos/internal/apperr"
	"github.com/alexmaze/aimemos/internal/embedding"
	"github.com/alexmaze/aimemos/internal/models"
	"github.com/alexmaze/aimemos/internal/vectorstore"
	"github.com/google/uuid"
	"github.com/alexmaze/aimemos/pkg/chunker"
)

type Indexer struct {
	store    vectorstore.VectorStore
	embedder embedding.Embedder
	chunker  chunker.Chunker
}

func NewIndexer(store vectorstore.VectorStore, embedder embedding.Embedder, c chunker.Chunker) *Indexer {
	return &Indexer{store: store, embedder: embedder, chunker: c}
}

// Reindex deletes any existing vectors for doc, re-chunks and re-embeds
// its current content, and inserts fresh records. Called repeatedly with
// identical content, it leaves the stored chunk set unchanged modulo pk.
func (idx *Indexer) Reindex(ctx context.Context, userID uuid.UUID, doc *models.Document, opts chunker.ChunkOptions) (int, error) {
	filter := vectorstore.SearchFilter{UserID: userID, DocID: &doc.ID}

	if _, err := idx.store.Delete(ctx, filter); err != nil {
		return 0, apperr.Wrap(apperr.KindIndex, "delete existing vectors", err)
	}

	chunks := idx.chunker.Chunk(doc.Content, opts)
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vecs, err := idx.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindIndex, "embed chunks", wrapModelErr(err))
	}
	if len(vecs) != len(chunks) {
		return 0, apperr.New(apperr.KindIndex, fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks)))
	}

	now := time.Now().UnixMilli()
	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Record{
			Embedding: vecs[i],
			Content:   c.Content,
			Source:    doc.Name,
			Metadata: vectorstore.ChunkMetadata{
				KBID:       doc.KBID,
				DocID:      doc.ID,
				DocKind:    string(doc.Kind),
				DocName:    doc.Name,
				UserID:     userID,
				ChunkIndex: c.Index,
			},
			CreatedAt: now,
		}
	}

	if err := idx.store.Insert(ctx, records); err != nil {
		return 0, apperr.Wrap(apperr.KindIndex, "insert vectors", err)
	}

	return len(chunks), nil
}

func wrapModelErr(err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Wrap(apperr.KindModel, "embedding backend error", err)
}
