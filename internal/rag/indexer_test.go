package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/alexmaze/aimemos/internal/apperr"
	"github.com/alexmaze/aimemos/internal/models"
	"github.com/alexmaze/aimemos/internal/vectorstore"
	"github.com/alexmaze/aimemos/pkg/chunker"
	"github.com/google/uuid"
)

type fakeStore struct {
	deleteCalls     int
	deletesAtInsert int // deleteCalls observed when Insert was first called
	deleteErr       error
	insertErr       error
	inserted        []vectorstore.Record
}

func (f *fakeStore) EnsureCollection(ctx context.Context) error { return nil }

func (f *fakeStore) Insert(ctx context.Context, records []vectorstore.Record) error {
	if f.inserted == nil {
		f.deletesAtInsert = f.deleteCalls
	}
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, records...)
	return nil
}

func (f *fakeStore) Search(ctx context.Context, query []float32, topK int, filter vectorstore.SearchFilter) ([]vectorstore.SearchResult, error) {
	return nil, nil
}

func (f *fakeStore) Delete(ctx context.Context, filter vectorstore.SearchFilter) (int64, error) {
	f.deleteCalls++
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return 0, nil
}

type fakeEmbedder struct {
	dim    int
	err    error
	calls  int
	inputs [][]string
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.inputs = append(f.inputs, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func newDoc(content string) *models.Document {
	return &models.Document{
		ID:      uuid.New(),
		UserID:  uuid.New(),
		KBID:    uuid.New(),
		Name:    "doc.md",
		Content: content,
		Kind:    models.DocKindNote,
	}
}

func TestReindex_DeletesBeforeInserting(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	embedder := &fakeEmbedder{dim: 4}
	idx := NewIndexer(store, embedder, chunker.New())

	doc := newDoc("first paragraph of content.\n\nsecond paragraph of content.")
	n, err := idx.Reindex(context.Background(), doc.UserID, doc, chunker.DefaultOptions())
	if err != nil {
		t.Fatalf("Reindex returned error: %v", err)
	}
	if store.deleteCalls != 1 {
		t.Fatalf("delete calls = %d, want 1", store.deleteCalls)
	}
	if store.deletesAtInsert != 1 {
		t.Fatalf("delete calls before first insert = %d, want 1", store.deletesAtInsert)
	}
	if n == 0 || len(store.inserted) != n {
		t.Fatalf("inserted %d records, Reindex reported %d", len(store.inserted), n)
	}
}

func TestReindex_EmptyContentSkipsEmbedAndInsert(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	embedder := &fakeEmbedder{dim: 4}
	idx := NewIndexer(store, embedder, chunker.New())

	doc := newDoc("   \n\n  ")
	n, err := idx.Reindex(context.Background(), doc.UserID, doc, chunker.DefaultOptions())
	if err != nil {
		t.Fatalf("Reindex returned error: %v", err)
	}
	if n != 0 {
		t.Fatalf("chunk count = %d, want 0", n)
	}
	if embedder.calls != 0 {
		t.Fatalf("embedder called %d times, want 0", embedder.calls)
	}
	if len(store.inserted) != 0 {
		t.Fatalf("inserted %d records, want 0", len(store.inserted))
	}
}

func TestReindex_EmbedFailureIsWrappedAsIndexError(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	embedder := &fakeEmbedder{err: errors.New("upstream down")}
	idx := NewIndexer(store, embedder, chunker.New())

	doc := newDoc("some content that needs a chunk")
	_, err := idx.Reindex(context.Background(), doc.UserID, doc, chunker.DefaultOptions())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !apperr.Is(err, apperr.KindIndex) {
		t.Fatalf("error kind = %v, want IndexError: %v", err, err)
	}
}

func TestReindex_RecordsCarryDocumentMetadata(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	embedder := &fakeEmbedder{dim: 3}
	idx := NewIndexer(store, embedder, chunker.New())

	doc := newDoc("content with enough text to form exactly one chunk")
	if _, err := idx.Reindex(context.Background(), doc.UserID, doc, chunker.DefaultOptions()); err != nil {
		t.Fatalf("Reindex returned error: %v", err)
	}

	if len(store.inserted) != 1 {
		t.Fatalf("inserted %d records, want 1", len(store.inserted))
	}
	rec := store.inserted[0]
	if rec.Metadata.DocID != doc.ID || rec.Metadata.KBID != doc.KBID || rec.Metadata.UserID != doc.UserID {
		t.Fatalf("record metadata = %+v, want ids matching doc %+v", rec.Metadata, doc)
	}
	if rec.Source != doc.Name {
		t.Fatalf("Source = %q, want %q", rec.Source, doc.Name)
	}
}
