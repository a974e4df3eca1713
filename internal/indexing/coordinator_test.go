package indexing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alexmaze/aimemos/internal/apperr"
	"github.com/alexmaze/aimemos/internal/config"
	"github.com/alexmaze/aimemos/internal/document"
	"github.com/alexmaze/aimemos/internal/models"
	"github.com/alexmaze/aimemos/internal/notify"
	"github.com/alexmaze/aimemos/internal/vectorstore"
	"github.com/alexmaze/aimemos/pkg/chunker"
	"github.com/google/uuid"
)

// fakeDocs is an in-memory document.Store used to drive the coordinator
// without a database. Equality on document.CASExpectation values (a
// comparable struct with unexported fields) is used to evaluate the CAS
// condition from outside the document package.
type fakeDocs struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*models.Document
}

func newFakeDocs(docs ...*models.Document) *fakeDocs {
	f := &fakeDocs{docs: make(map[uuid.UUID]*models.Document)}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *fakeDocs) Get(ctx context.Context, userID, docID uuid.UUID) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[docID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "document not found")
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDocs) ListTimedOutIndexing(ctx context.Context, cutoff time.Time) ([]*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Document
	for _, d := range f.docs {
		if d.Index.Status == models.IndexStatusIndexing && d.Index.StartedAt != nil && d.Index.StartedAt.Before(cutoff) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeDocs) CompareAndSetIndexState(ctx context.Context, userID, docID uuid.UUID, expected document.CASExpectation, newState models.IndexState) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.docs[docID]
	if !ok {
		return false, nil
	}

	if expected != document.CASAny() {
		var current uuid.UUID
		if d.Index.TaskUUID != nil {
			current = *d.Index.TaskUUID
		}
		if expected != document.CASExact(current) {
			return false, nil
		}
	}

	d.Index = newState
	return true, nil
}

func (f *fakeDocs) status(docID uuid.UUID) models.IndexStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[docID].Index.Status
}

// fakeVectors is a no-op VectorStore that records Delete calls and counts
// inserted records.
type fakeVectors struct {
	mu           sync.Mutex
	deleteCalls  []vectorstore.SearchFilter
	insertedRecs int
}

func (v *fakeVectors) EnsureCollection(ctx context.Context) error { return nil }

func (v *fakeVectors) Insert(ctx context.Context, records []vectorstore.Record) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.insertedRecs += len(records)
	return nil
}

func (v *fakeVectors) Search(ctx context.Context, query []float32, topK int, filter vectorstore.SearchFilter) ([]vectorstore.SearchResult, error) {
	return nil, nil
}

func (v *fakeVectors) Delete(ctx context.Context, filter vectorstore.SearchFilter) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deleteCalls = append(v.deleteCalls, filter)
	return 0, nil
}

// fakeReindexer lets tests control exactly when Reindex returns, to drive
// the coordinator's supersession window deterministically.
type fakeReindexer struct {
	mu       sync.Mutex
	gate     chan struct{} // closed to release a blocked call; nil means no blocking
	calls    int
	err      error
	chunkQty int
}

func (r *fakeReindexer) Reindex(ctx context.Context, userID uuid.UUID, doc *models.Document, opts chunker.ChunkOptions) (int, error) {
	r.mu.Lock()
	r.calls++
	gate := r.gate
	err := r.err
	n := r.chunkQty
	r.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return n, err
}

func noopDispatcher() *notify.Dispatcher {
	return notify.NewDispatcher(nil, config.WebhookConfig{})
}

func newDoc(kind models.DocKind) *models.Document {
	return &models.Document{
		ID:      uuid.New(),
		UserID:  uuid.New(),
		KBID:    uuid.New(),
		Name:    "doc",
		Content: "content",
		Kind:    kind,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestOnDocumentCreated_NonIndexableIsNoOp(t *testing.T) {
	t.Parallel()

	doc := newDoc(models.DocKindFolder)
	docs := newFakeDocs(doc)
	c := NewCoordinator(docs, &fakeVectors{}, &fakeReindexer{}, noopDispatcher(), 1, time.Minute, chunker.DefaultOptions())
	defer c.Close()

	if err := c.OnDocumentCreated(context.Background(), doc.UserID, doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if docs.status(doc.ID) != "" {
		t.Fatalf("status = %q, want unset (no submission)", docs.status(doc.ID))
	}
}

func TestOnDocumentCreated_RunsToCompletion(t *testing.T) {
	t.Parallel()

	doc := newDoc(models.DocKindNote)
	docs := newFakeDocs(doc)
	rex := &fakeReindexer{chunkQty: 3}
	c := NewCoordinator(docs, &fakeVectors{}, rex, noopDispatcher(), 2, time.Minute, chunker.DefaultOptions())
	defer c.Close()

	if err := c.OnDocumentCreated(context.Background(), doc.UserID, doc); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return docs.status(doc.ID) == models.IndexStatusComplete
	})
}

func TestOnDocumentCreated_FailureRecordsError(t *testing.T) {
	t.Parallel()

	doc := newDoc(models.DocKindNote)
	docs := newFakeDocs(doc)
	rex := &fakeReindexer{err: context.DeadlineExceeded}
	c := NewCoordinator(docs, &fakeVectors{}, rex, noopDispatcher(), 1, time.Minute, chunker.DefaultOptions())
	defer c.Close()

	if err := c.OnDocumentCreated(context.Background(), doc.UserID, doc); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return docs.status(doc.ID) == models.IndexStatusFailed
	})
}

// TestSupersededTaskDoesNotOverwrite drives the S3/S4-style race directly:
// a slow first task is superseded by a second submission before it
// finishes, and its late completion must not clobber the newer state.
func TestSupersededTaskDoesNotOverwrite(t *testing.T) {
	t.Parallel()

	doc := newDoc(models.DocKindNote)
	docs := newFakeDocs(doc)

	gate := make(chan struct{})
	rex := &fakeReindexer{gate: gate, chunkQty: 1}
	c := NewCoordinator(docs, &fakeVectors{}, rex, noopDispatcher(), 1, time.Minute, chunker.DefaultOptions())
	defer c.Close()

	if err := c.OnDocumentCreated(context.Background(), doc.UserID, doc); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return rex.calls >= 1 })

	updated, _ := docs.Get(context.Background(), doc.UserID, doc.ID)
	if err := c.OnDocumentUpdated(context.Background(), doc.UserID, updated); err != nil {
		t.Fatalf("second submit failed: %v", err)
	}

	secondTaskUUID := docs.docs[doc.ID].Index.TaskUUID
	close(gate) // release the first (stale) worker

	waitFor(t, time.Second, func() bool {
		return docs.status(doc.ID) == models.IndexStatusComplete
	})

	final, _ := docs.Get(context.Background(), doc.UserID, doc.ID)
	if final.Index.TaskUUID == nil || *final.Index.TaskUUID != *secondTaskUUID {
		t.Fatalf("final task_uuid = %v, want the second submission's %v", final.Index.TaskUUID, secondTaskUUID)
	}
}

func TestOnDocumentDeleted_DeletesSynchronously(t *testing.T) {
	t.Parallel()

	doc := newDoc(models.DocKindNote)
	docs := newFakeDocs(doc)
	vectors := &fakeVectors{}
	c := NewCoordinator(docs, vectors, &fakeReindexer{}, noopDispatcher(), 1, time.Minute, chunker.DefaultOptions())
	defer c.Close()

	if err := c.OnDocumentDeleted(context.Background(), doc.UserID, doc.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if len(vectors.deleteCalls) != 1 {
		t.Fatalf("delete calls = %d, want 1", len(vectors.deleteCalls))
	}
	if vectors.deleteCalls[0].DocID == nil || *vectors.deleteCalls[0].DocID != doc.ID {
		t.Fatalf("delete filter DocID = %v, want %v", vectors.deleteCalls[0].DocID, doc.ID)
	}
}

func TestCheckTimeoutTasks_ReclaimsStaleIndexing(t *testing.T) {
	t.Parallel()

	stuckUUID := uuid.New()
	started := time.Now().Add(-time.Hour)
	doc := newDoc(models.DocKindNote)
	doc.Index = models.IndexState{Status: models.IndexStatusIndexing, TaskUUID: &stuckUUID, StartedAt: &started}
	docs := newFakeDocs(doc)

	c := NewCoordinator(docs, &fakeVectors{}, &fakeReindexer{}, noopDispatcher(), 1, time.Minute, chunker.DefaultOptions())
	defer c.Close()

	n, err := c.CheckTimeoutTasks(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed = %d, want 1", n)
	}
	if docs.status(doc.ID) != models.IndexStatusTimeout {
		t.Fatalf("status = %q, want timeout", docs.status(doc.ID))
	}
}

func TestCheckTimeoutTasks_IgnoresFreshIndexing(t *testing.T) {
	t.Parallel()

	fresh := uuid.New()
	started := time.Now()
	doc := newDoc(models.DocKindNote)
	doc.Index = models.IndexState{Status: models.IndexStatusIndexing, TaskUUID: &fresh, StartedAt: &started}
	docs := newFakeDocs(doc)

	c := NewCoordinator(docs, &fakeVectors{}, &fakeReindexer{}, noopDispatcher(), 1, time.Minute, chunker.DefaultOptions())
	defer c.Close()

	n, err := c.CheckTimeoutTasks(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("reclaimed = %d, want 0", n)
	}
}

func TestActiveTaskCount_ReturnsToZeroAfterCompletion(t *testing.T) {
	t.Parallel()

	doc := newDoc(models.DocKindNote)
	docs := newFakeDocs(doc)
	c := NewCoordinator(docs, &fakeVectors{}, &fakeReindexer{}, noopDispatcher(), 1, time.Minute, chunker.DefaultOptions())
	defer c.Close()

	if err := c.OnDocumentCreated(context.Background(), doc.UserID, doc); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return c.ActiveTaskCount() == 0 && docs.status(doc.ID) == models.IndexStatusComplete })
}

func TestDisable_StopsAcceptingNewSubmissions(t *testing.T) {
	t.Parallel()

	doc := newDoc(models.DocKindNote)
	docs := newFakeDocs(doc)
	c := NewCoordinator(docs, &fakeVectors{}, &fakeReindexer{}, noopDispatcher(), 1, time.Minute, chunker.DefaultOptions())
	defer c.Close()

	c.Disable()
	if err := c.OnDocumentCreated(context.Background(), doc.UserID, doc); err != nil {
		t.Fatalf("unexpected error while disabled: %v", err)
	}
	if docs.status(doc.ID) != "" {
		t.Fatalf("status = %q, want unset while disabled", docs.status(doc.ID))
	}
}
