// Package indexing implements the bounded worker pool that keeps the
// vector store consistent with a mutable document store under
// concurrent edits. It is the coordination layer above internal/rag's
// stateless reindex operation: it owns task_uuid installation, timeout
// sweeps, and the lockless supersession protocol.
package indexing

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alexmaze/aimemos/internal/apperr"
	"github.com/alexmaze/aimemos/internal/document"
	"github.com/alexmaze/aimemos/internal/models"
	"github.com/alexmaze/aimemos/internal/notify"
	"github.com/alexmaze/aimemos/internal/vectorstore"
	"github.com/alexmaze/aimemos/pkg/chunker"
	"github.com/google/uuid"
)

// admitWait bounds how long a submission blocks on a full queue before
// failing with BackpressureError.
const admitWait = 500 * time.Millisecond

type indexTask struct {
	userID   uuid.UUID
	docID    uuid.UUID
	taskUUID uuid.UUID
}

// reindexer is the slice of RAGIndexer the coordinator drives. *rag.Indexer
// is the only production implementation; tests supply fakes.
type reindexer interface {
	Reindex(ctx context.Context, userID uuid.UUID, doc *models.Document, opts chunker.ChunkOptions) (int, error)
}

// Coordinator drives RAGIndexer per document-change event through a
// fixed-size worker pool. No per-document lock is used: correctness
// under concurrent edits comes entirely from the CAS-guarded task_uuid
// protocol, per the lockless design chosen for this system.
type Coordinator struct {
	docs     document.Store
	vectors  vectorstore.VectorStore
	indexer  reindexer
	notifier *notify.Dispatcher

	maxWorkers int
	timeout    time.Duration
	chunkOpts  chunker.ChunkOptions

	queue   chan indexTask
	enabled atomic.Bool
	active  atomic.Int64
}

func NewCoordinator(
	docs document.Store,
	vectors vectorstore.VectorStore,
	indexer reindexer,
	notifier *notify.Dispatcher,
	maxWorkers int,
	timeout time.Duration,
	chunkOpts chunker.ChunkOptions,
) *Coordinator {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	c := &Coordinator{
		docs:       docs,
		vectors:    vectors,
		indexer:    indexer,
		notifier:   notifier,
		maxWorkers: maxWorkers,
		timeout:    timeout,
		chunkOpts:  chunkOpts,
		queue:      make(chan indexTask, maxWorkers*4),
	}
	c.enabled.Store(true)

	for i := 0; i < maxWorkers; i++ {
		go c.workerLoop()
	}

	return c
}

func (c *Coordinator) Enable()  { c.enabled.Store(true) }
func (c *Coordinator) Disable() { c.enabled.Store(false) }

func (c *Coordinator) ActiveTaskCount() int {
	return int(c.active.Load())
}

// OnDocumentCreated submits an index task if the document kind is
// indexable. Fire-and-forget for the caller; a full queue surfaces as
// BackpressureError.
func (c *Coordinator) OnDocumentCreated(ctx context.Context, userID uuid.UUID, doc *models.Document) error {
	if !doc.Indexable() {
		return nil
	}
	return c.submit(ctx, userID, doc.ID)
}

// OnDocumentUpdated submits a fresh index task that supersedes any
// in-flight task for the same document via the unconditional CAS below.
func (c *Coordinator) OnDocumentUpdated(ctx context.Context, userID uuid.UUID, doc *models.Document) error {
	if !doc.Indexable() {
		return nil
	}
	return c.submit(ctx, userID, doc.ID)
}

// OnDocumentDeleted synchronously removes vectors, bypassing the worker
// pool entirely. Unconditional per the S6 reference policy: any
// in-flight reindex worker that inserts after this call will observe the
// missing row on its own re-read and re-issue the delete itself.
func (c *Coordinator) OnDocumentDeleted(ctx context.Context, userID, docID uuid.UUID) error {
	_, err := c.vectors.Delete(ctx, vectorstore.SearchFilter{UserID: userID, DocID: &docID})
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "delete vectors for document", err)
	}
	return nil
}

func (c *Coordinator) submit(ctx context.Context, userID, docID uuid.UUID) error {
	if !c.enabled.Load() {
		return nil
	}

	newUUID := uuid.New()
	now := time.Now()

	ok, err := c.docs.CompareAndSetIndexState(ctx, userID, docID, document.CASAny(), models.IndexState{
		Status:    models.IndexStatusIndexing,
		TaskUUID:  &newUUID,
		StartedAt: &now,
	})
	if err != nil {
		return fmt.Errorf("install index task: %w", err)
	}
	if !ok {
		return apperr.New(apperr.KindNotFound, "document not found for index submission")
	}

	task := indexTask{userID: userID, docID: docID, taskUUID: newUUID}

	select {
	case c.queue <- task:
		c.active.Add(1)
		return nil
	case <-time.After(admitWait):
		return apperr.New(apperr.KindBackpressure, "index worker pool is at capacity")
	}
}

func (c *Coordinator) workerLoop() {
	for task := range c.queue {
		c.runTask(task)
		c.active.Add(-1)
	}
}

func (c *Coordinator) runTask(task indexTask) {
	ctx := context.Background()

	doc, err := c.docs.Get(ctx, task.userID, task.docID)
	if err != nil {
		if !apperr.Is(err, apperr.KindNotFound) {
			slog.Error("index task: read document", "error", err, "doc_id", task.docID)
		}
		return
	}

	if !currentTask(doc, task.taskUUID) {
		return // superseded by a newer submission
	}

	c.stampWorkerID(ctx, task, doc.Index)

	chunkCount, reindexErr := c.indexer.Reindex(ctx, task.userID, doc, c.chunkOpts)

	doc2, err := c.docs.Get(ctx, task.userID, task.docID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			// Deleted mid-run: on_document_deleted's delete may have run
			// before our insert landed. Re-issue it so no vectors survive.
			if _, delErr := c.vectors.Delete(ctx, vectorstore.SearchFilter{UserID: task.userID, DocID: &task.docID}); delErr != nil {
				slog.Error("index task: re-delete after missing row", "error", delErr, "doc_id", task.docID)
			}
			return
		}
		slog.Error("index task: re-read document", "error", err, "doc_id", task.docID)
		return
	}

	if !currentTask(doc2, task.taskUUID) {
		return // superseded while reindexing; do not publish completion
	}

	now := time.Now()

	if reindexErr != nil {
		msg := reindexErr.Error()
		ok, casErr := c.docs.CompareAndSetIndexState(ctx, task.userID, task.docID, document.CASExact(task.taskUUID), models.IndexState{
			Status:      models.IndexStatusFailed,
			TaskUUID:    &task.taskUUID,
			CompletedAt: &now,
			Error:       &msg,
		})
		if casErr != nil {
			slog.Error("index task: write failed state", "error", casErr, "doc_id", task.docID)
			return
		}
		if ok {
			c.notifier.Notify(notify.Event{
				Event: "index.failed", UserID: task.userID, DocID: task.docID,
				TaskUUID: task.taskUUID, Status: string(models.IndexStatusFailed), Error: msg,
			})
		}
		return
	}

	ok, casErr := c.docs.CompareAndSetIndexState(ctx, task.userID, task.docID, document.CASExact(task.taskUUID), models.IndexState{
		Status:      models.IndexStatusComplete,
		TaskUUID:    &task.taskUUID,
		CompletedAt: &now,
	})
	if casErr != nil {
		slog.Error("index task: write completed state", "error", casErr, "doc_id", task.docID)
		return
	}
	if ok {
		c.notifier.Notify(notify.Event{
			Event: "index.completed", UserID: task.userID, DocID: task.docID,
			TaskUUID: task.taskUUID, Status: string(models.IndexStatusComplete), ChunkCount: chunkCount,
		})
	}
}

// stampWorkerID records an informational worker identity on the row.
// Best-effort: failure here never aborts the index task.
func (c *Coordinator) stampWorkerID(ctx context.Context, task indexTask, current models.IndexState) {
	workerID := task.taskUUID.String()[:8]
	stamped := current
	stamped.WorkerID = &workerID
	if _, err := c.docs.CompareAndSetIndexState(ctx, task.userID, task.docID, document.CASExact(task.taskUUID), stamped); err != nil {
		slog.Debug("index task: stamp worker id failed", "error", err, "doc_id", task.docID)
	}
}

func currentTask(doc *models.Document, taskUUID uuid.UUID) bool {
	return doc.Index.TaskUUID != nil && *doc.Index.TaskUUID == taskUUID
}

// CheckTimeoutTasks sweeps rows stuck in status=indexing past the
// configured timeout and transitions them to timeout. Safe to call
// opportunistically on document reads or on a periodic schedule.
func (c *Coordinator) CheckTimeoutTasks(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-c.timeout)

	rows, err := c.docs.ListTimedOutIndexing(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	count := 0
	now := time.Now()
	msg := "Task exceeded timeout limit"

	for _, row := range rows {
		if row.Index.TaskUUID == nil {
			continue
		}

		ok, err := c.docs.CompareAndSetIndexState(ctx, row.UserID, row.ID, document.CASExact(*row.Index.TaskUUID), models.IndexState{
			Status:      models.IndexStatusTimeout,
			TaskUUID:    row.Index.TaskUUID,
			CompletedAt: &now,
			Error:       &msg,
		})
		if err != nil {
			slog.Error("timeout sweep: write timeout state", "error", err, "doc_id", row.ID)
			continue
		}
		if ok {
			count++
			c.notifier.Notify(notify.Event{
				Event: "index.timeout", UserID: row.UserID, DocID: row.ID,
				TaskUUID: *row.Index.TaskUUID, Status: string(models.IndexStatusTimeout), Error: msg,
			})
		}
	}

	return count, nil
}

// Close disables new submissions. Callers are responsible for ensuring
// no further OnDocumentCreated/OnDocumentUpdated calls arrive afterward;
// the queue itself is left open so in-flight workers can drain it.
func (c *Coordinator) Close() error {
	c.Disable()
	return nil
}
