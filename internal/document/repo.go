// Package document implements the narrow slice of document persistence
// the indexing core depends on: reading a document's content and
// IndexState, listing a knowledge base's documents, and atomically
// installing IndexState transitions. Everything else about a document —
// creation, renaming, folder moves, upload handling — belongs to the
// outer CRUD layer this package does not implement.
package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexmaze/aimemos/internal/apperr"
	"github.com/alexmaze/aimemos/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CASExpectation is the second argument to CompareAndSetIndexState: either
// an unconditional write (Any) or a write conditioned on the row's
// current task_uuid matching TaskUUID exactly.
type CASExpectation struct {
	any      bool
	taskUUID uuid.UUID
}

func CASAny() CASExpectation { return CASExpectation{any: true} }

func CASExact(taskUUID uuid.UUID) CASExpectation {
	return CASExpectation{taskUUID: taskUUID}
}

// Store is the narrow slice of document persistence IndexCoordinator
// depends on. Repo is the only production implementation; tests supply
// fakes against this interface instead of a database.
type Store interface {
	Get(ctx context.Context, userID, docID uuid.UUID) (*models.Document, error)
	ListTimedOutIndexing(ctx context.Context, cutoff time.Time) ([]*models.Document, error)
	CompareAndSetIndexState(ctx context.Context, userID, docID uuid.UUID, expected CASExpectation, newState models.IndexState) (bool, error)
}

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{db: db}
}

var _ Store = (*Repo)(nil)

func (r *Repo) Get(ctx context.Context, userID, docID uuid.UUID) (*models.Document, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, kb_id, folder_id, name, content, doc_kind,
		       rag_index_status, rag_index_task_uuid, rag_index_thread_id,
		       rag_index_started_at, rag_index_completed_at, rag_index_error
		FROM documents WHERE user_id = $1 AND id = $2`,
		userID, docID,
	)

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "document not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "get document", err)
	}
	return doc, nil
}

func (r *Repo) ListByKB(ctx context.Context, userID, kbID uuid.UUID, skip, limit int, folderID *uuid.UUID) ([]*models.Document, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, kb_id, folder_id, name, content, doc_kind,
		       rag_index_status, rag_index_task_uuid, rag_index_thread_id,
		       rag_index_started_at, rag_index_completed_at, rag_index_error
		FROM documents
		WHERE user_id = $1 AND kb_id = $2`
	args := []any{userID, kbID}

	if folderID != nil {
		args = append(args, *folderID)
		query += fmt.Sprintf(" AND folder_id = $%d", len(args))
	}

	args = append(args, limit, skip)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "list documents", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStore, "scan document", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ListTimedOutIndexing returns documents stuck in status=indexing whose
// started_at precedes cutoff, for the coordinator's timeout sweep.
func (r *Repo) ListTimedOutIndexing(ctx context.Context, cutoff time.Time) ([]*models.Document, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, kb_id, folder_id, name, content, doc_kind,
		       rag_index_status, rag_index_task_uuid, rag_index_thread_id,
		       rag_index_started_at, rag_index_completed_at, rag_index_error
		FROM documents
		WHERE rag_index_status = $1 AND rag_index_started_at < $2`,
		models.IndexStatusIndexing, cutoff,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "list timed out documents", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStore, "scan document", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CompareAndSetIndexState is the sole write path for IndexState. It is a
// single UPDATE statement conditioned on the row's current task_uuid — a
// read-then-write loop here would break the convergence argument the
// indexing coordinator depends on.
func (r *Repo) CompareAndSetIndexState(ctx context.Context, userID, docID uuid.UUID, expected CASExpectation, newState models.IndexState) (bool, error) {
	query := `
		UPDATE documents SET
			rag_index_status = $1,
			rag_index_task_uuid = $2,
			rag_index_thread_id = $3,
			rag_index_started_at = $4,
			rag_index_completed_at = $5,
			rag_index_error = $6,
			updated_at = now()
		WHERE user_id = $7 AND id = $8`
	args := []any{
		newState.Status,
		newState.TaskUUID,
		newState.WorkerID,
		newState.StartedAt,
		newState.CompletedAt,
		newState.Error,
		userID,
		docID,
	}

	if !expected.any {
		args = append(args, expected.taskUUID)
		query += fmt.Sprintf(" AND rag_index_task_uuid = $%d", len(args))
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, apperr.Wrap(apperr.KindStore, "compare-and-set index state", err)
	}
	return tag.RowsAffected() > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var d models.Document
	var folderID *uuid.UUID
	var status string
	var taskUUID *uuid.UUID
	var threadID *string
	var startedAt, completedAt *time.Time
	var idxErr *string

	err := row.Scan(
		&d.ID, &d.UserID, &d.KBID, &folderID, &d.Name, &d.Content, &d.Kind,
		&status, &taskUUID, &threadID, &startedAt, &completedAt, &idxErr,
	)
	if err != nil {
		return nil, err
	}

	d.FolderID = folderID
	d.Index = models.IndexState{
		Status:      models.IndexStatus(status),
		TaskUUID:    taskUUID,
		WorkerID:    threadID,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Error:       idxErr,
	}
	return &d, nil
}
