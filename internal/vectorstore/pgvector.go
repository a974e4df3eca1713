package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// probes maps to the nprobe knob of the Milvus-flavoured original: the
// number of ivfflat lists scanned per query, traded against recall.
const probes = 10

// insertBatchSize keeps individual transactions small the same way the
// embedding gateway batches requests at 100 texts.
const insertBatchSize = 100

type PgVectorStore struct {
	db *pgxpool.Pool
}

func NewPgVectorStore(db *pgxpool.Pool) *PgVectorStore {
	return &PgVectorStore{db: db}
}

func (s *PgVectorStore) EnsureCollection(ctx context.Context) error {
	// The document_chunks table and its ivfflat index are created by
	// migrations; this call verifies the extension is present for
	// callers that construct a store against an unmigrated database.
	_, err := s.db.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("ensure vector extension: %w", err)
	}
	return nil
}

func (s *PgVectorStore) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	for start := 0; start < len(records); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.insertBatch(ctx, records[start:end]); err != nil {
			return fmt.Errorf("insert batch %d: %w", start/insertBatchSize, err)
		}
	}

	return nil
}

func (s *PgVectorStore) insertBatch(ctx context.Context, batch []Record) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range batch {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}

		if len(r.Content) > 65535 {
			r.Content = r.Content[:65535]
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO document_chunks (embedding, content, source, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			pgvector.NewVector(r.Embedding), r.Content, r.Source, meta, r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PgVectorStore) Search(ctx context.Context, query []float32, topK int, filter SearchFilter) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 10
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	where, args := filter.whereClause()
	args = append(args, pgvector.NewVector(query), topK)
	distArg := len(args) - 1

	query1 := fmt.Sprintf(
		`SELECT pk, content, source, metadata, created_at, embedding <-> $%d AS distance
		 FROM document_chunks
		 %s
		 ORDER BY distance ASC, pk ASC
		 LIMIT $%d`,
		distArg, where, len(args),
	)

	rows, err := tx.Query(ctx, query1, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var rec Record
		var metaRaw []byte
		var distance float64
		if err := rows.Scan(&rec.Pk, &rec.Content, &rec.Source, &metaRaw, &rec.CreatedAt, &distance); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		if err := json.Unmarshal(metaRaw, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		results = append(results, SearchResult{Record: rec, Distance: distance})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit search tx: %w", err)
	}

	return results, nil
}

func (f SearchFilter) whereClause() (string, []any) {
	clauses := []string{"metadata->>'user_id' = $1"}
	args := []any{f.UserID.String()}

	if f.DocID != nil {
		args = append(args, f.DocID.String())
		clauses = append(clauses, fmt.Sprintf("metadata->>'doc_id' = $%d", len(args)))
	}
	if f.KBID != nil {
		args = append(args, f.KBID.String())
		clauses = append(clauses, fmt.Sprintf("metadata->>'kb_id' = $%d", len(args)))
	}

	where := "WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

func (s *PgVectorStore) Delete(ctx context.Context, filter SearchFilter) (int64, error) {
	where, args := filter.whereClause()
	tag, err := s.db.Exec(ctx, "DELETE FROM document_chunks "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}
