package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/alexmaze/aimemos/internal/apperr"
	"github.com/alexmaze/aimemos/internal/auth"
	"github.com/alexmaze/aimemos/internal/document"
	"github.com/alexmaze/aimemos/internal/embedding"
	"github.com/alexmaze/aimemos/internal/rag"
	"github.com/alexmaze/aimemos/internal/vectorstore"
	"github.com/alexmaze/aimemos/pkg/chunker"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type RAGHandler struct {
	docs     *document.Repo
	indexer  *rag.Indexer
	vectors  vectorstore.VectorStore
	embedder embedding.Embedder
}

func NewRAGHandler(docs *document.Repo, indexer *rag.Indexer, vectors vectorstore.VectorStore, embedder embedding.Embedder) *RAGHandler {
	return &RAGHandler{docs: docs, indexer: indexer, vectors: vectors, embedder: embedder}
}

type indexStats struct {
	KBID             uuid.UUID `json:"kb_id"`
	TotalDocuments   int       `json:"total_documents"`
	IndexedDocuments int       `json:"indexed_documents"`
	SkippedDocuments int       `json:"skipped_documents"`
	TotalChunks      int       `json:"total_chunks"`
}

type indexRequest struct {
	KBID          uuid.UUID `json:"kb_id"`
	MaxTokens     int       `json:"max_tokens"`
	OverlapTokens int       `json:"overlap_tokens"`
}

func (req indexRequest) chunkOpts() chunker.ChunkOptions {
	opts := chunker.DefaultOptions()
	if req.MaxTokens > 0 {
		opts.MaxTokens = req.MaxTokens
	}
	if req.OverlapTokens > 0 {
		opts.OverlapTokens = req.OverlapTokens
	}
	return opts
}

// Index bulk (re)indexes every document in a knowledge base, synchronously.
func (h *RAGHandler) Index(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}

	stats := indexStats{KBID: req.KBID}
	opts := req.chunkOpts()

	const pageSize = 100
	for skip := 0; ; skip += pageSize {
		docs, err := h.docs.ListByKB(r.Context(), userID, req.KBID, skip, pageSize, nil)
		if err != nil {
			writeError(w, err)
			return
		}
		if len(docs) == 0 {
			break
		}

		for _, doc := range docs {
			stats.TotalDocuments++
			if !doc.Indexable() {
				stats.SkippedDocuments++
				continue
			}
			count, err := h.indexer.Reindex(r.Context(), userID, doc, opts)
			if err != nil {
				stats.SkippedDocuments++
				continue
			}
			stats.IndexedDocuments++
			stats.TotalChunks += count
		}

		if len(docs) < pageSize {
			break
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *RAGHandler) ReindexDocument(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	docID, err := uuid.Parse(chi.URLParam(r, "doc_id"))
	if err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid document id"))
		return
	}

	doc, err := h.docs.Get(r.Context(), userID, docID)
	if err != nil {
		writeError(w, err)
		return
	}

	stats := indexStats{KBID: doc.KBID, TotalDocuments: 1}
	if !doc.Indexable() {
		stats.SkippedDocuments = 1
		writeJSON(w, http.StatusOK, stats)
		return
	}

	count, err := h.indexer.Reindex(r.Context(), userID, doc, chunker.DefaultOptions())
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindIndex, "reindex document", err))
		return
	}

	stats.IndexedDocuments = 1
	stats.TotalChunks = count
	writeJSON(w, http.StatusOK, stats)
}

func (h *RAGHandler) DeleteDocumentIndex(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	docID, err := uuid.Parse(chi.URLParam(r, "doc_id"))
	if err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid document id"))
		return
	}

	deleted, err := h.vectors.Delete(r.Context(), vectorstore.SearchFilter{UserID: userID, DocID: &docID})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *RAGHandler) DeleteKBIndex(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	kbID, err := uuid.Parse(chi.URLParam(r, "kb_id"))
	if err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid knowledge base id"))
		return
	}

	deleted, err := h.vectors.Delete(r.Context(), vectorstore.SearchFilter{UserID: userID, KBID: &kbID})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

type searchRequest struct {
	Query string     `json:"query"`
	KBID  *uuid.UUID `json:"kb_id"`
	TopK  int        `json:"top_k"`
}

type searchResultView struct {
	Content  string                    `json:"content"`
	Source   string                    `json:"source"`
	Score    float64                   `json:"score"`
	Metadata vectorstore.ChunkMetadata `json:"metadata"`
}

func (h *RAGHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}
	if req.Query == "" {
		writeError(w, apperr.New(apperr.KindValidation, "query required"))
		return
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}

	qVec, err := h.embedder.EmbedSingle(r.Context(), req.Query)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindModel, "embed query", err))
		return
	}

	hits, err := h.vectors.Search(r.Context(), qVec, req.TopK, vectorstore.SearchFilter{UserID: userID, KBID: req.KBID})
	if err != nil {
		writeError(w, err)
		return
	}

	results := make([]searchResultView, len(hits))
	for i, hit := range hits {
		results[i] = searchResultView{
			Content:  hit.Record.Content,
			Source:   hit.Record.Source,
			Score:    hit.Distance,
			Metadata: hit.Record.Metadata,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   req.Query,
		"kb_id":   req.KBID,
		"total":   len(results),
		"results": results,
	})
}
