package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/alexmaze/aimemos/internal/api/handlers"
	"github.com/alexmaze/aimemos/internal/api/middleware"
	"github.com/alexmaze/aimemos/internal/auth"
	"github.com/alexmaze/aimemos/internal/cache"
	"github.com/alexmaze/aimemos/internal/chat"
	"github.com/alexmaze/aimemos/internal/config"
	"github.com/alexmaze/aimemos/internal/document"
	"github.com/alexmaze/aimemos/internal/embedding"
	"github.com/alexmaze/aimemos/internal/indexing"
	"github.com/alexmaze/aimemos/internal/llm"
	"github.com/alexmaze/aimemos/internal/notify"
	"github.com/alexmaze/aimemos/internal/queue"
	"github.com/alexmaze/aimemos/internal/rag"
	"github.com/alexmaze/aimemos/internal/vectorstore"
	"github.com/alexmaze/aimemos/pkg/chunker"
)

// Router wires every service the API surface depends on: the document
// store, the vector store, the LLM gateway, the indexing coordinator,
// and the chat pipeline built on top of them.
type Router struct {
	mux *chi.Mux
	db  *pgxpool.Pool
	rdb *redis.Client
	cfg *config.Config
	jwt *auth.JWTMiddleware

	Coordinator *indexing.Coordinator
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config) *Router {
	return &Router{
		mux: chi.NewRouter(),
		db:  db,
		rdb: rdb,
		cfg: cfg,
		jwt: auth.NewJWTMiddleware(cfg.Auth.JWTSecret),
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	rl := middleware.NewRateLimiter(100, 200)
	r.Use(rl.Limit)

	health := handlers.NewHealthHandler(rt.db, rt.rdb)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	llmGW := llm.NewGateway(rt.cfg.LLM)

	var embedder embedding.Embedder = embedding.NewService(llmGW, rt.cfg.LLM.EmbeddingModel)
	if rt.rdb != nil {
		ttl := time.Duration(rt.cfg.RAG.EmbedCacheTTLSecs) * time.Second
		embedder = embedding.NewCachedEmbedder(embedder, cache.NewCache(rt.rdb), rt.cfg.LLM.EmbeddingModel, ttl)
	}

	docs := document.NewRepo(rt.db)
	vectors := vectorstore.NewPgVectorStore(rt.db)
	chunk := chunker.New()
	indexer := rag.NewIndexer(vectors, embedder, chunk)

	queueClient := queue.NewClient(rt.cfg.Redis)
	dispatcher := notify.NewDispatcher(queueClient, rt.cfg.Webhook)

	chunkOpts := chunker.ChunkOptions{MaxTokens: 512, OverlapTokens: 128}
	timeout := time.Duration(rt.cfg.RAG.TimeoutSeconds) * time.Second
	coordinator := indexing.NewCoordinator(docs, vectors, indexer, dispatcher, rt.cfg.RAG.MaxWorkers, timeout, chunkOpts)
	rt.Coordinator = coordinator

	chatRepo := chat.NewRepo(rt.db)
	pipeline := chat.NewPipeline(chatRepo, vectors, embedder, llmGW, rt.cfg.LLM.DefaultModel, true)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.jwt.Authenticate)

		chatH := handlers.NewChatHandler(chatRepo, pipeline)
		r.Route("/chats", func(r chi.Router) {
			r.Post("/", chatH.CreateSession)
			r.Get("/", chatH.ListSessions)
			r.Get("/{id}", chatH.GetSession)
			r.Put("/{id}", chatH.UpdateSession)
			r.Delete("/{id}", chatH.DeleteSession)
			r.Get("/{id}/messages", chatH.ListMessages)
			r.Post("/{id}/messages", chatH.PostMessage)
		})

		ragH := handlers.NewRAGHandler(docs, indexer, vectors, embedder)
		idxH := handlers.NewIndexingHandler(docs, coordinator)
		r.Route("/rag", func(r chi.Router) {
			r.Post("/index", ragH.Index)
			r.Post("/reindex/document/{doc_id}", ragH.ReindexDocument)
			r.Delete("/index/document/{doc_id}", ragH.DeleteDocumentIndex)
			r.Delete("/index/{kb_id}", ragH.DeleteKBIndex)
			r.Post("/search", ragH.Search)

			r.Post("/documents/{doc_id}/notify-created", idxH.NotifyCreated)
			r.Post("/documents/{doc_id}/notify-updated", idxH.NotifyUpdated)
			r.Get("/tasks/active", idxH.ActiveTasks)
			r.Post("/tasks/sweep", idxH.Sweep)
		})
	})

	return r
}
