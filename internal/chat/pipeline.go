package chat

import (
	"context"

	"github.com/alexmaze/aimemos/internal/apperr"
	"github.com/alexmaze/aimemos/internal/embedding"
	"github.com/alexmaze/aimemos/internal/llm"
	"github.com/alexmaze/aimemos/internal/models"
	"github.com/alexmaze/aimemos/internal/rag"
	"github.com/alexmaze/aimemos/internal/vectorstore"
	"github.com/google/uuid"
)

// historyWindow is the reference N of §4.9 step 3.
const historyWindow = 20

// topK is the fixed retrieval width of §4.9 step 4.
const topK = 5

// EmitFunc delivers one StreamEvent to the transport. A non-nil error
// signals the client disconnected; Send stops immediately without
// completing later steps.
type EmitFunc func(models.StreamEvent) error

// SessionStore is the slice of chat persistence ChatPipeline depends on.
// Repo is the only production implementation; tests supply fakes.
type SessionStore interface {
	GetSession(ctx context.Context, userID, sessionID uuid.UUID) (*models.ChatSession, error)
	AppendMessage(ctx context.Context, msg *models.ChatMessage) (*models.ChatMessage, error)
	LastMessages(ctx context.Context, sessionID uuid.UUID, n int) ([]*models.ChatMessage, error)
}

// Pipeline orchestrates retrieval, prompt assembly, and streaming
// generation for one chat turn, emitting progress as StreamEvents.
type Pipeline struct {
	sessions   SessionStore
	vectors    vectorstore.VectorStore
	embedder   embedding.Embedder
	gateway    llm.Gateway
	model      string
	ragEnabled bool
}

func NewPipeline(sessions SessionStore, vectors vectorstore.VectorStore, embedder embedding.Embedder, gateway llm.Gateway, model string, ragEnabled bool) *Pipeline {
	return &Pipeline{
		sessions:   sessions,
		vectors:    vectors,
		embedder:   embedder,
		gateway:    gateway,
		model:      model,
		ragEnabled: ragEnabled,
	}
}

// disconnected is a private sentinel distinguishing "client went away"
// from any other error so Send's caller need not special-case it.
type disconnected struct{ cause error }

func (d disconnected) Error() string { return d.cause.Error() }
func (d disconnected) Unwrap() error { return d.cause }

// stepErr names the §4.9 substep that failed, so the containment path
// can emit rag_step{<step>_error}.
type stepErr struct {
	step  string
	cause error
}

func (e stepErr) Error() string { return e.cause.Error() }
func (e stepErr) Unwrap() error { return e.cause }

func (p *Pipeline) Send(ctx context.Context, userID, sessionID uuid.UUID, userText string, emit EmitFunc) error {
	session, err := p.sessions.GetSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	if _, err := p.sessions.AppendMessage(ctx, &models.ChatMessage{
		SessionID:   sessionID,
		Role:        models.RoleUser,
		Content:     userText,
		ContentType: models.ContentTypeContent,
	}); err != nil {
		return apperr.Wrap(apperr.KindStore, "persist user message", err)
	}

	history, err := p.sessions.LastMessages(ctx, sessionID, historyWindow)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "load conversation history", err)
	}
	if len(history) > 0 {
		history = history[:len(history)-1] // drop the message just persisted; added explicitly below
	}

	var contextBlock string
	var sources []models.RAGSource

	if session.KBID != nil && p.ragEnabled {
		block, srcs, err := p.retrieve(ctx, userID, *session.KBID, userText, emit)
		if err != nil {
			if _, ok := err.(disconnected); ok {
				return nil
			}
			return p.failTurn(ctx, sessionID, err, emit)
		}
		contextBlock = block
		sources = srcs
	}

	messages := p.assembleMessages(history, userText, contextBlock)

	// A failure opening the stream is the same LLM-failure case as a
	// mid-stream failure with zero chunks received: persist whatever
	// reply was generated (nothing here) and finish normally, no error
	// event. Retrieval failures alone go through failTurn.
	stream, streamErr := p.gateway.ChatStream(ctx, llm.ChatRequest{
		Model:    p.model,
		Messages: messages,
	})

	var fullReply string
	if streamErr == nil {
		for chunk := range stream {
			if chunk.Error != nil {
				// Upstream failure mid-stream: the turn ends at the last delta
				// already received, but step 7 still persists what we have.
				break
			}
			if chunk.Content != "" {
				fullReply += chunk.Content
				if err := emit(models.MessageEvent(chunk.Content, models.ContentTypeContent)); err != nil {
					return nil // client disconnected: skip persistence, no done
				}
			}
			if chunk.Done {
				break
			}
		}
	}

	var ragContextPtr *string
	if contextBlock != "" {
		ragContextPtr = &contextBlock
	}

	if _, err := p.sessions.AppendMessage(ctx, &models.ChatMessage{
		SessionID:   sessionID,
		Role:        models.RoleAssistant,
		Content:     fullReply,
		ContentType: models.ContentTypeContent,
		RAGContext:  ragContextPtr,
		RAGSources:  sources,
	}); err != nil {
		return apperr.Wrap(apperr.KindStore, "persist assistant message", err)
	}

	return emit(models.DoneEvent())
}

// retrieve runs the RAG substeps of §4.9 step 4, emitting rag_step
// events as it goes. On failure it returns the raw error to the caller,
// which is responsible for the error/done/persist containment sequence.
func (p *Pipeline) retrieve(ctx context.Context, userID, kbID uuid.UUID, userText string, emit EmitFunc) (string, []models.RAGSource, error) {
	if err := emit(models.RAGStepEvent("search_start", map[string]any{"kb_id": kbID.String()})); err != nil {
		return "", nil, disconnected{err}
	}

	qVec, err := p.embedder.EmbedSingle(ctx, userText)
	if err != nil {
		return "", nil, stepErr{"search", apperr.Wrap(apperr.KindModel, "embed query", err)}
	}

	hits, err := p.vectors.Search(ctx, qVec, topK, vectorstore.SearchFilter{UserID: userID, KBID: &kbID})
	if err != nil {
		return "", nil, stepErr{"search", apperr.Wrap(apperr.KindStore, "search", err)}
	}

	if err := emit(models.RAGStepEvent("search_complete", map[string]any{"count": len(hits)})); err != nil {
		return "", nil, disconnected{err}
	}

	if err := emit(models.RAGStepEvent("context_build", nil)); err != nil {
		return "", nil, disconnected{err}
	}

	ragSources := make([]rag.ContextSource, len(hits))
	sources := make([]models.RAGSource, len(hits))
	for i, hit := range hits {
		docName := hit.Record.Metadata.DocName
		docID := hit.Record.Metadata.DocID.String()
		ragSources[i] = rag.ContextSource{DocName: docName, DocID: docID, Content: hit.Record.Content, Score: hit.Distance}
		sources[i] = models.RAGSource{DocName: docName, DocID: docID, Score: hit.Distance}
	}
	contextBlock := rag.BuildContextBlock(ragSources)

	if err := emit(models.RAGStepEvent("context_complete", map[string]any{"sources": len(hits)})); err != nil {
		return "", nil, disconnected{err}
	}

	if err := emit(models.RAGStepEvent("generate_start", nil)); err != nil {
		return "", nil, disconnected{err}
	}

	return contextBlock, sources, nil
}

// failTurn implements the RAG-failure containment path of §4.9 step 4:
// a step_error, an error event, done, and an assistant message carrying
// the error text. The user message from step 2 remains persisted either
// way.
func (p *Pipeline) failTurn(ctx context.Context, sessionID uuid.UUID, cause error, emit EmitFunc) error {
	msg := cause.Error()
	step := "retrieval"
	if se, ok := cause.(stepErr); ok {
		step = se.step
	}

	_ = emit(models.RAGStepEvent(step+"_error", map[string]any{"error": msg}))
	_ = emit(models.ErrorEvent(msg, nil))
	_ = emit(models.DoneEvent())

	_, err := p.sessions.AppendMessage(ctx, &models.ChatMessage{
		SessionID:   sessionID,
		Role:        models.RoleAssistant,
		Content:     msg,
		ContentType: models.ContentTypeContent,
	})
	return err
}

func (p *Pipeline) assembleMessages(history []*models.ChatMessage, userText, contextBlock string) []llm.Message {
	messages := []llm.Message{
		{Role: "system", Content: rag.SystemPrompt(contextBlock != "")},
	}

	if contextBlock != "" {
		messages = append(messages, llm.Message{Role: "system", Content: "CONTEXT:\n" + contextBlock})
	}

	for _, m := range history {
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}

	messages = append(messages, llm.Message{Role: "user", Content: userText})
	return messages
}
