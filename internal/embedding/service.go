package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/alexmaze/aimemos/internal/cache"
	"github.com/alexmaze/aimemos/internal/llm"
)

// Embedder turns text into vectors. RAGIndexer and ChatPipeline both
// depend on this interface, never on a concrete provider.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
}

type Service struct {
	gateway llm.Gateway
	model   string
}

func NewService(gw llm.Gateway, model string) *Service {
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &Service{gateway: gw, model: model}
}

func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	const batchSize = 100
	var allEmbeddings [][]float32

	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		resp, err := s.gateway.Embed(ctx, llm.EmbeddingRequest{
			Model: s.model,
			Input: batch,
		})
		if err != nil {
			return nil, fmt.Errorf("embed batch %d: %w", i/batchSize, err)
		}

		allEmbeddings = append(allEmbeddings, resp.Embeddings...)
	}

	return allEmbeddings, nil
}

func (s *Service) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// CachedEmbedder wraps an Embedder with a content-hash keyed cache-aside
// layer. A cache miss or Redis error always falls through to the
// underlying Embedder; the cache is advisory and never a correctness
// dependency for indexing or chat.
type CachedEmbedder struct {
	inner Embedder
	cache *cache.Cache
	model string
	ttl   time.Duration
}

func NewCachedEmbedder(inner Embedder, c *cache.Cache, model string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: c, model: model, ttl: ttl}
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, t := range texts {
		var vec []float32
		if err := c.cache.Get(ctx, c.key(t), &vec); err == nil && len(vec) > 0 {
			result[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return result, nil
	}

	embedded, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIdx {
		result[idx] = embedded[j]
		_ = c.cache.Set(ctx, c.key(missTexts[j]), embedded[j], c.ttl)
	}

	return result, nil
}

func (c *CachedEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	if err := c.cache.Get(ctx, c.key(text), &vec); err == nil && len(vec) > 0 {
		return vec, nil
	}

	vec, err := c.inner.EmbedSingle(ctx, text)
	if err != nil {
		return nil, err
	}
	_ = c.cache.Set(ctx, c.key(text), vec, c.ttl)
	return vec, nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256(append([]byte(c.model+"|"), []byte(text)...))
	return "embed:" + hex.EncodeToString(sum[:])
}
