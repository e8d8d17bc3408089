// Package assist supplies retrieved context for dispatch requests. The
// dispatcher consumes the Retriever contract; callers plug in whatever
// index they have and wrap it with the memoizing adapter.
package assist

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kenjoel/asura-ai/internal/domain/dispatch"
)

// Retriever returns bounded context snippets relevant to a query.
type Retriever interface {
	GetContext(ctx context.Context, query string, tokenBudget int) ([]dispatch.ContextChunk, error)
}

// RetrieverFunc adapts a plain function to Retriever.
type RetrieverFunc func(ctx context.Context, query string, tokenBudget int) ([]dispatch.ContextChunk, error)

func (f RetrieverFunc) GetContext(ctx context.Context, query string, tokenBudget int) ([]dispatch.ContextChunk, error) {
	return f(ctx, query, tokenBudget)
}

// CachedRetriever memoizes successful lookups in an LRU cache keyed by
// query and budget. Errors are never cached.
type CachedRetriever struct {
	inner Retriever
	cache *lru.Cache[string, []dispatch.ContextChunk]
}

func NewCachedRetriever(inner Retriever, size int) (*CachedRetriever, error) {
	cache, err := lru.New[string, []dispatch.ContextChunk](size)
	if err != nil {
		return nil, fmt.Errorf("retriever cache: %w", err)
	}
	return &CachedRetriever{inner: inner, cache: cache}, nil
}

func (r *CachedRetriever) GetContext(ctx context.Context, query string, tokenBudget int) ([]dispatch.ContextChunk, error) {
	key := fmt.Sprintf("%d:%s", tokenBudget, query)
	if chunks, ok := r.cache.Get(key); ok {
		return chunks, nil
	}
	chunks, err := r.inner.GetContext(ctx, query, tokenBudget)
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, chunks)
	return chunks, nil
}

// Len reports the number of cached lookups.
func (r *CachedRetriever) Len() int { return r.cache.Len() }
