package vocab

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hupe1980/speakmesh/adapter"
)

// CachedEmbedding wraps fn with an LRU cache of size entries. Keyword
// lookups repeat often across a session, so most queries never reach the
// embedding API.
func CachedEmbedding(fn adapter.EmbeddingFunc, size int) (adapter.EmbeddingFunc, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		if v, ok := cache.Get(text); ok {
			return v, nil
		}
		v, err := fn(ctx, text)
		if err != nil {
			return nil, err
		}
		cache.Add(text, v)
		return v, nil
	}, nil
}
