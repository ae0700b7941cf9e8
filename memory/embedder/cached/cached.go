// Package cached puts a ristretto cache in front of an embedder.
//
// Replay and merge embed the same query and candidate texts repeatedly; the
// cache keeps remote embedders from being called for text they already saw.
package cached

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/becomeliminal/nim-branch-sdk/core"
)

// Config sizes the cache.
type Config struct {
	// MaxEntries bounds how many embeddings are admitted before eviction.
	// Default: 10000
	MaxEntries int64
}

// DefaultConfig returns sensible defaults for a single process.
var DefaultConfig = Config{MaxEntries: 10_000}

// Embedder caches embeddings by exact text.
type Embedder struct {
	next  core.Embedder
	cache *ristretto.Cache
}

// New wraps next with a cache.
func New(next core.Embedder, cfg Config) (*Embedder, error) {
	if next == nil {
		return nil, fmt.Errorf("new cached embedder: nil embedder: %w", core.ErrInvalidInput)
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig.MaxEntries
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,
		// Cost counts entries, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("new cached embedder: %w", err)
	}

	return &Embedder{next: next, cache: cache}, nil
}

// Embed returns a cached embedding or computes and stores one.
// Callers receive their own copy of the vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if value, ok := e.cache.Get(text); ok {
		if embedding, ok := value.([]float32); ok {
			return append([]float32(nil), embedding...), nil
		}
	}

	embedding, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	stored := append([]float32(nil), embedding...)
	e.cache.Set(text, stored, 1)
	e.cache.Wait()

	return embedding, nil
}

// Dimensions reports the wrapped embedder's size.
func (e *Embedder) Dimensions() int {
	return e.next.Dimensions()
}

// Close stops the cache's background workers.
func (e *Embedder) Close() {
	e.cache.Close()
}

var _ core.Embedder = (*Embedder)(nil)
