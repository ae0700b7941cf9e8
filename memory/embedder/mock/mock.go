// Package mock provides a deterministic embedder that needs no model files.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync/atomic"

	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/memory"
)

// DefaultDimensions matches all-MiniLM-L6-v2.
const DefaultDimensions = 384

// MockEmbedder derives a unit vector from an FNV hash of the text, so equal
// texts embed identically and unrelated texts are close to orthogonal.
type MockEmbedder struct {
	dimensions int
	calls      atomic.Int64
}

// New creates a mock embedder. Zero or negative dimensions use DefaultDimensions.
func New(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns the embedding of text.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.calls.Add(1)

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	state := h.Sum64()

	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		state = state*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(state)) / math.MaxInt64
	}
	return memory.Normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *MockEmbedder) Dimensions() int {
	return m.dimensions
}

// Calls reports how many times Embed ran.
func (m *MockEmbedder) Calls() int64 {
	return m.calls.Load()
}

var _ core.Embedder = (*MockEmbedder)(nil)
