package memory

import (
	"context"
	"math"

	"github.com/becomeliminal/nim-branch-sdk/core"
)

// VectorStore is the vector storage backend a branch refers to.
// Implementations: ChromemStore (store/chromem).
type VectorStore interface {
	// Add stores vectors. Re-adding an existing ID replaces that record in
	// place, keeping its original position in GetAll.
	Add(ctx context.Context, vectors ...core.Vector) error

	// GetAll returns every stored vector in insertion order.
	// Returned vectors are copies with non-nil Embedding and Metadata.
	GetAll(ctx context.Context) ([]core.Vector, error)

	// GetSimilar embeds query with embedder and returns up to k vectors
	// sorted by similarity (highest first).
	GetSimilar(ctx context.Context, embedder core.Embedder, query string, k int) ([]core.Vector, error)
}

// StoreFactory allocates a new, empty store.
type StoreFactory func() (VectorStore, error)

// CopyStore copies every vector of src into a new store from factory.
func CopyStore(ctx context.Context, src VectorStore, factory StoreFactory) (VectorStore, error) {
	vectors, err := src.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	dst, err := factory()
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return dst, nil
	}
	if err := dst.Add(ctx, vectors...); err != nil {
		return nil, err
	}
	return dst, nil
}

// Cosine returns the cosine similarity of a and b.
// ok is false when the vectors differ in length or either has zero magnitude.
func Cosine(a, b []float32) (score float64, ok bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}

// Normalize scales vec in place to unit length and returns it. A zero vector
// is returned unchanged.
func Normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
