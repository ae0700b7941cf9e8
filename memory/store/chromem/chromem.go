package chromem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/memory"
)

const collectionName = "vectors"

var errNoEmbeddingFunc = errors.New("chromem store: embeddings must be provided by the caller")

// ChromemStore wraps chromem-go for vector storage.
// chromem-go is a pure Go, embedded vector database.
//
// chromem-go normalizes embeddings it indexes, so the canonical records are
// kept alongside the collection and GetAll returns exactly what was added.
// Vectors without an embedding, or whose dimension differs from the first
// indexed vector, are stored but not searchable.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *slog.Logger

	mu         sync.RWMutex
	order      []string
	records    map[string]core.Vector
	dimensions int
}

// Option configures a ChromemStore.
type Option func(*ChromemStore)

// WithLogger sets the logger for store diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *ChromemStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a new, empty chromem-based store.
func New(opts ...Option) (*ChromemStore, error) {
	db := chromem.NewDB()

	col, err := db.CreateCollection(
		collectionName,
		nil, // No collection metadata
		func(context.Context, string) ([]float32, error) { return nil, errNoEmbeddingFunc },
	)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	s := &ChromemStore{
		db:         db,
		collection: col,
		logger:     slog.Default(),
		records:    make(map[string]core.Vector),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Factory returns a memory.StoreFactory producing fresh chromem stores.
func Factory(opts ...Option) memory.StoreFactory {
	return func() (memory.VectorStore, error) {
		return New(opts...)
	}
}

// Add stores vectors, replacing records with an existing ID in place.
func (s *ChromemStore) Add(ctx context.Context, vectors ...core.Vector) error {
	for i, v := range vectors {
		if v.ID == "" {
			return fmt.Errorf("add vectors[%d]: empty id: %w", i, core.ErrInvalidInput)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range vectors {
		if err := ctx.Err(); err != nil {
			return err
		}

		record := core.NormalizeVector(v)
		_, existed := s.records[record.ID]
		if existed {
			// Drop any stale index entry; the new record may not be indexable.
			if err := s.collection.Delete(ctx, nil, nil, record.ID); err != nil {
				return fmt.Errorf("delete document %s: %w", record.ID, err)
			}
		} else {
			s.order = append(s.order, record.ID)
		}
		s.records[record.ID] = record

		if err := s.index(ctx, record); err != nil {
			return err
		}
	}

	s.logger.DebugContext(ctx, "chromem stored vectors", "count", len(vectors), "total", len(s.order))
	return nil
}

// index adds record to the similarity collection when its embedding fits.
// Caller must hold s.mu.
func (s *ChromemStore) index(ctx context.Context, record core.Vector) error {
	if len(record.Embedding) == 0 {
		return nil
	}
	if s.dimensions == 0 {
		s.dimensions = len(record.Embedding)
	}
	if len(record.Embedding) != s.dimensions {
		s.logger.WarnContext(ctx, "chromem skipped indexing vector with mismatched dimensions",
			"id", record.ID,
			"dimensions", len(record.Embedding),
			"store_dimensions", s.dimensions,
		)
		return nil
	}

	embedding := make([]float32, len(record.Embedding))
	copy(embedding, record.Embedding)

	doc := chromem.Document{
		ID:        record.ID,
		Content:   record.Text,
		Embedding: embedding,
		Metadata:  serializeMetadata(record.Metadata),
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document %s: %w", record.ID, err)
	}
	return nil
}

// GetAll returns copies of every stored vector in insertion order.
func (s *ChromemStore) GetAll(ctx context.Context) ([]core.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Vector, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, core.NormalizeVector(s.records[id]))
	}
	return out, nil
}

// GetSimilar returns up to k indexed vectors ranked by cosine similarity to query.
// A query embedder whose size differs from the indexed vectors matches nothing.
func (s *ChromemStore) GetSimilar(ctx context.Context, embedder core.Embedder, query string, k int) ([]core.Vector, error) {
	if embedder == nil {
		return nil, fmt.Errorf("chromem query: nil embedder: %w", core.ErrInvalidInput)
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	count := s.collection.Count()
	dimensions := s.dimensions
	s.mu.RUnlock()

	if count == 0 {
		s.logger.DebugContext(ctx, "chromem collection is empty")
		return nil, nil
	}

	embedding, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embedding) != dimensions {
		s.logger.WarnContext(ctx, "chromem query skipped: embedding size differs from store",
			"query_dimensions", len(embedding),
			"store_dimensions", dimensions,
		)
		return nil, nil
	}

	// chromem-go requires nResults <= collection size.
	limit := min(k, count)

	s.mu.RLock()
	defer s.mu.RUnlock()

	results, err := s.collection.QueryEmbedding(ctx, embedding, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w: %w", core.ErrStoreUnavailable, err)
	}

	out := make([]core.Vector, 0, len(results))
	for _, result := range results {
		record, ok := s.records[result.ID]
		if !ok {
			continue
		}
		out = append(out, core.NormalizeVector(record))
	}

	s.logger.DebugContext(ctx, "chromem query", "limit", limit, "results", len(out))
	return out, nil
}

// Len returns the number of stored vectors.
func (s *ChromemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Close releases resources.
func (s *ChromemStore) Close() error {
	// chromem-go keeps everything in memory, nothing to close
	return nil
}

// serializeMetadata converts metadata to chromem's string map.
// Non-string values are JSON encoded.
func serializeMetadata(metadata map[string]any) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if str, ok := v.(string); ok {
			out[k] = str
			continue
		}
		if bytes, err := json.Marshal(v); err == nil {
			out[k] = string(bytes)
		}
	}
	return out
}

var _ memory.VectorStore = (*ChromemStore)(nil)
