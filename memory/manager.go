package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/becomeliminal/nim-branch-sdk/core"
)

// Retriever turns a similarity query against a store into prompt context.
//
// The engine decides WHEN to retrieve (once per replay, before the first step).
// The Retriever decides HOW: which store query to issue and how to join the
// matched texts.
type Retriever struct {
	embedder core.Embedder
	config   *Config
	logger   *slog.Logger
}

// NewRetriever creates a Retriever. A nil config uses DefaultConfig.
func NewRetriever(embedder core.Embedder, config *Config, logger *slog.Logger) *Retriever {
	if config == nil {
		config = DefaultConfig
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		config:   config,
		logger:   logger,
	}
}

// Retrieve returns the k most similar vectors to query from store.
func (r *Retriever) Retrieve(ctx context.Context, store VectorStore, query string, k int) ([]core.Vector, error) {
	if store == nil {
		return nil, fmt.Errorf("retrieve: nil store: %w", core.ErrInvalidInput)
	}
	if k < 0 {
		return nil, fmt.Errorf("retrieve: k must be >= 0, got %d: %w", k, core.ErrInvalidInput)
	}
	if k == 0 {
		return nil, nil
	}

	vectors, err := store.GetSimilar(ctx, r.embedder, query, k)
	if err != nil {
		return nil, fmt.Errorf("query store: %w", err)
	}

	r.logger.DebugContext(ctx, "retrieved context vectors",
		"count", len(vectors),
		"query", truncateLog(query, 50),
	)
	return vectors, nil
}

// BuildContext retrieves the k most similar vectors and joins their text.
func (r *Retriever) BuildContext(ctx context.Context, store VectorStore, query string, k int) (string, error) {
	vectors, err := r.Retrieve(ctx, store, query, k)
	if err != nil {
		return "", err
	}
	return r.Format(vectors), nil
}

// Format joins vector texts with the configured separator, bounded by MaxChars.
func (r *Retriever) Format(vectors []core.Vector) string {
	if len(vectors) == 0 {
		return ""
	}

	parts := make([]string, 0, len(vectors))
	for _, v := range vectors {
		parts = append(parts, v.Text)
	}
	joined := strings.Join(parts, r.config.Separator)

	if r.config.MaxChars > 0 && len(joined) > r.config.MaxChars {
		return truncate(joined, r.config.MaxChars)
	}
	return joined
}

// truncateLog truncates text for logging.
func truncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return truncate(s, maxLen) + "..."
}

// truncate shortens s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// Config holds Retriever configuration.
type Config struct {
	// Separator joins retrieved texts.
	// Default: "\n"
	Separator string

	// MaxChars caps the joined context length. Zero means unbounded.
	// Default: 0
	MaxChars int
}

// DefaultConfig joins texts one per line with no length cap.
var DefaultConfig = &Config{
	Separator: "\n",
	MaxChars:  0,
}
