// Package merge combines two branches into a third, resolving vectors that
// share an ID by their relevance to a query.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/becomeliminal/nim-branch-sdk/branch"
	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/memory"
	"github.com/becomeliminal/nim-branch-sdk/memory/store/chromem"
)

const tracerName = "github.com/becomeliminal/nim-branch-sdk/merge"

// unscored ranks candidates that cannot be compared to the query below any
// real cosine score.
var unscored = math.Inf(-1)

// Func merges a and b. The result is named "<a>+<b>", holds a's events then
// b's events, and is backed by a new store. Neither input is modified.
type Func func(ctx context.Context, a, b branch.Branch, query string) (branch.Branch, error)

type merger struct {
	embedder core.Embedder
	topK     int
	factory  memory.StoreFactory
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures ByRelevance.
type Option func(*merger)

// WithStoreFactory sets the store allocated for merged branches.
func WithStoreFactory(factory memory.StoreFactory) Option {
	return func(m *merger) {
		if factory != nil {
			m.factory = factory
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *merger) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTracer sets the OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *merger) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// ByRelevance returns a merge that keeps, for every vector ID present in both
// stores, the candidate whose embedding is most similar to the query. Ties
// keep a's candidate. topK must be at least 1; each conflicting ID still has
// exactly one winner.
func ByRelevance(embedder core.Embedder, topK int, opts ...Option) (Func, error) {
	if embedder == nil {
		return nil, fmt.Errorf("merge: nil embedder: %w", core.ErrInvalidInput)
	}
	if topK < 1 {
		return nil, fmt.Errorf("merge: topK must be >= 1, got %d: %w", topK, core.ErrInvalidInput)
	}

	m := &merger{
		embedder: embedder,
		topK:     topK,
		factory:  chromem.Factory(),
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m.merge, nil
}

func (m *merger) merge(ctx context.Context, a, b branch.Branch, query string) (branch.Branch, error) {
	if err := a.Validate(); err != nil {
		return branch.Branch{}, fmt.Errorf("merge: first branch: %w", err)
	}
	if err := b.Validate(); err != nil {
		return branch.Branch{}, fmt.Errorf("merge: second branch: %w", err)
	}
	name := a.Name() + "+" + b.Name()

	ctx, span := m.tracer.Start(ctx, "merge.ByRelevance", trace.WithAttributes(
		attribute.String("merge.name", name),
		attribute.Int("merge.top_k", m.topK),
	))
	defer span.End()

	fail := func(err error) (branch.Branch, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return branch.Branch{}, err
	}

	left, err := a.Store().GetAll(ctx)
	if err != nil {
		return fail(fmt.Errorf("merge %q: read %q store: %w", name, a.Name(), err))
	}
	right, err := b.Store().GetAll(ctx)
	if err != nil {
		return fail(fmt.Errorf("merge %q: read %q store: %w", name, b.Name(), err))
	}

	vectors, conflicts, err := m.union(ctx, left, right, query)
	if err != nil {
		return fail(fmt.Errorf("merge %q: %w", name, err))
	}

	store, err := m.factory()
	if err != nil {
		return fail(fmt.Errorf("merge %q: create store: %w", name, err))
	}
	if len(vectors) > 0 {
		if err := store.Add(ctx, vectors...); err != nil {
			return fail(fmt.Errorf("merge %q: populate store: %w", name, err))
		}
	}

	merged := branch.New(name, store, branch.WithSource(a.Source()))
	for _, event := range a.Events() {
		merged = merged.WithEvent(event)
	}
	for _, event := range b.Events() {
		merged = merged.WithEvent(event)
	}

	span.SetAttributes(
		attribute.Int("merge.vectors", len(vectors)),
		attribute.Int("merge.conflicts", conflicts),
		attribute.Int("merge.events", merged.Len()),
	)
	m.logger.InfoContext(ctx, "merged branches",
		"branch", name,
		"vectors", len(vectors),
		"conflicts", conflicts,
		"events", merged.Len(),
	)
	return merged, nil
}

// union returns left's vectors in order, with conflicts resolved in place,
// followed by vectors only right holds.
func (m *merger) union(ctx context.Context, left, right []core.Vector, query string) ([]core.Vector, int, error) {
	rightByID := make(map[string]core.Vector, len(right))
	for _, v := range right {
		rightByID[v.ID] = v
	}
	leftIDs := make(map[string]struct{}, len(left))

	var queryEmbedding []float32
	conflicts := 0
	out := make([]core.Vector, 0, len(left)+len(right))

	for _, candidate := range left {
		leftIDs[candidate.ID] = struct{}{}
		other, conflict := rightByID[candidate.ID]
		if !conflict {
			out = append(out, candidate)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		conflicts++

		if queryEmbedding == nil {
			embedding, err := m.embedder.Embed(ctx, query)
			if err != nil {
				return nil, 0, fmt.Errorf("embed query: %w", err)
			}
			queryEmbedding = embedding
		}

		winner, err := m.resolve(ctx, queryEmbedding, candidate, other)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, winner)
	}

	for _, candidate := range right {
		if _, seen := leftIDs[candidate.ID]; !seen {
			out = append(out, candidate)
		}
	}
	return out, conflicts, nil
}

// resolve picks one of two candidates for the same ID. b wins only with a
// strictly higher score.
func (m *merger) resolve(ctx context.Context, query []float32, a, b core.Vector) (core.Vector, error) {
	scoreA, err := m.score(ctx, query, a)
	if err != nil {
		return core.Vector{}, err
	}
	scoreB, err := m.score(ctx, query, b)
	if err != nil {
		return core.Vector{}, err
	}

	winner := a
	if scoreB > scoreA {
		winner = b
	}
	m.logger.DebugContext(ctx, "merge resolved conflict",
		"id", a.ID,
		"score_a", scoreA,
		"score_b", scoreB,
		"kept_first", scoreB <= scoreA,
	)
	return winner, nil
}

// score is the cosine similarity between query and the candidate embedding.
// Candidates whose stored embedding cannot be compared are embedded from text.
func (m *merger) score(ctx context.Context, query []float32, candidate core.Vector) (float64, error) {
	if s, ok := memory.Cosine(query, candidate.Embedding); ok {
		return s, nil
	}
	if candidate.Text == "" {
		return unscored, nil
	}
	embedding, err := m.embedder.Embed(ctx, candidate.Text)
	if err != nil {
		return 0, fmt.Errorf("embed candidate %s: %w", candidate.ID, err)
	}
	if s, ok := memory.Cosine(query, embedding); ok {
		return s, nil
	}
	return unscored, nil
}
