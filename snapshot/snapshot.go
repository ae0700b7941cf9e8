// Package snapshot captures branches into self-contained values and restores
// them into new branches backed by new stores.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/becomeliminal/nim-branch-sdk/branch"
	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/memory"
	"github.com/becomeliminal/nim-branch-sdk/memory/store/chromem"
)

// Snapshot is a fully materialized branch. It holds no live store reference.
type Snapshot struct {
	Name       string
	CapturedAt time.Time
	Events     []core.PipelineEvent
	// Vectors are normalized: Embedding and Metadata are never nil.
	Vectors []core.Vector
}

type options struct {
	factory memory.StoreFactory
	logger  *slog.Logger
	clock   func() time.Time
}

// Option configures Capture and Restore.
type Option func(*options)

// WithStoreFactory sets the store Restore allocates. Defaults to chromem.
func WithStoreFactory(factory memory.StoreFactory) Option {
	return func(o *options) {
		if factory != nil {
			o.factory = factory
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the source of CapturedAt.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		factory: chromem.Factory(),
		logger:  slog.Default(),
		clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Capture reads the branch store and copies its events. The branch and its
// store are not modified.
func Capture(ctx context.Context, b branch.Branch, opts ...Option) (Snapshot, error) {
	if err := b.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("capture: %w", err)
	}
	o := buildOptions(opts)

	vectors, err := b.Store().GetAll(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("capture %q: read store: %w", b.Name(), err)
	}

	s := Snapshot{
		Name:       b.Name(),
		CapturedAt: o.clock(),
		Events:     core.CloneEvents(b.Events()),
		Vectors:    core.NormalizeVectors(vectors),
	}
	if s.Events == nil {
		s.Events = []core.PipelineEvent{}
	}

	o.logger.DebugContext(ctx, "captured branch",
		"branch", s.Name,
		"events", len(s.Events),
		"vectors", len(s.Vectors),
	)
	return s, nil
}

// Restore builds a new branch named after the snapshot, backed by a new store
// holding the snapshot vectors. Events are appended verbatim.
func Restore(ctx context.Context, s Snapshot, opts ...Option) (branch.Branch, error) {
	if s.Name == "" {
		return branch.Branch{}, fmt.Errorf("restore: empty name: %w", core.ErrInvalidInput)
	}
	o := buildOptions(opts)

	if err := ctx.Err(); err != nil {
		return branch.Branch{}, fmt.Errorf("restore %q: %w", s.Name, err)
	}

	store, err := o.factory()
	if err != nil {
		return branch.Branch{}, fmt.Errorf("restore %q: create store: %w", s.Name, err)
	}
	if len(s.Vectors) > 0 {
		if err := store.Add(ctx, core.NormalizeVectors(s.Vectors)...); err != nil {
			return branch.Branch{}, fmt.Errorf("restore %q: populate store: %w", s.Name, err)
		}
	}

	b := branch.New(s.Name, store)
	for _, event := range s.Events {
		b = b.WithEvent(core.CloneEvent(event))
	}

	o.logger.DebugContext(ctx, "restored branch",
		"branch", s.Name,
		"events", len(s.Events),
		"vectors", len(s.Vectors),
	)
	return b, nil
}
