// Package branch provides the Branch aggregate: a named, append-only event
// history paired with a reference to a vector store.
//
// Branch values are immutable. Every mutator returns a new Branch and leaves
// the receiver untouched; appends always allocate a new backing array, so two
// branches that share history never observe each other's later events. The
// store is the exception: it is held by reference and intentionally shared by
// Fork unless the caller supplies a fresh one.
package branch

import (
	"fmt"
	"slices"
	"time"

	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/memory"
)

// Clock returns the timestamp recorded on new events.
type Clock func() time.Time

// Branch is an execution trace: ordered events plus a vector store.
type Branch struct {
	name   string
	store  memory.VectorStore
	source any
	events []core.PipelineEvent
	clock  Clock
}

// Option configures a new Branch.
type Option func(*Branch)

// WithSource attaches an opaque data source description.
func WithSource(source any) Option {
	return func(b *Branch) {
		b.source = source
	}
}

// WithClock overrides the timestamp source for appended events.
func WithClock(clock Clock) Option {
	return func(b *Branch) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// New creates an empty branch named name, backed by store.
func New(name string, store memory.VectorStore, opts ...Option) Branch {
	b := Branch{
		name:  name,
		store: store,
		clock: utcNow,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func utcNow() time.Time { return time.Now().UTC() }

// Name returns the branch name.
func (b Branch) Name() string { return b.name }

// Store returns the referenced vector store.
func (b Branch) Store() memory.VectorStore { return b.store }

// Source returns the opaque data source, if any.
func (b Branch) Source() any { return b.source }

// Len returns the number of events.
func (b Branch) Len() int { return len(b.events) }

// Events returns the event history in order. The slice is a copy; the
// events themselves are shared and must be treated as read-only.
func (b Branch) Events() []core.PipelineEvent {
	return slices.Clone(b.events)
}

// ReasoningSteps returns only the reasoning steps, in order.
func (b Branch) ReasoningSteps() []core.ReasoningStep {
	var steps []core.ReasoningStep
	for _, event := range b.events {
		if step, ok := core.AsReasoningStep(event); ok {
			steps = append(steps, step)
		}
	}
	return steps
}

// WithReasoning appends a reasoning step for state. toolCalls may be nil.
func (b Branch) WithReasoning(state core.ReasoningState, prompt string, toolCalls []core.ToolExecution) Branch {
	return b.WithEvent(core.NewReasoningStep(state, prompt, toolCalls, b.now()))
}

// WithIngestEvent appends an ingest record for ids loaded from source.
func (b Branch) WithIngestEvent(source string, ids []string) Branch {
	return b.WithEvent(core.NewIngestBatch(source, ids, b.now()))
}

// WithEvent appends an arbitrary event.
func (b Branch) WithEvent(event core.PipelineEvent) Branch {
	// Clip forces append to copy, so the receiver's array is never written.
	b.events = append(slices.Clip(b.events), event)
	return b
}

// Fork returns a branch with a new name and store that starts from the
// receiver's history. Pass the receiver's own store to share live content.
func (b Branch) Fork(name string, store memory.VectorStore) Branch {
	b.name = name
	b.store = store
	return b
}

// WithSource returns a copy with only the data source replaced.
func (b Branch) WithSource(source any) Branch {
	b.source = source
	return b
}

// Validate reports whether the branch can be used by capture, replay and merge.
func (b Branch) Validate() error {
	if b.name == "" {
		return fmt.Errorf("branch: empty name: %w", core.ErrInvalidInput)
	}
	if b.store == nil {
		return fmt.Errorf("branch %q: nil store: %w", b.name, core.ErrInvalidInput)
	}
	for i, event := range b.events {
		if event == nil {
			return fmt.Errorf("branch %q: nil event at %d: %w", b.name, i, core.ErrInvalidInput)
		}
	}
	return nil
}

func (b Branch) now() time.Time {
	if b.clock == nil {
		return utcNow()
	}
	return b.clock()
}
