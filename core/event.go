package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type tags carried across serialization.
const (
	EventTypeIngestBatch   = "ingest_batch"
	EventTypeReasoningStep = "reasoning_step"
)

// PipelineEvent is one immutable, timestamped record in a branch history.
//
// IngestBatch and ReasoningStep are understood by replay. Any other type,
// including OpaqueEvent, passes through snapshots unchanged.
type PipelineEvent interface {
	// EventID is unique per event instance.
	EventID() uuid.UUID
	// OccurredAt is when the event was recorded.
	OccurredAt() time.Time
	// EventType is the discriminator kept in persisted form.
	EventType() string
}

// IngestBatch records content added to the branch store.
type IngestBatch struct {
	ID        uuid.UUID
	Timestamp time.Time
	// Source names where the content came from.
	Source string
	// IDs lists the ingested vector IDs in ingestion order.
	IDs []string
}

func (e IngestBatch) EventID() uuid.UUID    { return e.ID }
func (e IngestBatch) OccurredAt() time.Time { return e.Timestamp }
func (IngestBatch) EventType() string       { return EventTypeIngestBatch }

// ReasoningStep records one generation round.
type ReasoningStep struct {
	ID        uuid.UUID
	Timestamp time.Time
	// StepKind mirrors State.Kind() at the time the step was recorded.
	StepKind string
	State    ReasoningState
	// Prompt is the prompt as sent, or the template it was rendered from.
	Prompt string
	// ToolCalls is nil when the step made no tool calls.
	ToolCalls []ToolExecution
}

func (e ReasoningStep) EventID() uuid.UUID    { return e.ID }
func (e ReasoningStep) OccurredAt() time.Time { return e.Timestamp }
func (ReasoningStep) EventType() string       { return EventTypeReasoningStep }

// OpaqueEvent carries an event kind the core does not interpret.
type OpaqueEvent struct {
	ID        uuid.UUID
	Timestamp time.Time
	Type      string
	Payload   json.RawMessage
}

func (e OpaqueEvent) EventID() uuid.UUID    { return e.ID }
func (e OpaqueEvent) OccurredAt() time.Time { return e.Timestamp }
func (e OpaqueEvent) EventType() string     { return e.Type }

// NewIngestBatch builds an ingest event with a fresh ID.
func NewIngestBatch(source string, ids []string, at time.Time) IngestBatch {
	return IngestBatch{
		ID:        uuid.New(),
		Timestamp: at,
		Source:    source,
		IDs:       cloneStrings(ids),
	}
}

// NewReasoningStep builds a reasoning event with a fresh ID. StepKind is taken
// from state.
func NewReasoningStep(state ReasoningState, prompt string, toolCalls []ToolExecution, at time.Time) ReasoningStep {
	step := ReasoningStep{
		ID:        uuid.New(),
		Timestamp: at,
		State:     CloneState(state),
		Prompt:    prompt,
		ToolCalls: CloneToolExecutions(toolCalls),
	}
	if state != nil {
		step.StepKind = state.Kind()
	}
	return step
}

// CloneEvent copies the known event variants so the result shares no mutable
// memory with event. Other event types are immutable by contract and are
// returned as-is.
func CloneEvent(event PipelineEvent) PipelineEvent {
	switch typed := event.(type) {
	case IngestBatch:
		typed.IDs = cloneStrings(typed.IDs)
		return typed
	case *IngestBatch:
		if typed == nil {
			return typed
		}
		return CloneEvent(*typed)
	case ReasoningStep:
		typed.State = CloneState(typed.State)
		typed.ToolCalls = CloneToolExecutions(typed.ToolCalls)
		return typed
	case *ReasoningStep:
		if typed == nil {
			return typed
		}
		return CloneEvent(*typed)
	case OpaqueEvent:
		typed.Payload = cloneRaw(typed.Payload)
		return typed
	default:
		return event
	}
}

// CloneEvents copies an event sequence with CloneEvent.
func CloneEvents(events []PipelineEvent) []PipelineEvent {
	if events == nil {
		return nil
	}
	cloned := make([]PipelineEvent, len(events))
	for i, event := range events {
		cloned[i] = CloneEvent(event)
	}
	return cloned
}

// AsReasoningStep reports whether event is a reasoning step, by value or pointer.
func AsReasoningStep(event PipelineEvent) (ReasoningStep, bool) {
	switch typed := event.(type) {
	case ReasoningStep:
		return typed, true
	case *ReasoningStep:
		if typed == nil {
			return ReasoningStep{}, false
		}
		return *typed, true
	default:
		return ReasoningStep{}, false
	}
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	return append(make([]string, 0, len(values)), values...)
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(make([]byte, 0, len(raw))), raw...)
}
