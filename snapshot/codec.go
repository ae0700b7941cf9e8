package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/becomeliminal/nim-branch-sdk/core"
)

// document is the persisted form of a Snapshot.
type document struct {
	Name       string         `json:"name"`
	CapturedAt time.Time      `json:"captured_at"`
	Events     []eventRecord  `json:"events"`
	Vectors    []vectorRecord `json:"vectors"`
}

// eventRecord is a tagged event. Only the fields of its type are set.
type eventRecord struct {
	Type      string    `json:"type"`
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// ingest_batch
	Source string   `json:"source,omitempty"`
	IDs    []string `json:"ids,omitempty"`

	// reasoning_step
	StepKind  string          `json:"step_kind,omitempty"`
	State     json.RawMessage `json:"state,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
	ToolCalls []toolRecord    `json:"tool_calls,omitempty"`

	// any other type
	Payload json.RawMessage `json:"payload,omitempty"`
}

type toolRecord struct {
	ToolName   string          `json:"tool_name"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Output     string          `json:"output"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

type vectorRecord struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Embedding []float32      `json:"embedding"`
	Metadata  map[string]any `json:"metadata"`
}

// MarshalJSON encodes s. Every event keeps its type tag and every reasoning
// state keeps its kind. Events of caller-defined types are stored with their
// JSON encoding as payload and decode as core.OpaqueEvent.
func MarshalJSON(s Snapshot) ([]byte, error) {
	doc, err := toDocument(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes a snapshot written by MarshalJSON.
func UnmarshalJSON(data []byte) (Snapshot, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return fromDocument(doc)
}

func toDocument(s Snapshot) (document, error) {
	doc := document{
		Name:       s.Name,
		CapturedAt: s.CapturedAt,
		Events:     make([]eventRecord, 0, len(s.Events)),
		Vectors:    make([]vectorRecord, 0, len(s.Vectors)),
	}
	for i, event := range s.Events {
		record, err := encodeEvent(event)
		if err != nil {
			return document{}, fmt.Errorf("encode event %d: %w", i, err)
		}
		doc.Events = append(doc.Events, record)
	}
	for _, v := range core.NormalizeVectors(s.Vectors) {
		doc.Vectors = append(doc.Vectors, vectorRecord(v))
	}
	return doc, nil
}

func fromDocument(doc document) (Snapshot, error) {
	s := Snapshot{
		Name:       doc.Name,
		CapturedAt: doc.CapturedAt,
		Events:     make([]core.PipelineEvent, 0, len(doc.Events)),
		Vectors:    make([]core.Vector, 0, len(doc.Vectors)),
	}
	for i, record := range doc.Events {
		event, err := decodeEvent(record)
		if err != nil {
			return Snapshot{}, fmt.Errorf("decode event %d: %w", i, err)
		}
		s.Events = append(s.Events, event)
	}
	for _, v := range doc.Vectors {
		s.Vectors = append(s.Vectors, core.NormalizeVector(core.Vector(v)))
	}
	return s, nil
}

func encodeEvent(event core.PipelineEvent) (eventRecord, error) {
	if event == nil {
		return eventRecord{}, fmt.Errorf("nil event: %w", core.ErrInvalidInput)
	}
	record := eventRecord{
		Type:      event.EventType(),
		ID:        event.EventID(),
		Timestamp: event.OccurredAt(),
	}

	switch typed := core.CloneEvent(event).(type) {
	case core.IngestBatch:
		record.Source = typed.Source
		record.IDs = typed.IDs
	case *core.IngestBatch:
		return encodeEvent(*typed)
	case core.ReasoningStep:
		state, err := encodeState(typed.State)
		if err != nil {
			return eventRecord{}, err
		}
		record.StepKind = typed.StepKind
		record.State = state
		record.Prompt = typed.Prompt
		for _, call := range typed.ToolCalls {
			record.ToolCalls = append(record.ToolCalls, toolRecord(call))
		}
	case *core.ReasoningStep:
		return encodeEvent(*typed)
	case core.OpaqueEvent:
		record.Payload = typed.Payload
	default:
		payload, err := json.Marshal(event)
		if err != nil {
			return eventRecord{}, fmt.Errorf("encode %s payload: %w", record.Type, err)
		}
		record.Payload = payload
	}
	return record, nil
}

func decodeEvent(record eventRecord) (core.PipelineEvent, error) {
	switch record.Type {
	case core.EventTypeIngestBatch:
		return core.IngestBatch{
			ID:        record.ID,
			Timestamp: record.Timestamp,
			Source:    record.Source,
			IDs:       record.IDs,
		}, nil

	case core.EventTypeReasoningStep:
		state, err := decodeState(record.State)
		if err != nil {
			return nil, err
		}
		step := core.ReasoningStep{
			ID:        record.ID,
			Timestamp: record.Timestamp,
			StepKind:  record.StepKind,
			State:     state,
			Prompt:    record.Prompt,
		}
		for _, call := range record.ToolCalls {
			step.ToolCalls = append(step.ToolCalls, core.ToolExecution(call))
		}
		return step, nil

	case "":
		return nil, fmt.Errorf("event %s has no type: %w", record.ID, core.ErrInvalidInput)

	default:
		return core.OpaqueEvent{
			ID:        record.ID,
			Timestamp: record.Timestamp,
			Type:      record.Type,
			Payload:   record.Payload,
		}, nil
	}
}

// encodeState writes state as a JSON object carrying "kind" and "text" next
// to the variant's own fields.
func encodeState(state core.ReasoningState) (json.RawMessage, error) {
	if state == nil {
		return nil, nil
	}

	fields := map[string]any{}
	if unknown, ok := state.(core.UnknownState); ok {
		for k, v := range unknown.Fields {
			fields[k] = v
		}
	} else {
		raw, err := json.Marshal(state)
		if err != nil {
			return nil, fmt.Errorf("encode %s state: %w", state.Kind(), err)
		}
		// Non-object encodings carry no extra fields.
		_ = json.Unmarshal(raw, &fields)
	}
	fields["kind"] = state.Kind()
	fields["text"] = state.Text()

	return json.Marshal(fields)
}

func decodeState(raw json.RawMessage) (core.ReasoningState, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var head struct {
		Kind string `json:"kind"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}

	decode := func(target core.ReasoningState) (core.ReasoningState, error) {
		if err := json.Unmarshal(raw, target); err != nil {
			return nil, fmt.Errorf("decode %s state: %w", head.Kind, err)
		}
		return target, nil
	}

	switch head.Kind {
	case core.StateKindDraft:
		return core.Draft{Content: head.Text}, nil
	case core.StateKindCritique:
		return core.Critique{Content: head.Text}, nil
	case core.StateKindFinal:
		return core.FinalSpec{Content: head.Text}, nil
	case core.StateKindThinking:
		return core.Thinking{Content: head.Text}, nil
	case core.StateKindDocumentRevision:
		state, err := decode(&core.DocumentRevision{})
		if err != nil {
			return nil, err
		}
		return *state.(*core.DocumentRevision), nil
	case core.StateKindToolSelection:
		state, err := decode(&core.ToolSelection{})
		if err != nil {
			return nil, err
		}
		return *state.(*core.ToolSelection), nil
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode %s state: %w", head.Kind, err)
	}
	delete(fields, "kind")
	delete(fields, "text")
	return core.UnknownState{StateKind: head.Kind, Content: head.Text, Fields: fields}, nil
}
