package core

// Reasoning state kinds. FinalSpec reports "Final" to match recorded traces.
const (
	StateKindDraft            = "Draft"
	StateKindCritique         = "Critique"
	StateKindFinal            = "Final"
	StateKindThinking         = "Thinking"
	StateKindDocumentRevision = "DocumentRevision"
	StateKindToolSelection    = "ToolSelection"
)

// ReasoningState is the payload produced by one generation round.
//
// Implementations form a tagged union keyed by Kind. The core only reads Kind
// and Text; every other field is opaque to it.
type ReasoningState interface {
	// Kind identifies the variant.
	Kind() string
	// Text is the generated content of this state.
	Text() string
}

// Draft is a first-pass answer.
type Draft struct {
	Content string `json:"text"`
}

func (Draft) Kind() string   { return StateKindDraft }
func (s Draft) Text() string { return s.Content }

// Critique reviews an earlier draft.
type Critique struct {
	Content string `json:"text"`
}

func (Critique) Kind() string   { return StateKindCritique }
func (s Critique) Text() string { return s.Content }

// FinalSpec is the accepted outcome of a reasoning chain.
type FinalSpec struct {
	Content string `json:"text"`
}

func (FinalSpec) Kind() string   { return StateKindFinal }
func (s FinalSpec) Text() string { return s.Content }

// Thinking carries intermediate reasoning that is not itself an answer.
type Thinking struct {
	Content string `json:"text"`
}

func (Thinking) Kind() string   { return StateKindThinking }
func (s Thinking) Text() string { return s.Content }

// DocumentRevision records one iteration of editing a file toward a goal.
type DocumentRevision struct {
	Content   string `json:"text"`
	FilePath  string `json:"file_path"`
	Iteration int    `json:"iteration"`
	Goal      string `json:"goal"`
}

func (DocumentRevision) Kind() string   { return StateKindDocumentRevision }
func (s DocumentRevision) Text() string { return s.Content }

// ToolSelection summarizes which tools a step decided to call.
type ToolSelection struct {
	Content string   `json:"text"`
	Tools   []string `json:"tools"`
}

func (ToolSelection) Kind() string   { return StateKindToolSelection }
func (s ToolSelection) Text() string { return s.Content }

// UnknownState preserves a state whose kind this package does not model.
// Fields holds every attribute other than kind and text.
type UnknownState struct {
	StateKind string
	Content   string
	Fields    map[string]any
}

func (s UnknownState) Kind() string { return s.StateKind }
func (s UnknownState) Text() string { return s.Content }

// StateForKind builds a fresh state of the given kind carrying text.
//
// Only Draft, Critique and Final are reconstructed; every other kind falls back
// to Draft. Replay relies on this fallback to keep unknown steps in the trace.
func StateForKind(kind string, text string) ReasoningState {
	switch kind {
	case StateKindCritique:
		return Critique{Content: text}
	case StateKindFinal:
		return FinalSpec{Content: text}
	default:
		return Draft{Content: text}
	}
}

// CloneState returns a copy of state that shares no mutable memory with it.
// States of caller-defined types are returned unchanged.
func CloneState(state ReasoningState) ReasoningState {
	switch typed := state.(type) {
	case ToolSelection:
		typed.Tools = append([]string(nil), typed.Tools...)
		return typed
	case *ToolSelection:
		if typed == nil {
			return typed
		}
		cloned := *typed
		cloned.Tools = append([]string(nil), typed.Tools...)
		return cloned
	case UnknownState:
		typed.Fields = CloneMetadata(typed.Fields)
		return typed
	default:
		return state
	}
}
