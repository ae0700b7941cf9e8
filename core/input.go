package core

import "encoding/json"

// BaseInput provides common fields for all tool arguments.
// Tools embed this struct so recorded tool calls keep the reasoning that
// motivated them across snapshots and replays.
type BaseInput struct {
	// Thought contains the reasoning about why the tool was invoked.
	// Optional for every built-in tool.
	Thought string `json:"thought,omitempty"`
}

// ThoughtOf extracts the thought field from raw tool arguments.
// Malformed or empty arguments yield an empty thought.
func ThoughtOf(arguments json.RawMessage) string {
	if len(arguments) == 0 {
		return ""
	}
	var base BaseInput
	if err := json.Unmarshal(arguments, &base); err != nil {
		return ""
	}
	return base.Thought
}
