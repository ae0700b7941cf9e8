package core

import (
	"context"
	"encoding/json"
	"time"
)

// ToolExecution records one external tool invocation.
type ToolExecution struct {
	ToolName string
	// Arguments is the JSON input passed to the tool.
	Arguments json.RawMessage
	// Output is the tool's textual result.
	Output string
	// Error is set when the invocation failed.
	Error      string
	DurationMs int64
	Timestamp  time.Time
}

// CloneToolExecutions deep copies tool records, keeping nil as nil.
func CloneToolExecutions(calls []ToolExecution) []ToolExecution {
	if calls == nil {
		return nil
	}
	cloned := make([]ToolExecution, len(calls))
	for i, call := range calls {
		call.Arguments = cloneRaw(call.Arguments)
		cloned[i] = call
	}
	return cloned
}

// Tool is one invocable capability.
type Tool interface {
	Name() string
	Description() string
	// InputSchema is a JSON Schema object describing Arguments.
	InputSchema() map[string]interface{}
	// Execute runs the tool with raw JSON arguments.
	Execute(ctx context.Context, arguments json.RawMessage) (string, error)
}

// ToolRegistry resolves tools by name and renders their schemas for prompts.
type ToolRegistry interface {
	Get(name string) (Tool, bool)
	// Schema renders a description of every registered tool.
	Schema() string
}

// Embedder converts text to vector embeddings.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns embedding vector size.
	Dimensions() int
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
