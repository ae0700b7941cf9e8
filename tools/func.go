package tools

import (
	"context"
	"encoding/json"

	"github.com/becomeliminal/nim-branch-sdk/core"
)

// Definition describes a tool without its implementation.
type Definition struct {
	ToolName        string
	ToolDescription string
	InputSchema     map[string]interface{}
}

// Handler executes a tool call.
type Handler func(ctx context.Context, arguments json.RawMessage) (string, error)

type funcTool struct {
	def     Definition
	handler Handler
}

// NewFunc binds a handler to a definition.
func NewFunc(def Definition, handler Handler) core.Tool {
	if def.InputSchema == nil {
		def.InputSchema = ObjectSchema(nil)
	}
	return &funcTool{def: def, handler: handler}
}

func (t *funcTool) Name() string                        { return t.def.ToolName }
func (t *funcTool) Description() string                 { return t.def.ToolDescription }
func (t *funcTool) InputSchema() map[string]interface{} { return t.def.InputSchema }

func (t *funcTool) Execute(ctx context.Context, arguments json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return t.handler(ctx, arguments)
}
