package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/becomeliminal/nim-branch-sdk/core"
)

// Registry holds tools by name. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]core.Tool
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...core.Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]core.Tool, len(tools))}
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds tool. Names must be unique.
func (r *Registry) Register(tool core.Tool) error {
	if tool == nil || tool.Name() == "" {
		return fmt.Errorf("register tool: missing name: %w", core.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tools == nil {
		r.tools = make(map[string]core.Tool)
	}
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("register tool %q: already registered: %w", tool.Name(), core.ErrInvalidInput)
	}
	r.tools[tool.Name()] = tool
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (core.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type schemaEntry struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Schema renders every tool as a JSON array of name, description and
// input_schema, sorted by name. An empty registry renders "[]".
func (r *Registry) Schema() string {
	names := r.Names()

	r.mu.RLock()
	entries := make([]schemaEntry, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		entries = append(entries, schemaEntry{
			Name:        name,
			Description: tool.Description(),
			InputSchema: tool.InputSchema(),
		})
	}
	r.mu.RUnlock()

	data, err := json.Marshal(entries)
	if err != nil {
		// Schemas are built from plain maps; fall back to names only.
		data, _ = json.Marshal(names)
	}
	return string(data)
}

var _ core.ToolRegistry = (*Registry)(nil)
