package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/memory"
)

// Built-in tool names.
const (
	SearchStoreTool = "search_store"
	ListStoreTool   = "list_store"
)

const (
	defaultSearchK  = 4
	defaultListSize = 20
)

// StoreToolDefinitions returns the definitions of the built-in store tools.
func StoreToolDefinitions() []Definition {
	return []Definition{
		{
			ToolName:        SearchStoreTool,
			ToolDescription: "Search the branch vector store for passages similar to a query. Returns one passage per line, best match first.",
			InputSchema: WithThought(ObjectSchema(map[string]interface{}{
				"query": StringProperty("Text to search for"),
				"k":     IntegerProperty("Maximum number of passages to return (default: 4)"),
			}, "query"), false),
		},
		{
			ToolName:        ListStoreTool,
			ToolDescription: "List stored vector ids with the start of their text, in insertion order.",
			InputSchema: WithThought(ObjectSchema(map[string]interface{}{
				"limit": IntegerProperty("Maximum number of entries to return (default: 20)"),
			}), false),
		},
	}
}

// StoreTools creates the built-in store tools bound to store and embedder.
func StoreTools(store memory.VectorStore, embedder core.Embedder) []core.Tool {
	definitions := StoreToolDefinitions()
	return []core.Tool{
		NewFunc(definitions[0], searchHandler(store, embedder)),
		NewFunc(definitions[1], listHandler(store)),
	}
}

// NewStoreSearch creates the search_store tool.
func NewStoreSearch(store memory.VectorStore, embedder core.Embedder) core.Tool {
	return NewFunc(StoreToolDefinitions()[0], searchHandler(store, embedder))
}

func searchHandler(store memory.VectorStore, embedder core.Embedder) Handler {
	return func(ctx context.Context, arguments json.RawMessage) (string, error) {
		var args struct {
			core.BaseInput
			Query string `json:"query"`
			K     int    `json:"k"`
		}
		if err := decodeArgs(arguments, &args); err != nil {
			return "", err
		}
		if strings.TrimSpace(args.Query) == "" {
			return "", fmt.Errorf("%s: query is required: %w", SearchStoreTool, core.ErrInvalidInput)
		}
		if args.K <= 0 {
			args.K = defaultSearchK
		}

		vectors, err := store.GetSimilar(ctx, embedder, args.Query, args.K)
		if err != nil {
			return "", fmt.Errorf("%s: %w", SearchStoreTool, err)
		}
		texts := make([]string, 0, len(vectors))
		for _, v := range vectors {
			texts = append(texts, v.Text)
		}
		return strings.Join(texts, "\n"), nil
	}
}

func listHandler(store memory.VectorStore) Handler {
	return func(ctx context.Context, arguments json.RawMessage) (string, error) {
		var args struct {
			core.BaseInput
			Limit int `json:"limit"`
		}
		if err := decodeArgs(arguments, &args); err != nil {
			return "", err
		}
		if args.Limit <= 0 {
			args.Limit = defaultListSize
		}

		vectors, err := store.GetAll(ctx)
		if err != nil {
			return "", fmt.Errorf("%s: %w", ListStoreTool, err)
		}
		var b strings.Builder
		for i, v := range vectors {
			if i == args.Limit {
				break
			}
			fmt.Fprintf(&b, "%s: %s\n", v.ID, preview(v.Text, 60))
		}
		return strings.TrimSuffix(b.String(), "\n"), nil
	}
}

// decodeArgs accepts empty arguments as an empty object.
func decodeArgs(arguments json.RawMessage, target any) error {
	if len(arguments) == 0 || string(arguments) == "null" {
		return nil
	}
	if err := json.Unmarshal(arguments, target); err != nil {
		return fmt.Errorf("decode tool arguments: %w: %w", core.ErrInvalidInput, err)
	}
	return nil
}

func preview(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes]) + "..."
}
