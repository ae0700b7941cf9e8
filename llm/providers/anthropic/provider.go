// Package anthropic adapts the Claude Messages API to core.Generator.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/becomeliminal/nim-branch-sdk/core"
)

const (
	// DefaultModel is used when Config.Model is empty.
	DefaultModel = "claude-sonnet-4-20250514"
	// DefaultMaxTokens is used when Config.MaxTokens is zero.
	DefaultMaxTokens = 4096
)

// Config configures one Claude-backed generator.
type Config struct {
	// APIKey is the credential used to authenticate requests.
	APIKey string
	// BaseURL optionally overrides the API endpoint.
	BaseURL string
	// Model is the Claude model to call.
	Model string
	// MaxTokens limits generated tokens per request.
	MaxTokens int64
	// Temperature optionally controls randomness. Zero keeps the API default.
	Temperature float64
	// SystemPrompt is sent with every request when set.
	SystemPrompt string
	// MaxRetries optionally overrides the SDK retry count.
	MaxRetries *int
}

type messagesClient interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Generator generates text with the Claude Messages API.
type Generator struct {
	messages messagesClient
	config   Config
}

// New builds a Claude generator.
func New(cfg Config) (*Generator, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("new anthropic generator: missing api key: %w", core.ErrInvalidInput)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries != nil {
		options = append(options, option.WithMaxRetries(*cfg.MaxRetries))
	}

	client := anthropic.NewClient(options...)
	return &Generator{messages: &client.Messages, config: cfg}, nil
}

// Generate sends prompt as a single user message and returns the joined text blocks.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.config.Model),
		MaxTokens: g.config.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if g.config.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: g.config.SystemPrompt}}
	}
	if g.config.Temperature > 0 {
		params.Temperature = anthropic.Float(g.config.Temperature)
	}

	resp, err := g.messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude api error: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

var _ core.Generator = (*Generator)(nil)
