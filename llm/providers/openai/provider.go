// Package openai adapts the OpenAI Responses and Embeddings APIs to
// core.Generator and core.Embedder.
package openai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"github.com/becomeliminal/nim-branch-sdk/core"
)

const (
	// DefaultModel is used when Config.Model is empty.
	DefaultModel = "gpt-4.1-mini"
	// DefaultEmbeddingModel is used when Config.EmbeddingModel is empty.
	DefaultEmbeddingModel = "text-embedding-3-small"
)

// Config configures one OpenAI-backed generator and embedder.
type Config struct {
	// APIKey is the credential used to authenticate requests.
	APIKey string
	// BaseURL optionally overrides the API endpoint, e.g. for compatible servers.
	BaseURL string
	// Organization optionally sets the OpenAI organization header.
	Organization string
	// Project optionally sets the OpenAI project header.
	Project string
	// Model is the Responses model used by Generate.
	Model string
	// EmbeddingModel is the model used by Embed.
	EmbeddingModel string
	// Dimensions optionally truncates embeddings. Zero keeps the model default.
	Dimensions int
	// MaxOutputTokens optionally limits generated tokens.
	MaxOutputTokens int64
	// Temperature optionally controls randomness. Zero keeps the API default.
	Temperature float64
	// Instructions is sent as the system instruction when set.
	Instructions string
	// MaxRetries optionally overrides the SDK retry count.
	MaxRetries *int
}

type responsesClient interface {
	New(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) (*responses.Response, error)
}

type embeddingsClient interface {
	New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// Provider implements core.Generator and core.Embedder.
type Provider struct {
	responses  responsesClient
	embeddings embeddingsClient
	config     Config
}

// New builds one OpenAI provider instance.
func New(cfg Config) (*Provider, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("new openai provider: missing api key: %w", core.ErrInvalidInput)
	}
	if cfg.Dimensions < 0 {
		return nil, fmt.Errorf("new openai provider: negative dimensions: %w", core.ErrInvalidInput)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}

	options := make([]option.RequestOption, 0, 5)
	options = append(options, option.WithAPIKey(cfg.APIKey))
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Organization != "" {
		options = append(options, option.WithOrganization(cfg.Organization))
	}
	if cfg.Project != "" {
		options = append(options, option.WithProject(cfg.Project))
	}
	if cfg.MaxRetries != nil {
		options = append(options, option.WithMaxRetries(*cfg.MaxRetries))
	}

	client := openai.NewClient(options...)
	return &Provider{
		responses:  &client.Responses,
		embeddings: &client.Embeddings,
		config:     cfg,
	}, nil
}

// Generate sends prompt as a single input string and returns the aggregated output text.
func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	params := responses.ResponseNewParams{
		Model: p.config.Model,
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(prompt),
		},
	}
	if p.config.Instructions != "" {
		params.Instructions = openai.String(p.config.Instructions)
	}
	if p.config.Temperature > 0 {
		params.Temperature = openai.Float(p.config.Temperature)
	}
	if p.config.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(p.config.MaxOutputTokens)
	}

	resp, err := p.responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai responses: %w", err)
	}
	return resp.OutputText(), nil
}

// Embed returns the embedding of text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.config.EmbeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	}
	if p.config.Dimensions > 0 {
		params.Dimensions = openai.Int(int64(p.config.Dimensions))
	}

	resp, err := p.embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}

	values := resp.Data[0].Embedding
	embedding := make([]float32, len(values))
	for i, v := range values {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

// Dimensions reports the configured embedding width, or zero when the model decides.
func (p *Provider) Dimensions() int {
	return p.config.Dimensions
}

var (
	_ core.Generator = (*Provider)(nil)
	_ core.Embedder  = (*Provider)(nil)
)
