// Package gemini adapts the Gemini API to core.Generator and core.Embedder.
package gemini

import (
	"context"
	"fmt"
	"math"
	"strings"

	"google.golang.org/genai"

	"github.com/becomeliminal/nim-branch-sdk/core"
)

const (
	// DefaultModel is used when Config.Model is empty.
	DefaultModel = "gemini-2.5-flash"
	// DefaultEmbeddingModel is used when Config.EmbeddingModel is empty.
	DefaultEmbeddingModel = "gemini-embedding-001"
)

// Config configures one Gemini-backed generator and embedder.
type Config struct {
	APIKey     string
	BaseURL    string
	APIVersion string

	Model          string
	EmbeddingModel string
	// Dimensions optionally truncates embeddings. Zero keeps the model default.
	Dimensions      int
	MaxOutputTokens int
	Temperature     float64
	// SystemInstruction is sent with every generation when set.
	SystemInstruction string
}

type modelsClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Provider implements core.Generator and core.Embedder.
type Provider struct {
	models modelsClient
	config Config
}

// New builds one Gemini API provider instance.
func New(cfg Config) (*Provider, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("new gemini provider: missing api key: %w", core.ErrInvalidInput)
	}
	if cfg.Dimensions < 0 || cfg.Dimensions > math.MaxInt32 {
		return nil, fmt.Errorf("new gemini provider: dimensions out of range: %w", core.ErrInvalidInput)
	}
	if cfg.MaxOutputTokens < 0 || cfg.MaxOutputTokens > math.MaxInt32 {
		return nil, fmt.Errorf("new gemini provider: max_output_tokens out of range: %w", core.ErrInvalidInput)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    cfg.BaseURL,
			APIVersion: cfg.APIVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("new gemini client: %w", err)
	}
	if client == nil || client.Models == nil {
		return nil, fmt.Errorf("new gemini client: models client is nil")
	}

	return &Provider{models: client.Models, config: cfg}, nil
}

// Generate sends prompt as one user turn and returns the response text.
func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{}
	if p.config.SystemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: p.config.SystemInstruction}},
		}
	}
	if p.config.Temperature > 0 {
		temperature := float32(p.config.Temperature)
		config.Temperature = &temperature
	}
	if p.config.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(p.config.MaxOutputTokens)
	}

	resp, err := p.models.GenerateContent(ctx, p.config.Model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}

// Embed returns the embedding of text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	var config *genai.EmbedContentConfig
	if p.config.Dimensions > 0 {
		dims := int32(p.config.Dimensions)
		config = &genai.EmbedContentConfig{OutputDimensionality: &dims}
	}

	resp, err := p.models.EmbedContent(ctx, p.config.EmbeddingModel, genai.Text(text), config)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("gemini embed: empty response")
	}
	return append([]float32(nil), resp.Embeddings[0].Values...), nil
}

// Dimensions reports the configured embedding width, or zero when the model decides.
func (p *Provider) Dimensions() int {
	return p.config.Dimensions
}

var (
	_ core.Generator = (*Provider)(nil)
	_ core.Embedder  = (*Provider)(nil)
)
