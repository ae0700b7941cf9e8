// Package llm resolves generators and embedders from named provider profiles.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/llm/providers/anthropic"
	"github.com/becomeliminal/nim-branch-sdk/llm/providers/gemini"
	"github.com/becomeliminal/nim-branch-sdk/llm/providers/openai"
	"github.com/becomeliminal/nim-branch-sdk/memory/embedder/cached"
	"github.com/becomeliminal/nim-branch-sdk/memory/embedder/mock"
)

// Registry resolves configured providers by stable profile key.
//
// The provider maps are copied on construction and remain immutable
// afterward, so resolution is safe for concurrent use.
type Registry struct {
	generators map[string]core.Generator
	embedders  map[string]core.Embedder
	closers    []func()
}

// NewRegistry constructs one immutable registry. Either map may be empty but
// not both.
func NewRegistry(generators map[string]core.Generator, embedders map[string]core.Embedder) (*Registry, error) {
	if len(generators) == 0 && len(embedders) == 0 {
		return nil, fmt.Errorf("new llm registry: empty providers: %w", core.ErrInvalidInput)
	}

	clonedGenerators, err := cloneProviders("generator", generators)
	if err != nil {
		return nil, err
	}
	clonedEmbedders, err := cloneProviders("embedder", embedders)
	if err != nil {
		return nil, err
	}
	return &Registry{generators: clonedGenerators, embedders: clonedEmbedders}, nil
}

func cloneProviders[P comparable](kind string, providers map[string]P) (map[string]P, error) {
	var zero P
	cloned := make(map[string]P, len(providers))
	for key, provider := range providers {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return nil, fmt.Errorf("new llm registry: empty %s key: %w", kind, core.ErrInvalidInput)
		}
		if provider == zero {
			return nil, fmt.Errorf("new llm registry: %s %s is nil: %w", kind, trimmedKey, core.ErrInvalidInput)
		}
		if _, exists := cloned[trimmedKey]; exists {
			return nil, fmt.Errorf("new llm registry: duplicate %s key %s: %w", kind, trimmedKey, core.ErrInvalidInput)
		}
		cloned[trimmedKey] = provider
	}
	return cloned, nil
}

// Generator returns one configured generator by profile key.
func (r *Registry) Generator(profile string) (core.Generator, error) {
	if r == nil {
		return nil, fmt.Errorf("resolve generator: nil registry")
	}
	trimmed := strings.TrimSpace(profile)
	if trimmed == "" {
		return nil, fmt.Errorf("resolve generator: empty profile key: %w", core.ErrInvalidInput)
	}
	generator, exists := r.generators[trimmed]
	if !exists {
		return nil, fmt.Errorf("resolve generator: profile %s is not configured", trimmed)
	}
	return generator, nil
}

// Embedder returns one configured embedder by profile key.
func (r *Registry) Embedder(profile string) (core.Embedder, error) {
	if r == nil {
		return nil, fmt.Errorf("resolve embedder: nil registry")
	}
	trimmed := strings.TrimSpace(profile)
	if trimmed == "" {
		return nil, fmt.Errorf("resolve embedder: empty profile key: %w", core.ErrInvalidInput)
	}
	embedder, exists := r.embedders[trimmed]
	if !exists {
		return nil, fmt.Errorf("resolve embedder: profile %s is not configured", trimmed)
	}
	return embedder, nil
}

// Close releases caches created by Build.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for _, closeFn := range r.closers {
		closeFn()
	}
	r.closers = nil
}

// Build constructs every profile in cfg. Every call through the returned
// providers is bounded by cfg.RequestTimeout.
func Build(cfg Config) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	generators := make(map[string]core.Generator, len(cfg.Profiles))
	embedders := make(map[string]core.Embedder, len(cfg.Profiles))
	var closers []func()

	for _, key := range sortedKeys(cfg.Profiles) {
		generator, embedder, err := buildProfile(cfg.Profiles[key])
		if err != nil {
			for _, closeFn := range closers {
				closeFn()
			}
			return nil, fmt.Errorf("build llm profile %s: %w", key, err)
		}

		generators[key] = timeoutGenerator{next: generator, timeout: cfg.RequestTimeout}
		if embedder == nil {
			continue
		}
		if entries := cfg.Profiles[key].CacheEntries; entries > 0 {
			cache, err := cached.New(embedder, cached.Config{MaxEntries: entries})
			if err != nil {
				for _, closeFn := range closers {
					closeFn()
				}
				return nil, fmt.Errorf("build llm profile %s: %w", key, err)
			}
			closers = append(closers, cache.Close)
			embedder = cache
		}
		embedders[key] = timeoutEmbedder{next: embedder, timeout: cfg.RequestTimeout}
	}

	registry, err := NewRegistry(generators, embedders)
	if err != nil {
		return nil, err
	}
	registry.closers = closers
	return registry, nil
}

func buildProfile(profile Profile) (core.Generator, core.Embedder, error) {
	switch profile.Type {
	case TypeAnthropic:
		generator, err := anthropic.New(anthropic.Config{
			APIKey:       profile.APIKey,
			BaseURL:      profile.BaseURL,
			Model:        profile.Model,
			MaxTokens:    int64(profile.MaxOutputTokens),
			Temperature:  profile.Temperature,
			SystemPrompt: profile.SystemPrompt,
			MaxRetries:   profile.MaxRetries,
		})
		return generator, nil, err
	case TypeOpenAI:
		provider, err := openai.New(openai.Config{
			APIKey:          profile.APIKey,
			BaseURL:         profile.BaseURL,
			Organization:    profile.Organization,
			Project:         profile.Project,
			Model:           profile.Model,
			EmbeddingModel:  profile.EmbeddingModel,
			Dimensions:      profile.Dimensions,
			MaxOutputTokens: int64(profile.MaxOutputTokens),
			Temperature:     profile.Temperature,
			Instructions:    profile.SystemPrompt,
			MaxRetries:      profile.MaxRetries,
		})
		if err != nil {
			return nil, nil, err
		}
		return provider, provider, nil
	case TypeGemini:
		provider, err := gemini.New(gemini.Config{
			APIKey:            profile.APIKey,
			BaseURL:           profile.BaseURL,
			APIVersion:        profile.APIVersion,
			Model:             profile.Model,
			EmbeddingModel:    profile.EmbeddingModel,
			Dimensions:        profile.Dimensions,
			MaxOutputTokens:   profile.MaxOutputTokens,
			Temperature:       profile.Temperature,
			SystemInstruction: profile.SystemPrompt,
		})
		if err != nil {
			return nil, nil, err
		}
		return provider, provider, nil
	case TypeMock:
		return EchoGenerator(), mock.New(profile.Dimensions), nil
	default:
		return nil, nil, fmt.Errorf("unsupported type %q: %w", profile.Type, core.ErrInvalidInput)
	}
}

// EchoGenerator returns a generator that answers with its prompt. It makes
// offline replays deterministic.
func EchoGenerator() core.Generator {
	return core.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return prompt, nil
	})
}

type timeoutGenerator struct {
	next    core.Generator
	timeout time.Duration
}

func (g timeoutGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.next.Generate(ctx, prompt)
}

type timeoutEmbedder struct {
	next    core.Embedder
	timeout time.Duration
}

func (e timeoutEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.next.Embed(ctx, text)
}

func (e timeoutEmbedder) Dimensions() int {
	return e.next.Dimensions()
}
