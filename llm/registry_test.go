package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/memory/embedder/mock"
)

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	generator := EchoGenerator()
	registry, err := NewRegistry(
		map[string]core.Generator{" echo ": generator},
		map[string]core.Embedder{"hash": mock.New(8)},
	)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	if _, err := registry.Generator("echo"); err != nil {
		t.Fatalf("resolve trimmed key: %v", err)
	}
	embedder, err := registry.Embedder(" hash ")
	if err != nil {
		t.Fatalf("resolve embedder: %v", err)
	}
	if embedder.Dimensions() != 8 {
		t.Fatalf("dimensions = %d", embedder.Dimensions())
	}

	if _, err := registry.Generator("missing"); err == nil {
		t.Fatal("expected error for unknown profile")
	}
	if _, err := registry.Embedder(""); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}

	var nilRegistry *Registry
	if _, err := nilRegistry.Generator("echo"); err == nil {
		t.Fatal("expected error for nil registry")
	}
}

func TestNewRegistryRejectsInvalidProviders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		generators map[string]core.Generator
		embedders  map[string]core.Embedder
	}{
		{name: "empty", generators: nil, embedders: nil},
		{name: "blank key", generators: map[string]core.Generator{" ": EchoGenerator()}},
		{name: "nil generator", generators: map[string]core.Generator{"g": nil}},
		{name: "duplicate after trim", embedders: map[string]core.Embedder{"e": mock.New(4), " e": mock.New(4)}},
	}
	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewRegistry(testCase.generators, testCase.embedders); !errors.Is(err, core.ErrInvalidInput) {
				t.Fatalf("error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(`{
		"request_timeout": "5s",
		"profiles": {
			"offline": {"type": "mock", "dimensions": 16, "cache_entries": 32},
			"claude": {"type": "anthropic", "api_key": "k"},
			"openai": {"type": "openai", "api_key": "k", "dimensions": 64},
			"gemini": {"type": "gemini", "api_key": "k"}
		}
	}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	registry, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer registry.Close()

	for _, key := range []string{"offline", "claude", "openai", "gemini"} {
		if _, err := registry.Generator(key); err != nil {
			t.Fatalf("generator %s: %v", key, err)
		}
	}
	if _, err := registry.Embedder("claude"); err == nil {
		t.Fatal("anthropic profile must not provide an embedder")
	}

	openaiEmbedder, err := registry.Embedder("openai")
	if err != nil {
		t.Fatalf("embedder openai: %v", err)
	}
	if openaiEmbedder.Dimensions() != 64 {
		t.Fatalf("openai dimensions = %d", openaiEmbedder.Dimensions())
	}

	ctx := context.Background()
	generator, _ := registry.Generator("offline")
	echoed, err := generator.Generate(ctx, "prompt {context}")
	if err != nil || echoed != "prompt {context}" {
		t.Fatalf("echo = %q, %v", echoed, err)
	}

	embedder, _ := registry.Embedder("offline")
	first, err := embedder.Embed(ctx, "same text")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(first) != 16 {
		t.Fatalf("embedding length = %d, want 16", len(first))
	}
}

func TestTimeoutGeneratorBoundsCalls(t *testing.T) {
	t.Parallel()

	slow := core.GeneratorFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	generator := timeoutGenerator{next: slow, timeout: 10 * time.Millisecond}

	if _, err := generator.Generate(context.Background(), "p"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

func TestEchoGeneratorHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := EchoGenerator().Generate(ctx, "p"); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want canceled", err)
	}
}
