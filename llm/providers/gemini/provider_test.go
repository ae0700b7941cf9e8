package gemini

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"

	"github.com/becomeliminal/nim-branch-sdk/core"
)

type modelsClientStub struct {
	generateModel  string
	generateConfig *genai.GenerateContentConfig
	contents       []*genai.Content
	generateResp   *genai.GenerateContentResponse

	embedModel  string
	embedConfig *genai.EmbedContentConfig
	embedResp   *genai.EmbedContentResponse

	err error
}

func (s *modelsClientStub) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	s.generateModel = model
	s.contents = contents
	s.generateConfig = config
	return s.generateResp, s.err
}

func (s *modelsClientStub) EmbedContent(_ context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	s.embedModel = model
	s.contents = contents
	s.embedConfig = config
	return s.embedResp, s.err
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing api key", cfg: Config{}},
		{name: "negative dimensions", cfg: Config{APIKey: "key", Dimensions: -3}},
		{name: "negative max output tokens", cfg: Config{APIKey: "key", MaxOutputTokens: -1}},
	}
	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(testCase.cfg); !errors.Is(err, core.ErrInvalidInput) {
				t.Fatalf("error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestGenerateMapsRequest(t *testing.T) {
	t.Parallel()

	stub := &modelsClientStub{generateResp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: "critique "}, {Text: "done"}},
			},
		}},
	}}
	p := &Provider{models: stub, config: Config{
		Model:             "gemini-test",
		SystemInstruction: "answer tersely",
		Temperature:       0.25,
		MaxOutputTokens:   100,
	}}

	got, err := p.Generate(context.Background(), "critique this")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != "critique done" {
		t.Fatalf("text = %q, want %q", got, "critique done")
	}
	if stub.generateModel != "gemini-test" {
		t.Fatalf("model = %q", stub.generateModel)
	}
	if len(stub.contents) != 1 || stub.contents[0].Parts[0].Text != "critique this" {
		t.Fatalf("contents = %+v", stub.contents)
	}
	cfg := stub.generateConfig
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "answer tersely" {
		t.Fatalf("system instruction = %+v", cfg.SystemInstruction)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.25 || cfg.MaxOutputTokens != 100 {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	stub := &modelsClientStub{embedResp: &genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{{Values: []float32{0.1, 0.2}}},
	}}
	p := &Provider{models: stub, config: Config{EmbeddingModel: "embed-test", Dimensions: 2}}

	got, err := p.Embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(got) != 2 || got[0] != 0.1 || got[1] != 0.2 {
		t.Fatalf("embedding = %v", got)
	}
	if stub.embedModel != "embed-test" || stub.embedConfig == nil || *stub.embedConfig.OutputDimensionality != 2 {
		t.Fatalf("request = %q %+v", stub.embedModel, stub.embedConfig)
	}

	got[0] = 9
	if stub.embedResp.Embeddings[0].Values[0] != 0.1 {
		t.Fatal("embedding aliases the response buffer")
	}
}

func TestEmbedErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("quota")
	p := &Provider{models: &modelsClientStub{err: boom}, config: Config{EmbeddingModel: "m"}}
	if _, err := p.Embed(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped error", err)
	}

	p = &Provider{models: &modelsClientStub{embedResp: &genai.EmbedContentResponse{}}, config: Config{EmbeddingModel: "m"}}
	if _, err := p.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty response")
	}
}
