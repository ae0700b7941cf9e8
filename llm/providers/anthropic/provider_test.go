package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/becomeliminal/nim-branch-sdk/core"
)

type messagesClientStub struct {
	params []anthropic.MessageNewParams
	resp   *anthropic.Message
	err    error
}

func (s *messagesClientStub) New(_ context.Context, body anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	s.params = append(s.params, body)
	return s.resp, s.err
}

func mustMessage(t *testing.T, raw string) *anthropic.Message {
	t.Helper()
	var msg anthropic.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	return &msg
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{APIKey: "  "}); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
	g, err := New(Config{APIKey: "key"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if g.config.Model != DefaultModel || g.config.MaxTokens != DefaultMaxTokens {
		t.Fatalf("defaults not applied: %+v", g.config)
	}
}

func TestGenerateMapsRequestAndJoinsText(t *testing.T) {
	t.Parallel()

	stub := &messagesClientStub{resp: mustMessage(t, `{
		"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
		"content":[{"type":"text","text":"hello "},{"type":"tool_use","id":"t1","name":"x","input":{}},{"type":"text","text":"world"}],
		"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":2}
	}`)}
	g := &Generator{messages: stub, config: Config{Model: "claude-test", MaxTokens: 64, SystemPrompt: "be brief", Temperature: 0.2}}

	got, err := g.Generate(context.Background(), "say hi")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("text = %q, want %q", got, "hello world")
	}

	if len(stub.params) != 1 {
		t.Fatalf("requests = %d, want 1", len(stub.params))
	}
	params := stub.params[0]
	if string(params.Model) != "claude-test" || params.MaxTokens != 64 {
		t.Fatalf("params = %+v", params)
	}
	if len(params.System) != 1 || params.System[0].Text != "be brief" {
		t.Fatalf("system = %+v", params.System)
	}
	if !params.Temperature.Valid() || params.Temperature.Value != 0.2 {
		t.Fatalf("temperature = %+v", params.Temperature)
	}
	if len(params.Messages) != 1 || params.Messages[0].Role != anthropic.MessageParamRoleUser {
		t.Fatalf("messages = %+v", params.Messages)
	}
}

func TestGenerateWrapsAPIError(t *testing.T) {
	t.Parallel()

	boom := errors.New("overloaded")
	g := &Generator{messages: &messagesClientStub{err: boom}, config: Config{Model: "m", MaxTokens: 1}}

	if _, err := g.Generate(context.Background(), "p"); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped api error", err)
	}
}
