package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"github.com/becomeliminal/nim-branch-sdk/branch"
	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/engine"
	"github.com/becomeliminal/nim-branch-sdk/memory/embedder/mock"
	"github.com/becomeliminal/nim-branch-sdk/memory/store/chromem"
	"github.com/becomeliminal/nim-branch-sdk/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingGenerator returns a canned response and records every prompt.
type recordingGenerator struct {
	mu       sync.Mutex
	prompts  []string
	response string
	err      error
	onCall   func(call int)
}

func (g *recordingGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	call := len(g.prompts)
	g.mu.Unlock()

	if g.onCall != nil {
		g.onCall(call)
	}
	if g.err != nil {
		return "", g.err
	}
	return fmt.Sprintf("%s #%d", g.response, call), nil
}

type auditRecorder struct {
	entries []*engine.AuditEntry
}

func (a *auditRecorder) Log(_ context.Context, entry *engine.AuditEntry) {
	a.entries = append(a.entries, entry)
}

const dims = 16

func sourceBranch(t *testing.T, texts ...string) branch.Branch {
	t.Helper()
	ctx := context.Background()
	embedder := mock.New(dims)

	store, err := chromem.New()
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	for i, text := range texts {
		embedding, _ := embedder.Embed(ctx, text)
		if err := store.Add(ctx, core.NewVector(fmt.Sprintf("v%d", i), text, embedding, nil)); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	return branch.New("original-branch", store, branch.WithSource("corpus"))
}

func newEngine(t *testing.T, generator core.Generator, opts ...engine.Option) *engine.Engine {
	t.Helper()
	e, err := engine.New(generator, mock.New(dims), opts...)
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	return e
}

func TestReplay_SingleDraftStep(t *testing.T) {
	ctx := context.Background()
	b := sourceBranch(t, "artificial intelligence is a field of study").
		WithReasoning(core.Draft{Content: "Draft"}, "prompt {context} {tools_schemas}", nil)

	generator := &recordingGenerator{response: "regenerated"}
	registry, _ := tools.NewRegistry()

	result, err := newEngine(t, generator).Replay(ctx, b, engine.Params{
		Topic: "AI",
		Query: "artificial intelligence",
		Tools: registry,
		K:     8,
	})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	if result.Name() != "original-branch_replay" {
		t.Errorf("name = %q, want original-branch_replay", result.Name())
	}
	if result.Len() != 1 {
		t.Fatalf("events = %d, want 1", result.Len())
	}
	step := result.ReasoningSteps()[0]
	draft, ok := step.State.(core.Draft)
	if !ok {
		t.Fatalf("state = %T, want core.Draft", step.State)
	}
	if draft.Text() != "regenerated #1" {
		t.Errorf("text = %q, want generator output", draft.Text())
	}
	if want := "prompt artificial intelligence is a field of study []"; generator.prompts[0] != want {
		t.Errorf("prompt = %q, want %q", generator.prompts[0], want)
	}
	if step.Prompt != generator.prompts[0] {
		t.Errorf("recorded prompt = %q, want substituted prompt", step.Prompt)
	}
	if result.Source() != "corpus" {
		t.Errorf("source = %v, want corpus", result.Source())
	}
}

func TestReplay_KeepsOnlyReasoningSteps(t *testing.T) {
	ctx := context.Background()
	b := sourceBranch(t, "alpha").
		WithIngestEvent("docs", []string{"v0"}).
		WithReasoning(core.Draft{Content: "d"}, "one", nil).
		WithEvent(core.OpaqueEvent{ID: uuid.New(), Type: "episode", Payload: json.RawMessage(`{}`)}).
		WithReasoning(core.Critique{Content: "c"}, "two", nil).
		WithIngestEvent("docs", []string{"v1"}).
		WithReasoning(core.FinalSpec{Content: "f"}, "three", nil).
		WithReasoning(core.Thinking{Content: "t"}, "four", nil)

	result, report, err := newEngine(t, &recordingGenerator{response: "r"}).ReplayWithReport(ctx, b, engine.Params{Query: "alpha", K: 1})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	if result.Len() != 4 {
		t.Fatalf("events = %d, want 4", result.Len())
	}
	for _, event := range result.Events() {
		if event.EventType() != core.EventTypeReasoningStep {
			t.Errorf("unexpected %s event in replay", event.EventType())
		}
	}
	if report.StepsReplayed != 4 || report.EventsDropped != 3 {
		t.Errorf("report = %+v", report)
	}

	tests := []struct {
		stepKind  string
		stateKind string
		prompt    string
	}{
		{core.StateKindDraft, core.StateKindDraft, "one"},
		{core.StateKindCritique, core.StateKindCritique, "two"},
		{core.StateKindFinal, core.StateKindFinal, "three"},
		{core.StateKindThinking, core.StateKindDraft, "four"},
	}
	original := b.ReasoningSteps()
	for i, step := range result.ReasoningSteps() {
		want := tests[i]
		if step.StepKind != want.stepKind {
			t.Errorf("step %d kind = %q, want %q", i, step.StepKind, want.stepKind)
		}
		if step.State.Kind() != want.stateKind {
			t.Errorf("step %d state kind = %q, want %q", i, step.State.Kind(), want.stateKind)
		}
		if step.Prompt != want.prompt {
			t.Errorf("step %d prompt = %q, want %q", i, step.Prompt, want.prompt)
		}
		if step.ID == original[i].ID {
			t.Errorf("step %d reused the original id", i)
		}
	}
}

func TestReplay_DoesNotTouchSource(t *testing.T) {
	ctx := context.Background()
	b := sourceBranch(t, "alpha", "beta").
		WithIngestEvent("docs", []string{"v0", "v1"}).
		WithReasoning(core.Draft{Content: "d"}, "p {context}", nil)
	eventsBefore := b.Events()
	vectorsBefore, _ := b.Store().GetAll(ctx)

	result, err := newEngine(t, &recordingGenerator{response: "r"}).Replay(ctx, b, engine.Params{Query: "alpha", K: 2})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	if result.Store() == b.Store() {
		t.Fatal("replay reused the source store")
	}
	if err := result.Store().Add(ctx, core.NewVector("extra", "only in replay", nil, nil)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	eventsAfter := b.Events()
	if len(eventsAfter) != len(eventsBefore) {
		t.Fatalf("source events = %d, want %d", len(eventsAfter), len(eventsBefore))
	}
	for i := range eventsBefore {
		if eventsAfter[i].EventID() != eventsBefore[i].EventID() {
			t.Errorf("source event %d changed", i)
		}
	}

	vectorsAfter, _ := b.Store().GetAll(ctx)
	if len(vectorsAfter) != len(vectorsBefore) {
		t.Fatalf("source vectors = %d, want %d", len(vectorsAfter), len(vectorsBefore))
	}
	replayVectors, _ := result.Store().GetAll(ctx)
	if len(replayVectors) != len(vectorsBefore)+1 {
		t.Errorf("replay vectors = %d, want %d", len(replayVectors), len(vectorsBefore)+1)
	}
}

func TestReplay_ReExecutesTools(t *testing.T) {
	ctx := context.Background()
	var executions int
	counter := tools.NewFunc(tools.Definition{ToolName: "count"}, func(_ context.Context, arguments json.RawMessage) (string, error) {
		executions++
		return fmt.Sprintf("fresh %d %s", executions, arguments), nil
	})
	broken := tools.NewFunc(tools.Definition{ToolName: "broken"}, func(context.Context, json.RawMessage) (string, error) {
		return "", errors.New("backend down")
	})
	registry, err := tools.NewRegistry(counter, broken)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	recorded := []core.ToolExecution{
		{ToolName: "count", Arguments: json.RawMessage(`{"n":1,"thought":"check"}`), Output: "stale"},
		{ToolName: "retired", Arguments: json.RawMessage(`{}`), Output: "gone"},
		{ToolName: "broken", Arguments: json.RawMessage(`{}`), Output: "ok once"},
	}
	b := sourceBranch(t, "alpha").
		WithReasoning(core.Draft{Content: "d"}, "with tools", recorded).
		WithReasoning(core.Draft{Content: "d"}, "without tools", nil)

	audit := &auditRecorder{}
	result, report, err := newEngine(t, &recordingGenerator{response: "r"}, engine.WithAudit(audit)).
		ReplayWithReport(ctx, b, engine.Params{Query: "alpha", Tools: registry, K: 1})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	steps := result.ReasoningSteps()
	calls := steps[0].ToolCalls
	if len(calls) != 2 {
		t.Fatalf("tool calls = %d, want 2 (unknown tool skipped)", len(calls))
	}
	if calls[0].ToolName != "count" || calls[0].Output != `fresh 1 {"n":1,"thought":"check"}` {
		t.Errorf("count call = %+v", calls[0])
	}
	if calls[1].ToolName != "broken" || calls[1].Error != "backend down" || calls[1].Output != "" {
		t.Errorf("broken call = %+v", calls[1])
	}
	if steps[1].ToolCalls != nil {
		t.Errorf("step without tools got %v", steps[1].ToolCalls)
	}
	if report.ToolsExecuted != 2 || report.ToolsSkipped != 1 || report.ToolErrors != 1 {
		t.Errorf("report = %+v", report)
	}

	if len(audit.entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(audit.entries))
	}
	if audit.entries[0].Thought != "check" || audit.entries[0].Branch != "original-branch" {
		t.Errorf("audit entry = %+v", audit.entries[0])
	}

	if b.ReasoningSteps()[0].ToolCalls[0].Output != "stale" {
		t.Error("source tool record was modified")
	}
}

func TestReplay_SubstitutionEdgeCases(t *testing.T) {
	ctx := context.Background()
	b := sourceBranch(t, "ctx {tools_schemas}").
		WithReasoning(core.Draft{}, "", nil).
		WithReasoning(core.Draft{}, "no tokens here", nil).
		WithReasoning(core.Draft{}, "{context}|{context}", nil)

	generator := &recordingGenerator{response: "r"}
	if _, err := newEngine(t, generator).Replay(ctx, b, engine.Params{Query: "ctx", K: 1}); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	want := []string{"", "no tokens here", "ctx {tools_schemas}|ctx {tools_schemas}"}
	for i, prompt := range generator.prompts {
		if prompt != want[i] {
			t.Errorf("prompt %d = %q, want %q", i, prompt, want[i])
		}
	}
}

func TestReplay_ZeroKGivesEmptyContext(t *testing.T) {
	b := sourceBranch(t, "alpha").WithReasoning(core.Draft{}, "[{context}]", nil)

	generator := &recordingGenerator{response: "r"}
	if _, err := newEngine(t, generator).Replay(context.Background(), b, engine.Params{Query: "alpha"}); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if generator.prompts[0] != "[]" {
		t.Errorf("prompt = %q, want []", generator.prompts[0])
	}
}

func TestReplay_EmbedderSizeMismatchGivesEmptyContext(t *testing.T) {
	ctx := context.Background()
	store, err := chromem.New()
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.Add(ctx, core.NewVector("1", "ai text", []float32{0.1, 0.2, 0.3}, nil)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	b := branch.New("original-branch", store).WithReasoning(core.Draft{Content: "Draft"}, "[{context}]", nil)

	generator := &recordingGenerator{response: "r"}
	result, err := newEngine(t, generator).Replay(ctx, b, engine.Params{Query: "ai", K: 8})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if generator.prompts[0] != "[]" {
		t.Errorf("prompt = %q, want []", generator.prompts[0])
	}
	if result.Len() != 1 {
		t.Fatalf("events = %d, want 1", result.Len())
	}
	vectors, err := result.Store().GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(vectors) != 1 || vectors[0].ID != "1" {
		t.Errorf("vectors = %v, want the stored fixture", vectors)
	}
}

func TestReplay_GeneratorFailureAborts(t *testing.T) {
	b := sourceBranch(t, "alpha").WithReasoning(core.Draft{}, "p", nil)
	boom := errors.New("provider unavailable")

	_, err := newEngine(t, &recordingGenerator{err: boom}).Replay(context.Background(), b, engine.Params{Query: "alpha", K: 1})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped provider error", err)
	}
}

func TestReplay_CancellationBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := sourceBranch(t, "alpha").
		WithReasoning(core.Draft{}, "one", nil).
		WithReasoning(core.Draft{}, "two", nil).
		WithReasoning(core.Draft{}, "three", nil)

	generator := &recordingGenerator{response: "r", onCall: func(call int) {
		if call == 1 {
			cancel()
		}
	}}
	_, err := newEngine(t, generator).Replay(ctx, b, engine.Params{Query: "alpha", K: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(generator.prompts) != 1 {
		t.Errorf("generator calls = %d, want 1", len(generator.prompts))
	}
}

func TestReplay_InvalidInput(t *testing.T) {
	e := newEngine(t, &recordingGenerator{})

	tests := []struct {
		name   string
		branch branch.Branch
		params engine.Params
	}{
		{name: "empty name", branch: branch.New("", nil)},
		{name: "negative k", branch: sourceBranch(t, "a"), params: engine.Params{K: -1}},
	}
	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := e.Replay(context.Background(), testCase.branch, testCase.params)
			if !errors.Is(err, core.ErrInvalidInput) {
				t.Fatalf("error = %v, want ErrInvalidInput", err)
			}
		})
	}

	if _, err := engine.New(nil, mock.New(dims)); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("nil generator error = %v", err)
	}
	if _, err := engine.New(&recordingGenerator{}, nil); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("nil embedder error = %v", err)
	}
}

func TestReplay_RendersRegistrySchema(t *testing.T) {
	b := sourceBranch(t, "alpha").WithReasoning(core.Draft{}, "{tools_schemas}", nil)
	registry, _ := tools.NewRegistry(tools.StoreTools(b.Store(), mock.New(dims))...)

	generator := &recordingGenerator{response: "r"}
	if _, err := newEngine(t, generator).Replay(context.Background(), b, engine.Params{Tools: registry}); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if generator.prompts[0] != registry.Schema() {
		t.Errorf("prompt = %q, want registry schema", generator.prompts[0])
	}
	if !strings.Contains(generator.prompts[0], tools.SearchStoreTool) {
		t.Errorf("schema missing %s", tools.SearchStoreTool)
	}
}

func TestReplay_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	b := sourceBranch(t, "alpha").
		WithReasoning(core.Draft{Content: "one"}, "p1", nil).
		WithIngestEvent("src", []string{"v0"}).
		WithReasoning(core.Critique{Content: "two"}, "p2", nil)

	e := newEngine(t, &recordingGenerator{response: "r"}, engine.WithTracer(provider.Tracer("test")))
	if _, err := e.Replay(context.Background(), b, engine.Params{Query: "alpha", K: 1}); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	names := map[string]int{}
	for _, span := range recorder.Ended() {
		names[span.Name()]++
	}
	if names["engine.Replay"] != 1 || names["engine.ReplayStep"] != 2 {
		t.Fatalf("spans = %v, want one replay span and two step spans", names)
	}
}
