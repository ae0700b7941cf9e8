// Package engine replays a branch's reasoning trace against fresh retrieval
// context and fresh generation calls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/becomeliminal/nim-branch-sdk/branch"
	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/memory"
	"github.com/becomeliminal/nim-branch-sdk/memory/store/chromem"
	"github.com/becomeliminal/nim-branch-sdk/tools"
)

// Prompt placeholders substituted during replay.
const (
	ContextToken     = "{context}"
	ToolsSchemaToken = "{tools_schemas}"
)

// ReplaySuffix is appended to the source branch name.
const ReplaySuffix = "_replay"

const tracerName = "github.com/becomeliminal/nim-branch-sdk/engine"

// Engine replays branches. It holds no per-replay state and is safe for
// concurrent use when its collaborators are.
type Engine struct {
	generator core.Generator
	embedder  core.Embedder
	retriever *memory.Retriever
	factory   memory.StoreFactory
	audit     AuditLogger // Optional: receives one entry per re-executed tool
	logger    *slog.Logger
	tracer    trace.Tracer
	clock     func() time.Time

	retrieverConfig *memory.Config
}

// Option configures the engine.
type Option func(*Engine)

// WithStoreFactory sets the store allocated for each replay result.
func WithStoreFactory(factory memory.StoreFactory) Option {
	return func(e *Engine) {
		if factory != nil {
			e.factory = factory
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the OpenTelemetry tracer. Defaults to the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithClock sets the timestamp source for replayed events.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithAudit sets the audit logger for re-executed tool calls.
func WithAudit(a AuditLogger) Option {
	return func(e *Engine) {
		e.audit = a
	}
}

// WithRetrieverConfig controls how retrieved context is joined.
func WithRetrieverConfig(config *memory.Config) Option {
	return func(e *Engine) {
		e.retrieverConfig = config
	}
}

// New creates an engine that generates with generator and retrieves with embedder.
func New(generator core.Generator, embedder core.Embedder, opts ...Option) (*Engine, error) {
	if generator == nil {
		return nil, fmt.Errorf("engine: nil generator: %w", core.ErrInvalidInput)
	}
	if embedder == nil {
		return nil, fmt.Errorf("engine: nil embedder: %w", core.ErrInvalidInput)
	}

	e := &Engine{
		generator: generator,
		embedder:  embedder,
		factory:   chromem.Factory(),
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
		clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.retriever = memory.NewRetriever(embedder, e.retrieverConfig, e.logger)
	return e, nil
}

// Params are the inputs of one replay.
type Params struct {
	// Topic labels the replay in logs and traces.
	Topic string
	// Query selects the retrieval context.
	Query string
	// Tools resolves recorded tool calls and renders {tools_schemas}.
	// Nil behaves as an empty registry.
	Tools core.ToolRegistry
	// K is the number of vectors retrieved for {context}. Zero yields an
	// empty context.
	K int
}

// Report summarizes a replay.
type Report struct {
	StepsReplayed int
	EventsDropped int
	ToolsExecuted int
	ToolsSkipped  int
	ToolErrors    int
	ContextChars  int
}

// Replay rebuilds the reasoning steps of b. See ReplayWithReport.
func (e *Engine) Replay(ctx context.Context, b branch.Branch, params Params) (branch.Branch, error) {
	result, _, err := e.ReplayWithReport(ctx, b, params)
	return result, err
}

// ReplayWithReport returns a new branch named "<name>_replay" holding one
// regenerated reasoning step per reasoning step of b, in order. Other events
// are dropped. The result is backed by a new store holding a copy of b's
// vectors. b and its store are never modified.
//
// A generator failure or cancellation aborts the replay. Recorded tools that
// are not registered are skipped; tool failures are recorded on the step.
func (e *Engine) ReplayWithReport(ctx context.Context, b branch.Branch, params Params) (branch.Branch, Report, error) {
	var report Report

	if err := b.Validate(); err != nil {
		return branch.Branch{}, report, fmt.Errorf("replay: %w", err)
	}
	if params.K < 0 {
		return branch.Branch{}, report, fmt.Errorf("replay %q: k must be >= 0, got %d: %w", b.Name(), params.K, core.ErrInvalidInput)
	}
	registry := params.Tools
	if registry == nil {
		registry = &tools.Registry{}
	}

	ctx, span := e.tracer.Start(ctx, "engine.Replay", trace.WithAttributes(
		attribute.String("branch.name", b.Name()),
		attribute.String("replay.topic", params.Topic),
		attribute.Int("replay.k", params.K),
		attribute.Int("branch.events", b.Len()),
	))
	defer span.End()

	fail := func(err error) (branch.Branch, Report, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return branch.Branch{}, report, err
	}

	// === PHASE 1: ISOLATE STORE ===
	store, err := memory.CopyStore(ctx, b.Store(), e.factory)
	if err != nil {
		return fail(fmt.Errorf("replay %q: copy store: %w", b.Name(), err))
	}

	// === PHASE 2: RETRIEVE CONTEXT ===
	retrieved, err := e.retriever.BuildContext(ctx, b.Store(), params.Query, params.K)
	if err != nil {
		return fail(fmt.Errorf("replay %q: retrieve context: %w", b.Name(), err))
	}
	report.ContextChars = len(retrieved)

	// === PHASE 3: RENDER TOOL SCHEMAS ===
	substitute := strings.NewReplacer(
		ContextToken, retrieved,
		ToolsSchemaToken, registry.Schema(),
	)

	e.logger.InfoContext(ctx, "replay started",
		"branch", b.Name(),
		"topic", params.Topic,
		"events", b.Len(),
		"k", params.K,
	)

	// === PHASE 4: REPLAY STEPS IN ORDER ===
	result := branch.New(b.Name()+ReplaySuffix, store,
		branch.WithSource(b.Source()),
		branch.WithClock(e.clock),
	)
	for i, event := range b.Events() {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("replay %q: event %d: %w", b.Name(), i, err))
		}

		step, ok := core.AsReasoningStep(event)
		if !ok {
			report.EventsDropped++
			e.logger.DebugContext(ctx, "replay dropped event", "branch", b.Name(), "event", i, "type", event.EventType())
			continue
		}

		replayed, err := e.replayStep(ctx, b.Name(), i, step, substitute, registry, &report)
		if err != nil {
			return fail(fmt.Errorf("replay %q: step %d: %w", b.Name(), i, err))
		}
		result = result.WithEvent(replayed)
		report.StepsReplayed++
	}

	span.SetAttributes(
		attribute.Int("replay.steps", report.StepsReplayed),
		attribute.Int("replay.dropped", report.EventsDropped),
		attribute.Int("replay.tools_skipped", report.ToolsSkipped),
	)
	e.logger.InfoContext(ctx, "replay finished",
		"branch", b.Name(),
		"result", result.Name(),
		"steps", report.StepsReplayed,
		"dropped", report.EventsDropped,
		"tools_executed", report.ToolsExecuted,
		"tools_skipped", report.ToolsSkipped,
	)
	return result, report, nil
}

func (e *Engine) replayStep(
	ctx context.Context,
	branchName string,
	index int,
	step core.ReasoningStep,
	substitute *strings.Replacer,
	registry core.ToolRegistry,
	report *Report,
) (core.ReasoningStep, error) {
	kind := step.StepKind
	if kind == "" && step.State != nil {
		kind = step.State.Kind()
	}

	ctx, span := e.tracer.Start(ctx, "engine.ReplayStep", trace.WithAttributes(
		attribute.Int("step.index", index),
		attribute.String("step.kind", kind),
		attribute.Int("step.tool_calls", len(step.ToolCalls)),
	))
	defer span.End()

	prompt := substitute.Replace(step.Prompt)

	response, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return core.ReasoningStep{}, fmt.Errorf("generate: %w", err)
	}

	var calls []core.ToolExecution
	if step.ToolCalls != nil {
		calls = make([]core.ToolExecution, 0, len(step.ToolCalls))
	}
	for _, recorded := range step.ToolCalls {
		tool, ok := registry.Get(recorded.ToolName)
		if !ok {
			report.ToolsSkipped++
			e.logger.WarnContext(ctx, "replay skipped unknown tool",
				"branch", branchName,
				"step", index,
				"tool", recorded.ToolName,
				"error", core.ErrToolNotFound,
			)
			continue
		}

		execution, err := e.executeTool(ctx, branchName, index, tool, recorded)
		if err != nil {
			return core.ReasoningStep{}, err
		}
		report.ToolsExecuted++
		if execution.Error != "" {
			report.ToolErrors++
		}
		calls = append(calls, execution)
	}

	replayed := core.NewReasoningStep(core.StateForKind(kind, response), prompt, calls, e.clock())
	// Unknown kinds keep their original tag even though the state falls back to Draft.
	replayed.StepKind = kind

	e.logger.DebugContext(ctx, "replayed step",
		"branch", branchName,
		"step", index,
		"kind", kind,
		"tool_calls", len(calls),
	)
	return replayed, nil
}

// executeTool runs a recorded call again. Tool failures are recorded on the
// returned execution; only cancellation is returned as an error.
func (e *Engine) executeTool(ctx context.Context, branchName string, index int, tool core.Tool, recorded core.ToolExecution) (core.ToolExecution, error) {
	startTime := e.clock()
	arguments := append([]byte(nil), recorded.Arguments...)

	output, err := tool.Execute(ctx, arguments)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return core.ToolExecution{}, fmt.Errorf("tool %s: %w", tool.Name(), err)
	}

	durationMs := e.clock().Sub(startTime).Milliseconds()
	execution := core.ToolExecution{
		ToolName:   tool.Name(),
		Arguments:  arguments,
		Output:     output,
		DurationMs: durationMs,
		Timestamp:  startTime,
	}
	if recorded.Arguments == nil {
		execution.Arguments = nil
	}
	if err != nil {
		execution.Error = err.Error()
		e.logger.WarnContext(ctx, "replay tool failed",
			"branch", branchName,
			"step", index,
			"tool", tool.Name(),
			"error", err,
		)
	}

	if e.audit != nil {
		e.audit.Log(ctx, &AuditEntry{
			Branch:     branchName,
			Step:       index,
			ToolName:   tool.Name(),
			ToolInput:  execution.Arguments,
			ToolOutput: output,
			Error:      execution.Error,
			Thought:    core.ThoughtOf(arguments),
			DurationMs: durationMs,
			Timestamp:  startTime,
		})
	}
	return execution, nil
}
