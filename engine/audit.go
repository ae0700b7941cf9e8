package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// AuditEntry describes one tool execution performed during replay.
type AuditEntry struct {
	Branch     string
	Step       int
	ToolName   string
	ToolInput  json.RawMessage
	ToolOutput string
	Error      string
	// Thought is the reasoning recorded in the tool arguments, if any.
	Thought    string
	DurationMs int64
	Timestamp  time.Time
}

// AuditLogger receives tool execution records.
type AuditLogger interface {
	Log(ctx context.Context, entry *AuditEntry)
}

// SlogAudit writes audit entries to a structured logger.
type SlogAudit struct {
	logger *slog.Logger
}

// NewSlogAudit creates an AuditLogger backed by logger.
func NewSlogAudit(logger *slog.Logger) *SlogAudit {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAudit{logger: logger}
}

// Log writes entry at info level, or warn level when the tool failed.
func (a *SlogAudit) Log(ctx context.Context, entry *AuditEntry) {
	level := slog.LevelInfo
	if entry.Error != "" {
		level = slog.LevelWarn
	}
	a.logger.Log(ctx, level, "tool audit",
		"branch", entry.Branch,
		"step", entry.Step,
		"tool", entry.ToolName,
		"duration_ms", entry.DurationMs,
		"thought", entry.Thought,
		"error", entry.Error,
	)
}

var _ AuditLogger = (*SlogAudit)(nil)
