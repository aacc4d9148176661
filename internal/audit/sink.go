package audit

import (
	"context"
	"log/slog"

	"github.com/fintrack/fintrack/internal/shared"
)

// PostgresSink writes entries to the audit_logs table.
type PostgresSink struct {
	logger *shared.AuditLogger
}

// NewPostgresSink wraps an AuditLogger.
func NewPostgresSink(logger *shared.AuditLogger) *PostgresSink {
	return &PostgresSink{logger: logger}
}

func (s *PostgresSink) Write(ctx context.Context, e Entry) error {
	return s.logger.Record(ctx, shared.AuditLog{
		Actor:    e.Actor,
		Action:   e.Action,
		Entity:   e.Entity,
		EntityID: e.EntityID,
		Meta:     e.Meta,
		At:       e.At,
	})
}

// LogSink emits entries as structured log lines. It is used when no audit table exists.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With(slog.String("component", "audit"))}
}

func (s *LogSink) Write(ctx context.Context, e Entry) error {
	attrs := []any{
		slog.String("actor", e.Actor),
		slog.String("action", e.Action),
		slog.String("entity", e.Entity),
		slog.String("entity_id", e.EntityID),
		slog.Time("at", e.At),
	}
	if len(e.Meta) > 0 {
		attrs = append(attrs, slog.Any("meta", e.Meta))
	}
	s.logger.InfoContext(ctx, "audit", attrs...)
	return nil
}
