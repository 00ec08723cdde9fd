package assetstore

import (
	"context"
	"log/slog"
)

// NoopAuditSink is a no-operation implementation of AuditSink.
// Useful when no audit trail is wanted, or for testing.
type NoopAuditSink struct{}

// NewNoopAuditSink creates a new no-operation audit sink
func NewNoopAuditSink() AuditSink {
	return &NoopAuditSink{}
}

// Record does nothing and returns nil
func (n *NoopAuditSink) Record(ctx context.Context, event *AuditEvent) error {
	return nil
}

// LogAuditSink writes audit events to a structured logger. It is the
// default sink for the standalone server when no database-backed sink is
// configured.
type LogAuditSink struct {
	logger *slog.Logger
}

// NewLogAuditSink creates an audit sink over the given logger
func NewLogAuditSink(logger *slog.Logger) AuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAuditSink{logger: logger}
}

// Record logs the event at info level
func (l *LogAuditSink) Record(ctx context.Context, event *AuditEvent) error {
	l.logger.Info("audit",
		"action", event.Action,
		"actor_id", event.ActorID,
		"resource_type", event.ResourceType,
		"resource_id", event.ResourceID,
		"details", event.Details)
	return nil
}
