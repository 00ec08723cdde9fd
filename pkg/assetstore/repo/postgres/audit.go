package postgres

import (
	"context"
	"fmt"

	"github.com/Arinfaead/FilaDB/pkg/assetstore"
)

// AuditSink implements assetstore.AuditSink by persisting events to the
// audit_log table. The service treats delivery as fire-and-forget, so a
// failed insert is logged there and never fails the operation.
type AuditSink struct {
	db DB
}

// NewAuditSink creates an audit sink over the given database
func NewAuditSink(db DB) *AuditSink {
	return &AuditSink{db: db}
}

// Record inserts the event into audit_log
func (s *AuditSink) Record(ctx context.Context, event *assetstore.AuditEvent) error {
	query := `
		INSERT INTO audit_log (
			id, actor_id, action, resource_type, resource_id, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.Exec(ctx, query,
		event.ID, event.ActorID, event.Action, event.ResourceType,
		event.ResourceID, event.Details, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}
