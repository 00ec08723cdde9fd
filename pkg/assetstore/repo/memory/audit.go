package memory

import (
	"context"
	"sync"

	"github.com/Arinfaead/FilaDB/pkg/assetstore"
)

// AuditSink implements assetstore.AuditSink by recording events in
// memory. Intended for tests and development setups that want to inspect
// the emitted trail.
type AuditSink struct {
	mu     sync.Mutex
	events []*assetstore.AuditEvent
}

// NewAuditSink creates a new in-memory audit sink
func NewAuditSink() *AuditSink {
	return &AuditSink{}
}

// Record appends the event to the in-memory trail
func (s *AuditSink) Record(ctx context.Context, event *assetstore.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	eventCopy := *event
	s.events = append(s.events, &eventCopy)
	return nil
}

// Events returns a snapshot of all recorded events in emission order
func (s *AuditSink) Events() []*assetstore.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*assetstore.AuditEvent, 0, len(s.events))
	for _, event := range s.events {
		eventCopy := *event
		result = append(result, &eventCopy)
	}
	return result
}
