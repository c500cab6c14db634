package audit

import (
	"context"
	"time"

	id "accord/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// Categories select the publisher and retention of an event.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance: what left
	// or entered the node, and which version of a bundle an operator kept.
	// These are persisted synchronously and fail closed.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers events useful for operational visibility.
	// These can be sampled and are dropped when the store is unhealthy.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from the node service to capture federation actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	NodeID    id.NodeID
	// PeerNode is the remote side of an exchange, empty for local actions.
	PeerNode  id.NodeID
	Subject   string
	Action    string
	Decision  string
	Reason    string
	Count     int
	RequestID string
}

type AuditEvent string

const (
	// Bundling events
	EventBundleCreated  AuditEvent = "bundle_created"
	EventBundleExported AuditEvent = "bundle_exported"
	EventBundleImported AuditEvent = "bundle_imported"

	// Exchange events
	EventSyncRequested AuditEvent = "sync_requested"
	EventSyncProcessed AuditEvent = "sync_processed"
	EventSyncRejected  AuditEvent = "sync_rejected"

	// Conflict events
	EventConflictDetected AuditEvent = "conflict_detected"
	EventConflictResolved AuditEvent = "conflict_resolved"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventBundleCreated:    CategoryCompliance,
	EventBundleImported:   CategoryCompliance,
	EventSyncRequested:    CategoryCompliance,
	EventSyncProcessed:    CategoryCompliance,
	EventConflictResolved: CategoryCompliance,

	EventBundleExported:   CategoryOperations,
	EventSyncRejected:     CategoryOperations,
	EventConflictDetected: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
