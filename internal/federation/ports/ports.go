package ports

import (
	"context"
	"log/slog"

	precedent "accord/internal/precedent/models"
	"accord/pkg/attrs"
	id "accord/pkg/domain"
	audit "accord/pkg/platform/audit"
	"accord/pkg/requestcontext"
)

//go:generate mockgen -source=ports.go -destination=mocks/ports_mock.go -package=mocks AuditPublisher BundleStore SyncedLedger

// AuditPublisher emits audit events.
// Compliance events fail closed: a non-nil error must fail the operation.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// BundleStore persists bundles a node created, imported or admitted.
type BundleStore interface {
	// SaveNew inserts bundle unless its ID is already stored.
	// Reports whether a row was written.
	SaveNew(ctx context.Context, bundle precedent.AnonymousBundle) (bool, error)

	// Upsert writes bundle, replacing any stored version.
	Upsert(ctx context.Context, bundle precedent.AnonymousBundle) error

	// Get returns sentinel.ErrNotFound when the bundle is unknown.
	Get(ctx context.Context, bundleID id.BundleID) (*precedent.AnonymousBundle, error)

	// List returns every stored bundle ordered by bundle ID.
	List(ctx context.Context) ([]precedent.AnonymousBundle, error)
}

// SyncedLedger durably records admitted bundle IDs so idempotent
// re-delivery survives restarts.
type SyncedLedger interface {
	Add(ctx context.Context, ids ...id.BundleID) error
	Members(ctx context.Context) ([]id.BundleID, error)
}

// LogAudit logs event as an audit line and emits it to publisher.
// The publisher error is returned so compliance events can fail closed.
// A missing Subject is taken from a "bundle_id" attribute.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event audit.Event, fields ...any) error {
	if event.Subject == "" {
		event.Subject = attrs.ExtractString(fields, "bundle_id")
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		fields = append(fields, "request_id", requestID)
		if event.RequestID == "" {
			event.RequestID = requestID
		}
	}
	if event.PeerNode == "" {
		event.PeerNode = requestcontext.PeerNode(ctx)
	}

	args := append(fields, "event", event.Action, "log_type", "audit")
	if logger != nil {
		logger.InfoContext(ctx, event.Action, args...)
	}

	if publisher == nil {
		return nil
	}
	if err := publisher.Emit(ctx, event); err != nil {
		if logger != nil {
			logger.WarnContext(ctx, "failed to emit audit event", "event", event.Action, "error", err)
		}
		return err
	}
	return nil
}
