// Package requestcontext provides transport-independent context accessors for
// exchange-scoped values.
//
// Values are set by whatever drives an exchange (the CLI, the ops server, a test)
// and read by services:
//
//	requestID := requestcontext.RequestID(ctx)
//	peer := requestcontext.PeerNode(ctx)
//	now := requestcontext.Now(ctx)
//
// Tests pin time with requestcontext.WithTime(ctx, fixed).
package requestcontext

import (
	"context"
	"time"

	id "accord/pkg/domain"
)

type (
	requestIDKey   struct{}
	peerNodeKey    struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need context.WithValue directly.
var (
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyPeerNode    = peerNodeKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// RequestID returns the correlation ID, or "" if unset.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// WithRequestID injects a correlation ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// PeerNode returns the remote node taking part in the current exchange.
func PeerNode(ctx context.Context) id.NodeID {
	if v, ok := ctx.Value(ContextKeyPeerNode).(id.NodeID); ok {
		return v
	}
	return ""
}

// WithPeerNode injects the remote node of the current exchange.
func WithPeerNode(ctx context.Context, node id.NodeID) context.Context {
	return context.WithValue(ctx, ContextKeyPeerNode, node)
}

// Now returns the pinned request time, falling back to time.Now().
func Now(ctx context.Context) time.Time {
	if v, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return v
	}
	return time.Now()
}

// Time returns the pinned request time, if any.
func Time(ctx context.Context) (time.Time, bool) {
	v, ok := ctx.Value(ContextKeyRequestTime).(time.Time)
	return v, ok
}

// WithTime pins the request time. Useful for deterministic tests.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
