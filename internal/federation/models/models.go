package models

import (
	"time"

	precedent "accord/internal/precedent/models"
	id "accord/pkg/domain"
	dErrors "accord/pkg/domain-errors"
)

// SyncStatus is the receiver's verdict on one exchange.
type SyncStatus string

const (
	StatusAccepted SyncStatus = "accepted"
	StatusRejected SyncStatus = "rejected"
	StatusConflict SyncStatus = "conflict"
	StatusPartial  SyncStatus = "partial"
)

// ResolutionStrategy selects how a detected conflict is settled.
type ResolutionStrategy string

const (
	KeepLocal  ResolutionStrategy = "keep_local"
	KeepRemote ResolutionStrategy = "keep_remote"
	Merge      ResolutionStrategy = "merge"
)

// DefaultResolutionStrategy is proposed for every detected conflict.
const DefaultResolutionStrategy = KeepLocal

// ParseResolutionStrategy accepts the wire names of the strategies.
func ParseResolutionStrategy(s string) (ResolutionStrategy, error) {
	switch ResolutionStrategy(s) {
	case KeepLocal, KeepRemote, Merge:
		return ResolutionStrategy(s), nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown resolution strategy %q", s)
	}
}

// SyncRequest offers a set of bundles from SourceNode to TargetNode.
type SyncRequest struct {
	RequestID       id.RequestID                `json:"request_id"`
	SourceNode      id.NodeID                   `json:"source_node"`
	TargetNode      id.NodeID                   `json:"target_node"`
	Bundles         []precedent.AnonymousBundle `json:"bundles"`
	Timestamp       time.Time                   `json:"timestamp"`
	ProtocolVersion id.ProtocolVersion          `json:"protocol_version"`
	ConsentVerified bool                        `json:"consent_verified"`
}

// SyncResponse reports how the receiver handled a SyncRequest.
// AcceptedCount + RejectedCount + SkippedCount equals the number of offered
// bundles unless the whole request was rejected up front.
type SyncResponse struct {
	RequestID     id.RequestID        `json:"request_id"`
	Status        SyncStatus          `json:"status"`
	AcceptedCount int                 `json:"accepted_count"`
	RejectedCount int                 `json:"rejected_count"`
	SkippedCount  int                 `json:"skipped_count"`
	ConflictCount int                 `json:"conflict_count"`
	Conflicts     []PrecedentConflict `json:"conflicts"`
	Timestamp     time.Time           `json:"timestamp"`
	Message       string              `json:"message"`
}

// PrecedentConflict pairs the local and remote versions of a bundle whose
// summaries disagree. Both versions are snapshots taken at detection time.
type PrecedentConflict struct {
	BundleID           id.BundleID               `json:"bundle_id"`
	LocalVersion       precedent.AnonymousBundle `json:"local_version"`
	RemoteVersion      precedent.AnonymousBundle `json:"remote_version"`
	ConflictReason     string                    `json:"conflict_reason"`
	ResolutionStrategy ResolutionStrategy        `json:"resolution_strategy"`
}

// HistoryEntry is the fixed-shape record kept for every processed exchange.
type HistoryEntry struct {
	RequestID     id.RequestID `json:"request_id"`
	SourceNode    id.NodeID    `json:"source_node"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        SyncStatus   `json:"status"`
	AcceptedCount int          `json:"accepted_count"`
	RejectedCount int          `json:"rejected_count"`
	SkippedCount  int          `json:"skipped_count"`
	ConflictCount int          `json:"conflict_count"`
}

// BundleRejection explains why one offered bundle was not admitted.
type BundleRejection struct {
	BundleID id.BundleID `json:"bundle_id"`
	Reason   string      `json:"reason"`
}

// Exchange is everything one ProcessSyncRequest call decided. Accepted holds
// the bundles newly admitted, in offer order.
type Exchange struct {
	Response *SyncResponse
	Accepted []precedent.AnonymousBundle
	Rejected []BundleRejection
}
