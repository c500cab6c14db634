// Package service implements the federated sync protocol: request creation,
// admission of offered bundles, conflict detection and resolution.
//
// The protocol holds only in-memory state (the synced bundle ID set and the
// exchange history) and performs no I/O. Persistence belongs to the caller.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"accord/internal/federation/metrics"
	"accord/internal/federation/models"
	"accord/internal/precedent/bundler"
	precedent "accord/internal/precedent/models"
	id "accord/pkg/domain"
	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/ringbuffer"
)

// DefaultHistoryCapacity bounds the exchange history.
const DefaultHistoryCapacity = 1000

const (
	requestIDDomain = "accord/request-id/v1"
	requestIDLength = 16
)

// Protocol is one node's side of the federated sync protocol.
//
// A single mutex serialises every exchange: validation, conflict detection,
// admission and the history append observe and update state atomically.
type Protocol struct {
	nodeID    id.NodeID
	version   id.ProtocolVersion
	requiredK int

	mu      sync.Mutex
	synced  map[id.BundleID]struct{}
	history *ringbuffer.Buffer[models.HistoryEntry]

	historyCapacity int
	logger          *slog.Logger
	metrics         *metrics.Metrics
	tracer          trace.Tracer
	now             func() time.Time
}

type Option func(*Protocol)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Protocol) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Protocol) {
		p.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Protocol) {
		p.tracer = t
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Protocol) {
		p.now = now
	}
}

// WithProtocolVersion overrides the version this node speaks.
func WithProtocolVersion(v id.ProtocolVersion) Option {
	return func(p *Protocol) {
		p.version = v
	}
}

func WithHistoryCapacity(n int) Option {
	return func(p *Protocol) {
		p.historyCapacity = n
	}
}

// New creates the protocol for nodeID. Offered bundles must satisfy requiredK,
// normally the node's own min_k.
func New(nodeID id.NodeID, requiredK int, opts ...Option) (*Protocol, error) {
	if nodeID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidConfiguration, "node id is required")
	}
	if requiredK < 1 {
		return nil, dErrors.New(dErrors.CodeInvalidConfiguration, "required k must be at least 1")
	}
	p := &Protocol{
		nodeID:          nodeID,
		version:         id.DefaultProtocolVersion(),
		requiredK:       requiredK,
		synced:          make(map[id.BundleID]struct{}),
		historyCapacity: DefaultHistoryCapacity,
		logger:          slog.Default(),
		tracer:          otel.Tracer("accord/federation/protocol"),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.history = ringbuffer.New[models.HistoryEntry](p.historyCapacity)
	return p, nil
}

// NodeID returns the node this protocol instance speaks for.
func (p *Protocol) NodeID() id.NodeID {
	return p.nodeID
}

// RequiredK returns the k every admitted bundle must satisfy.
func (p *Protocol) RequiredK() int {
	return p.requiredK
}

// CreateSyncRequest packages bundles for target. The request is marked
// consent-verified only when every bundle carries consent; callers normally
// filter with bundler.Shareable first.
func (p *Protocol) CreateSyncRequest(ctx context.Context, bundles []precedent.AnonymousBundle, target id.NodeID) (*models.SyncRequest, error) {
	if target.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "target node is required")
	}
	ts := p.now().UTC()
	offered := make([]precedent.AnonymousBundle, len(bundles))
	consent := true
	for i, b := range bundles {
		offered[i] = b.Clone()
		consent = consent && b.ConsentGiven
	}
	req := &models.SyncRequest{
		RequestID:       RequestIDFor(p.nodeID, target, ts),
		SourceNode:      p.nodeID,
		TargetNode:      target,
		Bundles:         offered,
		Timestamp:       ts,
		ProtocolVersion: p.version,
		ConsentVerified: consent,
	}
	p.logger.InfoContext(ctx, "sync request created",
		"request_id", req.RequestID,
		"target_node", target,
		"bundles", len(offered),
		"consent_verified", consent,
	)
	return req, nil
}

// RequestIDFor derives a short correlation ID for one outgoing request.
func RequestIDFor(source, target id.NodeID, ts time.Time) id.RequestID {
	h := sha256.New()
	h.Write([]byte(requestIDDomain))
	for _, part := range []string{string(source), string(target), ts.UTC().Format(time.RFC3339Nano)} {
		h.Write([]byte{0x00})
		h.Write([]byte(part))
	}
	return id.RequestID(hex.EncodeToString(h.Sum(nil))[:requestIDLength])
}

// ProcessSyncRequest validates and admits the offered bundles against existing,
// the receiver's current bundles. It never fails: every problem is reported in
// the returned response.
func (p *Protocol) ProcessSyncRequest(ctx context.Context, req *models.SyncRequest, existing []precedent.AnonymousBundle) *models.SyncResponse {
	return p.Process(ctx, req, existing).Response
}

// Process is ProcessSyncRequest returning the admitted bundles and per-bundle
// rejections alongside the response.
func (p *Protocol) Process(ctx context.Context, req *models.SyncRequest, existing []precedent.AnonymousBundle) *models.Exchange {
	start := p.now()
	if req == nil {
		req = &models.SyncRequest{}
	}
	ctx, span := p.tracer.Start(ctx, "protocol.ProcessSyncRequest", trace.WithAttributes(
		attribute.String("request.id", string(req.RequestID)),
		attribute.String("source.node", string(req.SourceNode)),
		attribute.Int("bundle.count", len(req.Bundles)),
	))
	defer span.End()

	p.mu.Lock()
	ex := p.processLocked(req, existing)
	syncedCount := len(p.synced)
	p.mu.Unlock()

	resp := ex.Response
	span.SetAttributes(attribute.String("sync.status", string(resp.Status)))
	p.metrics.ObserveExchange(string(resp.Status), resp.AcceptedCount, resp.RejectedCount, resp.SkippedCount, resp.ConflictCount, p.now().Sub(start))
	p.metrics.SetSyncedBundles(syncedCount)

	attrs := []any{
		"request_id", resp.RequestID,
		"source_node", req.SourceNode,
		"status", resp.Status,
		"accepted", resp.AcceptedCount,
		"rejected", resp.RejectedCount,
		"skipped", resp.SkippedCount,
		"conflicts", resp.ConflictCount,
	}
	switch resp.Status {
	case models.StatusRejected:
		p.logger.WarnContext(ctx, "sync request rejected", append(attrs, "reason", resp.Message)...)
	case models.StatusConflict:
		p.logger.WarnContext(ctx, "sync request produced conflicts", attrs...)
	default:
		p.logger.InfoContext(ctx, "sync request processed", attrs...)
	}
	return ex
}

func (p *Protocol) processLocked(req *models.SyncRequest, existing []precedent.AnonymousBundle) *models.Exchange {
	now := p.now().UTC()

	if reason := p.validate(req); reason != "" {
		resp := &models.SyncResponse{
			RequestID:     req.RequestID,
			Status:        models.StatusRejected,
			RejectedCount: len(req.Bundles),
			Conflicts:     []models.PrecedentConflict{},
			Timestamp:     now,
			Message:       reason,
		}
		p.record(req, resp)
		return &models.Exchange{Response: resp}
	}

	conflicts := detectConflicts(existing, req.Bundles)

	ex := &models.Exchange{}
	var accepted, rejected, skipped int
	for _, b := range req.Bundles {
		if _, ok := p.synced[b.BundleID]; ok {
			skipped++
			continue
		}
		if !bundler.VerifyKAnonymity(b, p.requiredK) {
			rejected++
			ex.Rejected = append(ex.Rejected, models.BundleRejection{
				BundleID: b.BundleID,
				Reason:   fmt.Sprintf("k-anonymity requirement not met (k=%d)", p.requiredK),
			})
			continue
		}
		if !b.ConsentGiven {
			rejected++
			ex.Rejected = append(ex.Rejected, models.BundleRejection{BundleID: b.BundleID, Reason: "consent not given"})
			continue
		}
		p.synced[b.BundleID] = struct{}{}
		ex.Accepted = append(ex.Accepted, b.Clone())
		accepted++
	}

	resp := &models.SyncResponse{
		RequestID:     req.RequestID,
		Status:        deriveStatus(len(conflicts), accepted, rejected),
		AcceptedCount: accepted,
		RejectedCount: rejected,
		SkippedCount:  skipped,
		ConflictCount: len(conflicts),
		Conflicts:     conflicts,
		Timestamp:     now,
		Message:       fmt.Sprintf("accepted %d, rejected %d, skipped %d, conflicts %d", accepted, rejected, skipped, len(conflicts)),
	}
	p.record(req, resp)
	ex.Response = resp
	return ex
}

func (p *Protocol) validate(req *models.SyncRequest) string {
	switch {
	case req.ProtocolVersion != p.version:
		return fmt.Sprintf("protocol version mismatch: expected %s, got %q", p.version, req.ProtocolVersion)
	case !req.ConsentVerified:
		return "consent not verified by sender"
	case req.TargetNode != p.nodeID:
		return fmt.Sprintf("request addressed to %q, this node is %q", req.TargetNode, p.nodeID)
	case len(req.Bundles) == 0:
		return "no bundles offered"
	}
	return ""
}

// deriveStatus applies the first matching rule: any conflict, nothing
// processed, nothing accepted, nothing rejected, otherwise partial.
func deriveStatus(conflicts, accepted, rejected int) models.SyncStatus {
	switch {
	case conflicts > 0:
		return models.StatusConflict
	case accepted+rejected == 0:
		return models.StatusAccepted
	case accepted == 0:
		return models.StatusRejected
	case rejected == 0:
		return models.StatusAccepted
	default:
		return models.StatusPartial
	}
}

func (p *Protocol) record(req *models.SyncRequest, resp *models.SyncResponse) {
	p.history.Push(models.HistoryEntry{
		RequestID:     resp.RequestID,
		SourceNode:    req.SourceNode,
		Timestamp:     resp.Timestamp,
		Status:        resp.Status,
		AcceptedCount: resp.AcceptedCount,
		RejectedCount: resp.RejectedCount,
		SkippedCount:  resp.SkippedCount,
		ConflictCount: resp.ConflictCount,
	})
}

// History returns recorded exchanges, oldest first.
func (p *Protocol) History() []models.HistoryEntry {
	return p.history.Snapshot()
}

// RecentHistory returns at most n of the newest exchanges, oldest first.
func (p *Protocol) RecentHistory(n int) []models.HistoryEntry {
	return p.history.Last(n)
}

// IsSynced reports whether bundleID was admitted before.
func (p *Protocol) IsSynced(bundleID id.BundleID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.synced[bundleID]
	return ok
}

// SyncedCount returns how many bundle IDs have been admitted.
func (p *Protocol) SyncedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.synced)
}

// SyncedIDs returns the admitted bundle IDs in sorted order.
func (p *Protocol) SyncedIDs() []id.BundleID {
	p.mu.Lock()
	ids := make([]id.BundleID, 0, len(p.synced))
	for bid := range p.synced {
		ids = append(ids, bid)
	}
	p.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// Restore seeds the synced set, typically from a persisted ledger at start-up.
func (p *Protocol) Restore(ids []id.BundleID) {
	p.mu.Lock()
	for _, bid := range ids {
		p.synced[bid] = struct{}{}
	}
	n := len(p.synced)
	p.mu.Unlock()
	p.metrics.SetSyncedBundles(n)
}
