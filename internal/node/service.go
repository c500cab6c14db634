// Package node runs one federation node: it bundles local precedents, offers
// shareable bundles to peers, admits bundles peers offer, and keeps conflicts
// until an operator resolves them.
//
// The protocol decides; this service persists. Bundles go to a BundleStore,
// admitted IDs to a SyncedLedger, and every exchange is audited.
package node

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"accord/internal/federation/models"
	"accord/internal/federation/ports"
	fedservice "accord/internal/federation/service"
	"accord/internal/precedent/bundler"
	precedent "accord/internal/precedent/models"
	id "accord/pkg/domain"
	dErrors "accord/pkg/domain-errors"
	audit "accord/pkg/platform/audit"
	"accord/pkg/platform/sentinel"
	"accord/pkg/requestcontext"
)

// Service coordinates the bundler, the protocol and persistence for one node.
type Service struct {
	node     id.NodeID
	bundler  *bundler.Bundler
	protocol *fedservice.Protocol
	bundles  ports.BundleStore
	ledger   ports.SyncedLedger
	auditor  ports.AuditPublisher
	logger   *slog.Logger
	now      func() time.Time

	// exchange serialises every read-decide-write over stored bundles, so an
	// exchange sees the bundles admitted by the one before it.
	exchange sync.Mutex

	mu      sync.Mutex
	pending map[id.BundleID]models.PrecedentConflict
}

// Status summarises node state for the ops endpoints.
type Status struct {
	NodeID           id.NodeID `json:"node_id"`
	RequiredK        int       `json:"required_k"`
	StoredBundles    int       `json:"stored_bundles"`
	SyncedBundles    int       `json:"synced_bundles"`
	PendingConflicts int       `json:"pending_conflicts"`
	Exchanges        int       `json:"exchanges"`
}

type Option func(*Service)

func WithAuditPublisher(p ports.AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New wires a node service. The node ID is the protocol's.
func New(b *bundler.Bundler, p *fedservice.Protocol, bundles ports.BundleStore, ledger ports.SyncedLedger, opts ...Option) (*Service, error) {
	if b == nil || p == nil {
		return nil, dErrors.New(dErrors.CodeInvalidConfiguration, "bundler and protocol are required")
	}
	if bundles == nil || ledger == nil {
		return nil, dErrors.New(dErrors.CodeInvalidConfiguration, "bundle store and synced ledger are required")
	}
	s := &Service{
		node:     p.NodeID(),
		bundler:  b,
		protocol: p,
		bundles:  bundles,
		ledger:   ledger,
		logger:   slog.Default(),
		now:      time.Now,
		pending:  make(map[id.BundleID]models.PrecedentConflict),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start reloads the synced ledger into the protocol.
func (s *Service) Start(ctx context.Context) error {
	ids, err := s.ledger.Members(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "load synced ledger")
	}
	s.protocol.Restore(ids)
	s.logger.InfoContext(ctx, "node started", "node_id", s.node, "synced_bundles", len(ids))
	return nil
}

// IngestPrecedents bundles precedents and stores the resulting bundles.
func (s *Service) IngestPrecedents(ctx context.Context, precedents []precedent.RawPrecedent, k int) ([]precedent.AnonymousBundle, error) {
	bundles, err := s.bundler.CreateBundles(ctx, precedents, k)
	if err != nil {
		return nil, err
	}
	s.exchange.Lock()
	defer s.exchange.Unlock()
	for _, b := range bundles {
		if err := s.audit(ctx, audit.Event{
			Action:   string(audit.EventBundleCreated),
			Subject:  string(b.BundleID),
			Decision: string(b.ClusterKind),
			Count:    b.PrecedentCount,
		}, "bundle_id", b.BundleID); err != nil {
			return nil, err
		}
		if err := s.bundles.Upsert(ctx, b); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store bundle")
		}
	}
	return bundles, nil
}

// PrepareSync builds a request offering this node's consented bundles to target.
func (s *Service) PrepareSync(ctx context.Context, target id.NodeID) (*models.SyncRequest, error) {
	own, err := s.ownBundles(ctx)
	if err != nil {
		return nil, err
	}
	shareable := bundler.Shareable(own)
	if len(shareable) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "no shareable bundles")
	}
	req, err := s.protocol.CreateSyncRequest(ctx, shareable, target)
	if err != nil {
		return nil, err
	}
	if err := s.audit(ctx, audit.Event{
		PeerNode: target,
		Action:   string(audit.EventSyncRequested),
		Subject:  string(req.RequestID),
		Count:    len(req.Bundles),
	}); err != nil {
		return nil, err
	}
	return req, nil
}

// HandleSyncRequest runs one inbound exchange. The response is returned even
// when persisting its outcome fails; the error then reports what was not stored.
//
// The outcome is audited before anything is persisted. If that audit fails,
// nothing is stored. Newly admitted bundles are written only if their ID is
// not stored yet. A conflicting bundle is kept pending and never overwrites
// the local version until Resolve is called.
func (s *Service) HandleSyncRequest(ctx context.Context, req *models.SyncRequest) (*models.SyncResponse, error) {
	if req != nil {
		ctx = requestcontext.WithPeerNode(ctx, req.SourceNode)
	}

	s.exchange.Lock()
	defer s.exchange.Unlock()

	existing, err := s.bundles.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load existing bundles")
	}

	ex := s.protocol.Process(ctx, req, existing)
	resp := ex.Response

	conflicted := make(map[id.BundleID]struct{}, len(resp.Conflicts))
	s.mu.Lock()
	for _, c := range resp.Conflicts {
		conflicted[c.BundleID] = struct{}{}
		s.pending[c.BundleID] = c
	}
	s.mu.Unlock()

	action := audit.EventSyncProcessed
	if resp.Status == models.StatusRejected {
		action = audit.EventSyncRejected
	}
	if err := s.audit(ctx, audit.Event{
		Action:   string(action),
		Subject:  string(resp.RequestID),
		Decision: string(resp.Status),
		Reason:   resp.Message,
		Count:    resp.AcceptedCount,
	}, "status", resp.Status); err != nil {
		return resp, err
	}

	var errs []error
	admitted := make([]id.BundleID, 0, len(ex.Accepted))
	for _, b := range ex.Accepted {
		admitted = append(admitted, b.BundleID)
		if _, ok := conflicted[b.BundleID]; ok {
			continue
		}
		if _, err := s.bundles.SaveNew(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.ledger.Add(ctx, admitted...); err != nil {
		errs = append(errs, err)
	}

	for _, c := range resp.Conflicts {
		// Operations event: best effort, the conflict is already pending.
		if err := s.audit(ctx, audit.Event{
			Action:  string(audit.EventConflictDetected),
			Subject: string(c.BundleID),
			Reason:  c.ConflictReason,
		}, "bundle_id", c.BundleID); err != nil {
			s.logger.WarnContext(ctx, "conflict audit not recorded", "bundle_id", c.BundleID, "error", err)
		}
	}

	if len(errs) > 0 {
		return resp, dErrors.Wrap(errors.Join(errs...), dErrors.CodeInternal, "persist exchange outcome")
	}
	return resp, nil
}

// Conflicts returns unresolved conflicts ordered by bundle ID.
func (s *Service) Conflicts() []models.PrecedentConflict {
	s.mu.Lock()
	out := make([]models.PrecedentConflict, 0, len(s.pending))
	for _, c := range s.pending {
		out = append(out, c)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].BundleID < out[j].BundleID })
	return out
}

// Resolve settles the pending conflict for bundleID and stores the outcome.
func (s *Service) Resolve(ctx context.Context, bundleID id.BundleID, strategy models.ResolutionStrategy) (precedent.AnonymousBundle, error) {
	s.mu.Lock()
	conflict, ok := s.pending[bundleID]
	s.mu.Unlock()
	if !ok {
		return precedent.AnonymousBundle{}, dErrors.Newf(dErrors.CodeNotFound, "no pending conflict for bundle %s", bundleID)
	}

	s.exchange.Lock()
	defer s.exchange.Unlock()

	resolved, err := s.protocol.ResolveConflict(ctx, conflict, strategy)
	if err != nil {
		return precedent.AnonymousBundle{}, err
	}
	if err := s.audit(ctx, audit.Event{
		PeerNode: conflict.RemoteVersion.SourceNode,
		Action:   string(audit.EventConflictResolved),
		Subject:  string(bundleID),
		Decision: string(strategy),
		Count:    resolved.PrecedentCount,
	}, "bundle_id", bundleID); err != nil {
		return precedent.AnonymousBundle{}, err
	}
	if err := s.bundles.Upsert(ctx, resolved); err != nil {
		return precedent.AnonymousBundle{}, dErrors.Wrap(err, dErrors.CodeInternal, "store resolved bundle")
	}

	s.mu.Lock()
	delete(s.pending, bundleID)
	s.mu.Unlock()
	return resolved, nil
}

// Export returns this node's shareable bundles in the export envelope.
func (s *Service) Export(ctx context.Context) (bundler.ExportEnvelope, error) {
	own, err := s.ownBundles(ctx)
	if err != nil {
		return bundler.ExportEnvelope{}, err
	}
	env := bundler.Export(bundler.Shareable(own), s.now().UTC())
	// Operations event: an export changes no state, so it is not failed on.
	if err := s.audit(ctx, audit.Event{
		Action: string(audit.EventBundleExported),
		Count:  env.BundleCount,
	}); err != nil {
		s.logger.WarnContext(ctx, "export audit not recorded", "error", err)
	}
	return env, nil
}

// Import validates an envelope and stores bundles not already present.
// Returns how many were written.
func (s *Service) Import(ctx context.Context, env bundler.ExportEnvelope) (int, error) {
	bundles, err := bundler.Import(env, s.protocol.RequiredK())
	if err != nil {
		return 0, err
	}
	s.exchange.Lock()
	defer s.exchange.Unlock()
	if err := s.audit(ctx, audit.Event{
		Action: string(audit.EventBundleImported),
		Count:  len(bundles),
	}); err != nil {
		return 0, err
	}
	written := 0
	for _, b := range bundles {
		ok, err := s.bundles.SaveNew(ctx, b)
		if err != nil {
			return written, dErrors.Wrap(err, dErrors.CodeInternal, "store imported bundle")
		}
		if ok {
			written++
		}
	}
	return written, nil
}

// Bundle returns one stored bundle.
func (s *Service) Bundle(ctx context.Context, bundleID id.BundleID) (*precedent.AnonymousBundle, error) {
	b, err := s.bundles.Get(ctx, bundleID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "bundle %s not found", bundleID)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load bundle")
	}
	return b, nil
}

// History returns at most n of the newest exchanges, oldest first.
// A non-positive n returns the whole history.
func (s *Service) History(n int) []models.HistoryEntry {
	if n <= 0 {
		return s.protocol.History()
	}
	return s.protocol.RecentHistory(n)
}

// Status reports node counters.
func (s *Service) Status(ctx context.Context) (Status, error) {
	stored, err := s.bundles.List(ctx)
	if err != nil {
		return Status{}, dErrors.Wrap(err, dErrors.CodeInternal, "list bundles")
	}
	s.mu.Lock()
	pending := len(s.pending)
	s.mu.Unlock()
	return Status{
		NodeID:           s.node,
		RequiredK:        s.protocol.RequiredK(),
		StoredBundles:    len(stored),
		SyncedBundles:    s.protocol.SyncedCount(),
		PendingConflicts: pending,
		Exchanges:        len(s.protocol.History()),
	}, nil
}

func (s *Service) ownBundles(ctx context.Context) ([]precedent.AnonymousBundle, error) {
	all, err := s.bundles.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list bundles")
	}
	own := all[:0]
	for _, b := range all {
		if b.SourceNode == s.node {
			own = append(own, b)
		}
	}
	return own, nil
}

func (s *Service) audit(ctx context.Context, event audit.Event, attrs ...any) error {
	event.NodeID = s.node
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
		if pinned, ok := requestcontext.Time(ctx); ok {
			event.Timestamp = pinned
		}
	}
	if err := ports.LogAudit(ctx, s.logger, s.auditor, event, attrs...); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "audit "+event.Action)
	}
	return nil
}
