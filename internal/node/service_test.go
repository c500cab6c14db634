package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"accord/internal/federation/models"
	"accord/internal/federation/ports/mocks"
	fedservice "accord/internal/federation/service"
	"accord/internal/node/store/bundle"
	"accord/internal/node/store/ledger"
	"accord/internal/precedent/bundler"
	"accord/internal/precedent/embedding"
	precedent "accord/internal/precedent/models"
	id "accord/pkg/domain"
	dErrors "accord/pkg/domain-errors"
	audit "accord/pkg/platform/audit"
)

var fixedNow = time.Date(2025, 11, 4, 9, 30, 0, 0, time.UTC)

// oneCluster places every vector in cluster 0.
type oneCluster struct{}

func (oneCluster) Fit(vectors [][]float64, _ float64, _ int) ([]int, error) {
	return make([]int, len(vectors)), nil
}

type recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recorder) record(_ context.Context, e audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Action
	}
	return out
}

// gatedStore holds the first two List calls until both have arrived or the
// wait runs out, so overlapping exchanges read at the same moment.
type gatedStore struct {
	*bundle.InMemoryStore
	arrivals chan struct{}
	wait     time.Duration
}

func newGatedStore(wait time.Duration) *gatedStore {
	return &gatedStore{InMemoryStore: bundle.NewInMemoryStore(), arrivals: make(chan struct{}, 2), wait: wait}
}

func (g *gatedStore) List(ctx context.Context) ([]precedent.AnonymousBundle, error) {
	select {
	case g.arrivals <- struct{}{}:
	default:
	}
	deadline := time.Now().Add(g.wait)
	for len(g.arrivals) < cap(g.arrivals) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	return g.InMemoryStore.List(ctx)
}

type testNode struct {
	svc     *Service
	bundles *bundle.InMemoryStore
	ledger  *ledger.InMemoryLedger
	audit   *recorder
}

type ServiceSuite struct {
	suite.Suite
	ctx  context.Context
	ctrl *gomock.Controller
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
}

func (s *ServiceSuite) newNode(node id.NodeID) *testNode {
	emb, err := embedding.NewHashEmbedder(64)
	s.Require().NoError(err)
	cfg := precedent.DefaultPrivacyConfig()
	clock := func() time.Time { return fixedNow }
	b, err := bundler.New(node, cfg, emb, bundler.WithDensityClusterer(oneCluster{}), bundler.WithClock(clock))
	s.Require().NoError(err)
	p, err := fedservice.New(node, cfg.MinK, fedservice.WithClock(clock))
	s.Require().NoError(err)

	rec := &recorder{}
	pub := mocks.NewMockAuditPublisher(s.ctrl)
	pub.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(rec.record).AnyTimes()

	tn := &testNode{
		bundles: bundle.NewInMemoryStore(),
		ledger:  ledger.NewInMemoryLedger(),
		audit:   rec,
	}
	tn.svc, err = New(b, p, tn.bundles, tn.ledger, WithAuditPublisher(pub), WithClock(clock))
	s.Require().NoError(err)
	return tn
}

func cases(prefix string, n int, consent bool) []precedent.RawPrecedent {
	out := make([]precedent.RawPrecedent, n)
	for i := range out {
		verdict := precedent.Verdict("ALLOW")
		if i%3 == 0 {
			verdict = "DENY"
		}
		out[i] = precedent.RawPrecedent{
			DecisionID:   id.DecisionID(fmt.Sprintf("%s-%02d", prefix, i)),
			InputData:    map[string]any{"category": "refund", "reason": "parcel arrived late"},
			Outcome:      precedent.Outcome{Verdict: verdict, Confidence: 0.8},
			Timestamp:    fixedNow,
			ConsentGiven: consent,
		}
	}
	return out
}

func versionOf(bid id.BundleID, source id.NodeID, allow, deny int, avg float64) precedent.AnonymousBundle {
	return precedent.AnonymousBundle{
		BundleID:            bid,
		KValue:              5,
		PrecedentCount:      allow + deny,
		CreatedAt:           fixedNow,
		VerdictDistribution: map[precedent.Verdict]int{"ALLOW": allow, "DENY": deny},
		AvgConfidence:       avg,
		ConfidenceRange:     precedent.ConfidenceRange{Min: 0.5, Max: 0.95},
		ContextPatterns:     map[string]precedent.ContextPattern{},
		TimePeriod:          "2025-Q4",
		PrivacyGuarantee:    precedent.PrivacyGuaranteeKAnonymity,
		SourceNode:          source,
		ConsentGiven:        true,
		ClusterKind:         precedent.ClusterKindSimilarity,
	}
}

// =============================================================================
// Construction and start-up
// =============================================================================

func (s *ServiceSuite) TestNewRequiresDependencies() {
	_, err := New(nil, nil, nil, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidConfiguration))
}

func (s *ServiceSuite) TestStartRestoresLedger() {
	n := s.newNode("node-b")
	s.Require().NoError(n.ledger.Add(s.ctx, "b-1", "b-2"))

	s.Require().NoError(n.svc.Start(s.ctx))

	st, err := n.svc.Status(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, st.SyncedBundles)
}

func (s *ServiceSuite) TestStartFailsWhenLedgerUnavailable() {
	ledgerMock := mocks.NewMockSyncedLedger(s.ctrl)
	ledgerMock.EXPECT().Members(gomock.Any()).Return(nil, errors.New("connection refused"))

	base := s.newNode("node-b")
	svc, err := New(base.svc.bundler, base.svc.protocol, base.bundles, ledgerMock)
	s.Require().NoError(err)

	err = svc.Start(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

// =============================================================================
// Ingestion
// =============================================================================

func (s *ServiceSuite) TestIngestPrecedents() {
	s.Run("stores and audits each bundle", func() {
		n := s.newNode("node-a")
		bundles, err := n.svc.IngestPrecedents(s.ctx, cases("refund", 6, true), 0)
		s.Require().NoError(err)
		s.Require().Len(bundles, 1)

		stored, err := n.svc.Bundle(s.ctx, bundles[0].BundleID)
		s.Require().NoError(err)
		s.Equal(6, stored.PrecedentCount)
		s.Equal([]string{string(audit.EventBundleCreated)}, n.audit.actions())
		s.Equal(id.NodeID("node-a"), n.audit.events[0].NodeID)
	})

	s.Run("too few precedents is a configuration error", func() {
		n := s.newNode("node-a")
		_, err := n.svc.IngestPrecedents(s.ctx, cases("refund", 3, true), 0)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidConfiguration))
	})

	s.Run("audit failure stores nothing", func() {
		n := s.newNode("node-a")
		failing := mocks.NewMockAuditPublisher(s.ctrl)
		failing.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("outbox down"))
		n.svc.auditor = failing

		_, err := n.svc.IngestPrecedents(s.ctx, cases("refund", 6, true), 0)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

		list, err := n.bundles.List(s.ctx)
		s.Require().NoError(err)
		s.Empty(list)
	})
}

// =============================================================================
// Exchanges
// =============================================================================

func (s *ServiceSuite) TestPrepareSync() {
	s.Run("no shareable bundles", func() {
		n := s.newNode("node-a")
		_, err := n.svc.PrepareSync(s.ctx, "node-b")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("offers only own consented bundles", func() {
		n := s.newNode("node-a")
		s.Require().NoError(n.bundles.Upsert(s.ctx, versionOf("own", "node-a", 4, 2, 0.8)))
		foreign := versionOf("foreign", "node-c", 4, 2, 0.8)
		s.Require().NoError(n.bundles.Upsert(s.ctx, foreign))
		withheld := versionOf("withheld", "node-a", 4, 2, 0.8)
		withheld.ConsentGiven = false
		s.Require().NoError(n.bundles.Upsert(s.ctx, withheld))

		req, err := n.svc.PrepareSync(s.ctx, "node-b")
		s.Require().NoError(err)
		s.Require().Len(req.Bundles, 1)
		s.Equal(id.BundleID("own"), req.Bundles[0].BundleID)
		s.True(req.ConsentVerified)
		s.Contains(n.audit.actions(), string(audit.EventSyncRequested))
	})
}

func (s *ServiceSuite) TestExchangeBetweenNodes() {
	a := s.newNode("node-a")
	b := s.newNode("node-b")

	_, err := a.svc.IngestPrecedents(s.ctx, cases("refund", 6, true), 0)
	s.Require().NoError(err)

	req, err := a.svc.PrepareSync(s.ctx, "node-b")
	s.Require().NoError(err)

	s.Run("first delivery admits and stores", func() {
		resp, err := b.svc.HandleSyncRequest(s.ctx, req)
		s.Require().NoError(err)
		s.Equal(models.StatusAccepted, resp.Status)
		s.Equal(1, resp.AcceptedCount)

		stored, err := b.bundles.List(s.ctx)
		s.Require().NoError(err)
		s.Len(stored, 1)

		ids, err := b.ledger.Members(s.ctx)
		s.Require().NoError(err)
		s.Equal([]id.BundleID{req.Bundles[0].BundleID}, ids)

		last := b.audit.events[len(b.audit.events)-1]
		s.Equal(string(audit.EventSyncProcessed), last.Action)
		s.Equal(id.NodeID("node-a"), last.PeerNode)
	})

	s.Run("re-delivery is skipped", func() {
		resp, err := b.svc.HandleSyncRequest(s.ctx, req)
		s.Require().NoError(err)
		s.Equal(models.StatusAccepted, resp.Status)
		s.Zero(resp.AcceptedCount)
		s.Equal(1, resp.SkippedCount)
		s.Len(b.svc.History(0), 2)
	})

	s.Run("received bundles are not offered onwards", func() {
		_, err := b.svc.PrepareSync(s.ctx, "node-c")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestRejectedExchangeIsAudited() {
	b := s.newNode("node-b")
	req := &models.SyncRequest{
		RequestID:       "r-1",
		SourceNode:      "node-a",
		TargetNode:      "node-b",
		Bundles:         []precedent.AnonymousBundle{versionOf("b-1", "node-a", 4, 2, 0.8)},
		ProtocolVersion: "9.9",
		ConsentVerified: true,
	}

	resp, err := b.svc.HandleSyncRequest(s.ctx, req)
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, resp.Status)
	s.Equal([]string{string(audit.EventSyncRejected)}, b.audit.actions())
}

// =============================================================================
// Conflicts
// =============================================================================

func (s *ServiceSuite) TestConflictIsKeptUntilResolved() {
	b := s.newNode("node-b")
	local := versionOf("b-1", "node-b", 5, 2, 0.81)
	s.Require().NoError(b.bundles.Upsert(s.ctx, local))

	remote := versionOf("b-1", "node-a", 4, 2, 0.75)
	req := &models.SyncRequest{
		RequestID:       "r-1",
		SourceNode:      "node-a",
		TargetNode:      "node-b",
		Bundles:         []precedent.AnonymousBundle{remote},
		ProtocolVersion: id.ProtocolVersionV1,
		ConsentVerified: true,
	}

	resp, err := b.svc.HandleSyncRequest(s.ctx, req)
	s.Require().NoError(err)
	s.Equal(models.StatusConflict, resp.Status)
	s.Equal(1, resp.ConflictCount)
	s.Contains(b.audit.actions(), string(audit.EventConflictDetected))

	s.Run("local version is not overwritten", func() {
		stored, err := b.svc.Bundle(s.ctx, "b-1")
		s.Require().NoError(err)
		s.Equal(7, stored.PrecedentCount)
		s.Len(b.svc.Conflicts(), 1)
	})

	s.Run("unknown strategy leaves the conflict pending", func() {
		_, err := b.svc.Resolve(s.ctx, "b-1", "coin_flip")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		s.Len(b.svc.Conflicts(), 1)
	})

	s.Run("merge stores the merged bundle", func() {
		merged, err := b.svc.Resolve(s.ctx, "b-1", models.Merge)
		s.Require().NoError(err)
		s.Equal(13, merged.PrecedentCount)
		s.True(merged.Merged)

		stored, err := b.svc.Bundle(s.ctx, "b-1")
		s.Require().NoError(err)
		s.Equal(13, stored.PrecedentCount)
		s.Empty(b.svc.Conflicts())
		s.Contains(b.audit.actions(), string(audit.EventConflictResolved))
	})

	s.Run("resolving again is not found", func() {
		_, err := b.svc.Resolve(s.ctx, "b-1", models.KeepLocal)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func offer(source id.NodeID, requestID id.RequestID, b precedent.AnonymousBundle) *models.SyncRequest {
	return &models.SyncRequest{
		RequestID:       requestID,
		SourceNode:      source,
		TargetNode:      "node-b",
		Bundles:         []precedent.AnonymousBundle{b},
		ProtocolVersion: id.ProtocolVersionV1,
		ConsentVerified: true,
	}
}

func (s *ServiceSuite) TestOverlappingDivergentOffersSurfaceConflict() {
	base := s.newNode("node-b")
	store := newGatedStore(200 * time.Millisecond)
	svc, err := New(base.svc.bundler, base.svc.protocol, store, base.ledger,
		WithAuditPublisher(base.svc.auditor), WithClock(base.svc.now))
	s.Require().NoError(err)

	reqs := []*models.SyncRequest{
		offer("node-a", "r-a", versionOf("b-1", "node-a", 5, 2, 0.81)),
		offer("node-c", "r-c", versionOf("b-1", "node-c", 9, 2, 0.81)),
	}
	resps := make([]*models.SyncResponse, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Go(func() {
			resp, err := svc.HandleSyncRequest(s.ctx, req)
			s.NoError(err)
			resps[i] = resp
		})
	}
	wg.Wait()

	statuses := []models.SyncStatus{resps[0].Status, resps[1].Status}
	s.ElementsMatch([]models.SyncStatus{models.StatusAccepted, models.StatusConflict}, statuses)
	s.Equal(1, resps[0].AcceptedCount+resps[1].AcceptedCount)
	s.Equal(1, resps[0].ConflictCount+resps[1].ConflictCount)

	conflicts := svc.Conflicts()
	s.Require().Len(conflicts, 1)
	stored, err := svc.Bundle(s.ctx, "b-1")
	s.Require().NoError(err)
	s.Equal(stored.PrecedentCount, conflicts[0].LocalVersion.PrecedentCount)
	s.NotEqual(stored.PrecedentCount, conflicts[0].RemoteVersion.PrecedentCount)
}

func (s *ServiceSuite) TestExchangeAuditFailureStoresNothing() {
	b := s.newNode("node-b")
	failing := mocks.NewMockAuditPublisher(s.ctrl)
	failing.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("outbox down"))
	b.svc.auditor = failing

	resp, err := b.svc.HandleSyncRequest(s.ctx, offer("node-a", "r-1", versionOf("b-1", "node-a", 4, 2, 0.8)))
	s.Require().NotNil(resp)
	s.Equal(models.StatusAccepted, resp.Status)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

	stored, err := b.bundles.List(s.ctx)
	s.Require().NoError(err)
	s.Empty(stored)
	ids, err := b.ledger.Members(s.ctx)
	s.Require().NoError(err)
	s.Empty(ids)
}

func (s *ServiceSuite) TestOperationsAuditFailureIsNotFatal() {
	b := s.newNode("node-b")
	s.Require().NoError(b.bundles.Upsert(s.ctx, versionOf("b-1", "node-b", 5, 2, 0.81)))

	pub := mocks.NewMockAuditPublisher(s.ctrl)
	pub.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		if e.Action == string(audit.EventConflictDetected) {
			return errors.New("ops store down")
		}
		return nil
	}).AnyTimes()
	b.svc.auditor = pub

	resp, err := b.svc.HandleSyncRequest(s.ctx, offer("node-a", "r-1", versionOf("b-1", "node-a", 4, 2, 0.75)))
	s.Require().NoError(err)
	s.Equal(models.StatusConflict, resp.Status)
	s.Len(b.svc.Conflicts(), 1)
}

// =============================================================================
// Export and import
// =============================================================================

func (s *ServiceSuite) TestExportImport() {
	a := s.newNode("node-a")
	b := s.newNode("node-b")
	_, err := a.svc.IngestPrecedents(s.ctx, cases("refund", 6, true), 0)
	s.Require().NoError(err)

	env, err := a.svc.Export(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, env.BundleCount)

	written, err := b.svc.Import(s.ctx, env)
	s.Require().NoError(err)
	s.Equal(1, written)

	written, err = b.svc.Import(s.ctx, env)
	s.Require().NoError(err)
	s.Zero(written, "bundles already stored are not rewritten")

	env.BundleCount = 5
	_, err = b.svc.Import(s.ctx, env)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestBundleNotFound() {
	n := s.newNode("node-a")
	_, err := n.svc.Bundle(s.ctx, "missing")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
