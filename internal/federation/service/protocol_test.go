package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"accord/internal/federation/metrics"
	"accord/internal/federation/models"
	precedent "accord/internal/precedent/models"
	id "accord/pkg/domain"
	dErrors "accord/pkg/domain-errors"
)

var fixedNow = time.Date(2025, 11, 4, 9, 30, 0, 0, time.UTC)

type ProtocolSuite struct {
	suite.Suite
	ctx      context.Context
	sender   *Protocol
	receiver *Protocol
	metrics  *metrics.Metrics
}

func TestProtocolSuite(t *testing.T) {
	suite.Run(t, new(ProtocolSuite))
}

func (s *ProtocolSuite) SetupTest() {
	s.ctx = context.Background()
	clock := WithClock(func() time.Time { return fixedNow })

	sender, err := New("node-a", 5, clock)
	s.Require().NoError(err)
	s.sender = sender

	s.metrics = metrics.New(prometheus.NewRegistry())
	receiver, err := New("node-b", 5, clock, WithMetrics(s.metrics))
	s.Require().NoError(err)
	s.receiver = receiver
}

func bundle(bid string, allow, deny int, avg float64) precedent.AnonymousBundle {
	return precedent.AnonymousBundle{
		BundleID:            id.BundleID(bid),
		KValue:              5,
		PrecedentCount:      allow + deny,
		CreatedAt:           fixedNow.Add(-time.Hour),
		VerdictDistribution: map[precedent.Verdict]int{"ALLOW": allow, "DENY": deny},
		AvgConfidence:       avg,
		ConfidenceRange:     precedent.ConfidenceRange{Min: 0.6, Max: 0.95},
		CommonThemes:        []string{"refund"},
		ContextPatterns:     map[string]precedent.ContextPattern{"amount": {Presence: 1, ValueTypes: []string{"number"}}},
		TimePeriod:          "2025-Q4",
		PrivacyGuarantee:    precedent.PrivacyGuaranteeKAnonymity,
		SuppressedFields:    []string{"decision_id"},
		SourceNode:          "node-a",
		ConsentGiven:        true,
		ClusterKind:         precedent.ClusterKindSimilarity,
	}
}

func (s *ProtocolSuite) request(bundles ...precedent.AnonymousBundle) *models.SyncRequest {
	req, err := s.sender.CreateSyncRequest(s.ctx, bundles, "node-b")
	s.Require().NoError(err)
	return req
}

// =============================================================================
// CreateSyncRequest
// =============================================================================

func (s *ProtocolSuite) TestCreateSyncRequest() {
	s.Run("stamps identity, version and consent", func() {
		req := s.request(bundle("b1", 4, 1, 0.8), bundle("b2", 3, 3, 0.7))

		s.Equal(id.NodeID("node-a"), req.SourceNode)
		s.Equal(id.NodeID("node-b"), req.TargetNode)
		s.Equal(id.ProtocolVersionV1, req.ProtocolVersion)
		s.Equal(fixedNow, req.Timestamp)
		s.Equal(RequestIDFor("node-a", "node-b", fixedNow), req.RequestID)
		s.Len(string(req.RequestID), 16)
		s.True(req.ConsentVerified)
		s.Len(req.Bundles, 2)
	})

	s.Run("consent is verified only when every bundle carries it", func() {
		withheld := bundle("b2", 3, 3, 0.7)
		withheld.ConsentGiven = false
		req := s.request(bundle("b1", 4, 1, 0.8), withheld)
		s.False(req.ConsentVerified)
	})

	s.Run("offered bundles are copies", func() {
		original := bundle("b1", 4, 1, 0.8)
		req := s.request(original)
		req.Bundles[0].VerdictDistribution["ALLOW"] = 99
		s.Equal(4, original.VerdictDistribution["ALLOW"])
	})

	s.Run("target is required", func() {
		_, err := s.sender.CreateSyncRequest(s.ctx, nil, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

// =============================================================================
// Validation
// =============================================================================

func (s *ProtocolSuite) TestValidationRejectsWholeRequest() {
	cases := map[string]func(*models.SyncRequest){
		"version mismatch":     func(r *models.SyncRequest) { r.ProtocolVersion = "2.0" },
		"consent not verified": func(r *models.SyncRequest) { r.ConsentVerified = false },
		"wrong target":         func(r *models.SyncRequest) { r.TargetNode = "node-c" },
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			req := s.request(bundle("b1", 4, 1, 0.8), bundle("b2", 3, 3, 0.7))
			mutate(req)

			resp := s.receiver.ProcessSyncRequest(s.ctx, req, nil)

			s.Equal(models.StatusRejected, resp.Status)
			s.Zero(resp.AcceptedCount)
			s.Equal(2, resp.RejectedCount)
			s.NotEmpty(resp.Message)
			s.False(s.receiver.IsSynced("b1"))
		})
	}

	s.Run("empty bundle list", func() {
		resp := s.receiver.ProcessSyncRequest(s.ctx, s.request(), nil)
		s.Equal(models.StatusRejected, resp.Status)
		s.Equal("no bundles offered", resp.Message)
	})

	s.Run("nil request", func() {
		resp := s.receiver.ProcessSyncRequest(s.ctx, nil, nil)
		s.Equal(models.StatusRejected, resp.Status)
	})

	s.Run("rejections are recorded in history", func() {
		s.NotEmpty(s.receiver.History())
		last := s.receiver.RecentHistory(1)
		s.Require().Len(last, 1)
		s.Equal(models.StatusRejected, last[0].Status)
	})
}

// =============================================================================
// Admission
// =============================================================================

func (s *ProtocolSuite) TestAdmission() {
	s.Run("clean bundles are accepted", func() {
		req := s.request(bundle("b1", 4, 1, 0.8), bundle("b2", 3, 3, 0.7))

		ex := s.receiver.Process(s.ctx, req, nil)

		s.Equal(models.StatusAccepted, ex.Response.Status)
		s.Equal(2, ex.Response.AcceptedCount)
		s.Len(ex.Accepted, 2)
		s.Empty(ex.Response.Conflicts)
		s.True(s.receiver.IsSynced("b1"))
		s.Equal(2, s.receiver.SyncedCount())
		s.Equal(float64(2), promtest.ToFloat64(s.metrics.SyncedBundles))
	})

	s.Run("re-delivery is skipped and never double admitted", func() {
		req := s.request(bundle("b1", 4, 1, 0.8), bundle("b2", 3, 3, 0.7))

		resp := s.receiver.ProcessSyncRequest(s.ctx, req, nil)

		s.Equal(models.StatusAccepted, resp.Status)
		s.Zero(resp.AcceptedCount)
		s.Equal(2, resp.SkippedCount)
		s.Equal(2, s.receiver.SyncedCount())
		s.Equal([]id.BundleID{"b1", "b2"}, s.receiver.SyncedIDs())
	})

	s.Run("mixed outcome is partial", func() {
		weak := bundle("b4", 2, 1, 0.7)
		weak.KValue = 3
		withheld := bundle("b5", 4, 2, 0.7)
		withheld.ConsentGiven = false
		req := s.request(bundle("b3", 4, 1, 0.8), weak, withheld)
		req.ConsentVerified = true

		ex := s.receiver.Process(s.ctx, req, nil)

		s.Equal(models.StatusPartial, ex.Response.Status)
		s.Equal(1, ex.Response.AcceptedCount)
		s.Equal(2, ex.Response.RejectedCount)
		s.Require().Len(ex.Rejected, 2)
		s.Equal(id.BundleID("b4"), ex.Rejected[0].BundleID)
		s.Equal("consent not given", ex.Rejected[1].Reason)
		s.False(s.receiver.IsSynced("b4"))
	})

	s.Run("all rejected", func() {
		weak := bundle("b6", 2, 1, 0.7)
		resp := s.receiver.ProcessSyncRequest(s.ctx, s.request(weak), nil)
		s.Equal(models.StatusRejected, resp.Status)
		s.Equal(1, resp.RejectedCount)
	})

	s.Run("restored ids are skipped", func() {
		s.receiver.Restore([]id.BundleID{"b7"})
		resp := s.receiver.ProcessSyncRequest(s.ctx, s.request(bundle("b7", 4, 1, 0.8)), nil)
		s.Equal(1, resp.SkippedCount)
	})
}

// =============================================================================
// Conflicts
// =============================================================================

func (s *ProtocolSuite) TestConflictDetection() {
	s.Run("diverging summary of a held bundle is reported", func() {
		local := bundle("B1", 5, 2, 0.81)
		remote := bundle("B1", 4, 2, 0.81)
		req := s.request(remote, bundle("B2", 4, 1, 0.8))

		resp := s.receiver.ProcessSyncRequest(s.ctx, req, []precedent.AnonymousBundle{local})

		s.Equal(models.StatusConflict, resp.Status)
		s.Equal(1, resp.ConflictCount)
		s.Require().Len(resp.Conflicts, 1)
		c := resp.Conflicts[0]
		s.Equal(id.BundleID("B1"), c.BundleID)
		s.Equal(models.KeepLocal, c.ResolutionStrategy)
		s.Equal(local, c.LocalVersion)
		s.Equal(remote, c.RemoteVersion)
		s.Contains(c.ConflictReason, "precedent_count")
		s.Contains(c.ConflictReason, "verdict_distribution")
		s.Equal(2, resp.AcceptedCount, "detection does not decide admission")
		s.Equal(float64(1), promtest.ToFloat64(s.metrics.SyncRequests.WithLabelValues("conflict")))
	})

	s.Run("confidence within tolerance is not a conflict", func() {
		local := bundle("B3", 5, 2, 0.81)
		remote := bundle("B3", 5, 2, 0.815)
		resp := s.receiver.ProcessSyncRequest(s.ctx, s.request(remote), []precedent.AnonymousBundle{local})
		s.Empty(resp.Conflicts)
		s.Equal(models.StatusAccepted, resp.Status)
	})

	s.Run("confidence beyond tolerance is a conflict", func() {
		local := bundle("B4", 5, 2, 0.81)
		remote := bundle("B4", 5, 2, 0.70)
		resp := s.receiver.ProcessSyncRequest(s.ctx, s.request(remote), []precedent.AnonymousBundle{local})
		s.Require().Len(resp.Conflicts, 1)
		s.Contains(resp.Conflicts[0].ConflictReason, "avg_confidence")
	})

	s.Run("conflict snapshots are independent of later changes", func() {
		local := bundle("B5", 5, 2, 0.81)
		resp := s.receiver.ProcessSyncRequest(s.ctx, s.request(bundle("B5", 3, 2, 0.8)), []precedent.AnonymousBundle{local})
		local.VerdictDistribution["ALLOW"] = 100
		s.Equal(5, resp.Conflicts[0].LocalVersion.VerdictDistribution["ALLOW"])
	})
}

// =============================================================================
// History and concurrency
// =============================================================================

func (s *ProtocolSuite) TestHistoryIsBounded() {
	p, err := New("node-b", 5, WithHistoryCapacity(3))
	s.Require().NoError(err)

	for i := 0; i < 5; i++ {
		req := s.request(bundle(fmt.Sprintf("h%d", i), 4, 1, 0.8))
		req.RequestID = id.RequestID(fmt.Sprintf("r%d", i))
		p.ProcessSyncRequest(s.ctx, req, nil)
	}

	history := p.History()
	s.Require().Len(history, 3)
	s.Equal(id.RequestID("r2"), history[0].RequestID)
	s.Equal(id.RequestID("r4"), history[2].RequestID)
	s.Equal(id.NodeID("node-a"), history[2].SourceNode)
	s.Equal(1, history[2].AcceptedCount)
}

func (s *ProtocolSuite) TestConcurrentDeliveryAdmitsOnce() {
	bundles := make([]precedent.AnonymousBundle, 20)
	for i := range bundles {
		bundles[i] = bundle(fmt.Sprintf("c%02d", i), 4, 1, 0.8)
	}
	req := s.request(bundles...)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := s.receiver.ProcessSyncRequest(s.ctx, req, nil)
			mu.Lock()
			accepted += resp.AcceptedCount
			mu.Unlock()
		}()
	}
	wg.Wait()

	s.Equal(len(bundles), accepted)
	s.Equal(len(bundles), s.receiver.SyncedCount())
	s.Len(s.receiver.History(), 16)
}

func (s *ProtocolSuite) TestNewValidatesConfiguration() {
	_, err := New("", 5)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidConfiguration))

	_, err = New("node-a", 0)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidConfiguration))
}
