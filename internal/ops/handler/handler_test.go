package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"accord/internal/federation/codec"
	"accord/internal/federation/models"
	"accord/internal/node"
	"accord/internal/ops/handler/mocks"
	precedent "accord/internal/precedent/models"
	id "accord/pkg/domain"
	dErrors "accord/pkg/domain-errors"
	"accord/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/handler_mock.go -package=mocks Service

type HandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
	ready   error
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	s.ready = nil

	reg := prometheus.NewRegistry()
	promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "accord_test_total", Help: "test"}).Inc()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := New(s.service, logger, reg,
		WithChecks(Check{
			Name:  "store",
			Probe: func(context.Context) error { return s.ready },
		}),
		WithSyncMiddleware(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("X-Throttle") != "" {
					w.WriteHeader(http.StatusTooManyRequests)
					return
				}
				next.ServeHTTP(w, r)
			})
		}),
	)
	s.Require().NoError(err)

	s.router = chi.NewRouter()
	h.Register(s.router)
}

func (s *HandlerSuite) do(req *http.Request) *httptest.ResponseRecorder {
	return testutil.DoRequest(s.router, req)
}

// =============================================================================
// Health and metrics
// =============================================================================

func (s *HandlerSuite) TestHealth() {
	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "status", "ok")
}

func (s *HandlerSuite) TestReady() {
	s.Run("all checks pass", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/readyz"))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[ReadyResponse](s.T(), rr)
		s.True(resp.Ready)
		s.Equal("ok", resp.Checks["store"])
	})

	s.Run("failing check returns 503", func() {
		s.ready = errors.New("connection refused")
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/readyz"))
		testutil.AssertStatus(s.T(), rr, http.StatusServiceUnavailable)
		resp := testutil.UnmarshalResponse[ReadyResponse](s.T(), rr)
		s.False(resp.Ready)
		s.Equal("unavailable", resp.Checks["store"])
	})
}

func (s *HandlerSuite) TestMetrics() {
	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/metrics"))
	testutil.AssertStatusOK(s.T(), rr)
	s.Contains(rr.Body.String(), "accord_test_total 1")
}

// =============================================================================
// Sync exchange
// =============================================================================

func (s *HandlerSuite) TestSyncJSON() {
	req := models.SyncRequest{RequestID: "req-1", SourceNode: "node-b", TargetNode: "node-a"}
	s.service.EXPECT().HandleSyncRequest(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, got *models.SyncRequest) (*models.SyncResponse, error) {
			s.Equal(id.NodeID("node-b"), got.SourceNode)
			return &models.SyncResponse{RequestID: got.RequestID, Status: models.StatusAccepted}, nil
		})

	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/sync", req))

	testutil.AssertStatusOK(s.T(), rr)
	s.Equal("application/json", rr.Header().Get("Content-Type"))
	resp := testutil.UnmarshalResponse[models.SyncResponse](s.T(), rr)
	s.Equal(models.StatusAccepted, resp.Status)
	s.Equal(id.RequestID("req-1"), resp.RequestID)
}

func (s *HandlerSuite) TestSyncCBOR() {
	c, err := codec.NewCBORCodec()
	s.Require().NoError(err)
	body, err := c.Marshal(models.SyncRequest{RequestID: "req-2", SourceNode: "node-b"})
	s.Require().NoError(err)

	s.service.EXPECT().HandleSyncRequest(gomock.Any(), gomock.Any()).
		Return(&models.SyncResponse{RequestID: "req-2", Status: models.StatusRejected, Message: "version mismatch"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/sync", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/cbor")
	rr := s.do(req)

	testutil.AssertStatusOK(s.T(), rr)
	s.Equal("application/cbor", rr.Header().Get("Content-Type"))
	resp, err := codec.Decode[models.SyncResponse](c, rr.Body.Bytes())
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, resp.Status)
	s.Equal("version mismatch", resp.Message)
}

func (s *HandlerSuite) TestSyncMalformedBody() {
	req := httptest.NewRequest(http.MethodPost, "/sync", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rr := s.do(req)

	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	testutil.AssertJSONContains(s.T(), rr, "error", "bad_request")
}

func (s *HandlerSuite) TestSyncPersistenceFailureStillAnswers() {
	s.service.EXPECT().HandleSyncRequest(gomock.Any(), gomock.Any()).
		Return(&models.SyncResponse{RequestID: "req-3", Status: models.StatusAccepted, AcceptedCount: 1},
			dErrors.New(dErrors.CodeInternal, "persist exchange outcome"))

	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/sync", models.SyncRequest{RequestID: "req-3"}))

	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "accepted_count", float64(1))
}

func (s *HandlerSuite) TestSyncMiddlewareOnlyWrapsSync() {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/sync", models.SyncRequest{RequestID: "req-4"})
	req.Header.Set("X-Throttle", "1")
	rr := s.do(req)
	testutil.AssertStatus(s.T(), rr, http.StatusTooManyRequests)

	health := testutil.NewRequest(s.T(), http.MethodGet, "/healthz")
	health.Header.Set("X-Throttle", "1")
	testutil.AssertStatusOK(s.T(), s.do(health))
}

func (s *HandlerSuite) TestSyncServiceFailure() {
	s.service.EXPECT().HandleSyncRequest(gomock.Any(), gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeInternal, "load existing bundles"))

	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/sync", models.SyncRequest{RequestID: "req-4"}))

	testutil.AssertStatus(s.T(), rr, http.StatusInternalServerError)
	s.NotContains(rr.Body.String(), "load existing bundles")
}

// =============================================================================
// Introspection
// =============================================================================

func (s *HandlerSuite) TestHistory() {
	s.Run("default limit", func() {
		s.service.EXPECT().History(defaultHistoryLimit).Return([]models.HistoryEntry{{RequestID: "req-1"}})
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/sync/history"))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[HistoryResponse](s.T(), rr)
		s.Equal(1, resp.Count)
	})

	s.Run("explicit limit", func() {
		s.service.EXPECT().History(5).Return(nil)
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/sync/history?limit=5"))
		testutil.AssertStatusOK(s.T(), rr)
	})

	s.Run("invalid limit", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/sync/history?limit=-2"))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})
}

func (s *HandlerSuite) TestStatus() {
	s.service.EXPECT().Status(gomock.Any()).Return(node.Status{NodeID: "node-a", RequiredK: 5, StoredBundles: 3}, nil)

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/sync/status"))

	testutil.AssertStatusOK(s.T(), rr)
	resp := testutil.UnmarshalResponse[node.Status](s.T(), rr)
	s.Equal(id.NodeID("node-a"), resp.NodeID)
	s.Equal(5, resp.RequiredK)
	s.Equal(3, resp.StoredBundles)
}

func (s *HandlerSuite) TestBundle() {
	s.Run("found", func() {
		s.service.EXPECT().Bundle(gomock.Any(), id.BundleID("b-1")).
			Return(&precedent.AnonymousBundle{BundleID: "b-1", PrecedentCount: 6}, nil)
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/bundles/b-1"))
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "bundle_id", "b-1")
	})

	s.Run("missing", func() {
		s.service.EXPECT().Bundle(gomock.Any(), id.BundleID("nope")).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "bundle nope not found"))
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/bundles/nope"))
		testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
	})
}

// =============================================================================
// Conflicts
// =============================================================================

func (s *HandlerSuite) TestConflicts() {
	s.service.EXPECT().Conflicts().Return([]models.PrecedentConflict{{BundleID: "b-1", ConflictReason: "verdict distribution differs"}})

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/sync/conflicts"))

	testutil.AssertStatusOK(s.T(), rr)
	resp := testutil.UnmarshalResponse[ConflictsResponse](s.T(), rr)
	s.Equal(1, resp.Count)
	s.Equal(id.BundleID("b-1"), resp.Conflicts[0].BundleID)
}

func (s *HandlerSuite) TestResolve() {
	s.Run("explicit strategy", func() {
		s.service.EXPECT().Resolve(gomock.Any(), id.BundleID("b-1"), models.Merge).
			Return(precedent.AnonymousBundle{BundleID: "b-1", PrecedentCount: 12, MergedAt: ptr(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))}, nil)
		rr := s.do(testutil.NewRequest(s.T(), http.MethodPost, "/sync/conflicts/b-1/resolve?strategy=merge"))
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "precedent_count", float64(12))
	})

	s.Run("default strategy keeps local", func() {
		s.service.EXPECT().Resolve(gomock.Any(), id.BundleID("b-2"), models.KeepLocal).
			Return(precedent.AnonymousBundle{BundleID: "b-2"}, nil)
		rr := s.do(testutil.NewRequest(s.T(), http.MethodPost, "/sync/conflicts/b-2/resolve"))
		testutil.AssertStatusOK(s.T(), rr)
	})

	s.Run("unknown strategy", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodPost, "/sync/conflicts/b-1/resolve?strategy=coin_flip"))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
		testutil.AssertJSONContains(s.T(), rr, "error", "invalid_input")
	})

	s.Run("no pending conflict", func() {
		s.service.EXPECT().Resolve(gomock.Any(), id.BundleID("b-9"), models.KeepRemote).
			Return(precedent.AnonymousBundle{}, dErrors.New(dErrors.CodeNotFound, "no pending conflict for bundle b-9"))
		rr := s.do(testutil.NewRequest(s.T(), http.MethodPost, "/sync/conflicts/b-9/resolve?strategy=keep_remote"))
		testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
	})
}

func ptr[T any](v T) *T { return &v }
