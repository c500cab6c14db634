package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accord/internal/ratelimit/metrics"
	"accord/internal/ratelimit/models"
	"accord/internal/ratelimit/store/bucket"
	"accord/pkg/testutil"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, int, time.Duration) (*models.RateLimitResult, error) {
	return nil, errors.New("redis: connection refused")
}

func newTestHandler(limiter Limiter, limit int, m *metrics.Metrics) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := New(limiter, limit, time.Minute, logger, WithMetrics(m))
	return mw.PerPeer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func syncRequest(peer string, remote string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	req.RemoteAddr = remote
	req = testutil.WithRequestID(req, "req-"+remote)
	if peer != "" {
		req = testutil.WithPeerNode(req, peer)
	}
	return req
}

func TestPerPeer(t *testing.T) {
	t.Run("admits up to limit then rejects with retry hint", func(t *testing.T) {
		m := metrics.New(prometheus.NewRegistry())
		h := newTestHandler(bucket.NewInMemoryBucketStore(), 2, m)

		for i := range 2 {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, syncRequest("node-b", "10.0.0.1:5000"))
			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Limit"))
			assert.Equal(t, []string{"1", "0"}[i], rr.Header().Get("X-RateLimit-Remaining"))
		}

		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, syncRequest("node-b", "10.0.0.1:5000"))
		assert.Equal(t, http.StatusTooManyRequests, rr.Code)
		assert.NotEmpty(t, rr.Header().Get("Retry-After"))
		assert.Contains(t, rr.Body.String(), `"error":"rate_limit_exceeded"`)

		assert.InDelta(t, 2, promtest.ToFloat64(m.SyncAllowed), 0)
		assert.InDelta(t, 1, promtest.ToFloat64(m.SyncRejected), 0)
	})

	t.Run("peers have separate budgets", func(t *testing.T) {
		h := newTestHandler(bucket.NewInMemoryBucketStore(), 1, nil)

		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, syncRequest("node-b", "10.0.0.1:5000"))
		require.Equal(t, http.StatusOK, rr.Code)

		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, syncRequest("node-c", "10.0.0.1:5000"))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("anonymous callers keyed by address", func(t *testing.T) {
		h := newTestHandler(bucket.NewInMemoryBucketStore(), 1, nil)

		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, syncRequest("", "10.0.0.1:5000"))
		require.Equal(t, http.StatusOK, rr.Code)

		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, syncRequest("", "10.0.0.1:5001"))
		assert.Equal(t, http.StatusTooManyRequests, rr.Code)

		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, syncRequest("", "10.0.0.2:5000"))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("store failure fails open", func(t *testing.T) {
		m := metrics.New(prometheus.NewRegistry())
		h := newTestHandler(failingLimiter{}, 1, m)

		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, syncRequest("node-b", "10.0.0.1:5000"))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
		assert.InDelta(t, 1, promtest.ToFloat64(m.LimiterFailures), 0)
	})

	t.Run("zero limit disables", func(t *testing.T) {
		h := newTestHandler(failingLimiter{}, 0, nil)

		for range 3 {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, syncRequest("node-b", "10.0.0.1:5000"))
			assert.Equal(t, http.StatusOK, rr.Code)
		}
	})
}
