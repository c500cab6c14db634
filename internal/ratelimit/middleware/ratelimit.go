package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"accord/internal/ratelimit/metrics"
	"accord/internal/ratelimit/models"
	"accord/pkg/platform/httputil"
	"accord/pkg/requestcontext"
)

// Limiter is satisfied by both bucket stores.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

type Middleware struct {
	limiter Limiter
	limit   int
	window  time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Middleware)

func WithMetrics(m *metrics.Metrics) Option {
	return func(mw *Middleware) {
		mw.metrics = m
	}
}

// New builds a limiter admitting limit requests per window per peer. A limit
// of zero or less disables it.
func New(limiter Limiter, limit int, window time.Duration, logger *slog.Logger, opts ...Option) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Middleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled() {
		logger.Info("sync rate limiting disabled")
	}
	return m
}

func (m *Middleware) disabled() bool {
	return m.limiter == nil || m.limit <= 0
}

// PerPeer throttles by the Accord-Source-Node header when present and by the
// remote address otherwise. Store failures let the request through.
func (m *Middleware) PerPeer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled() {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		key := peerKey(r)

		result, err := m.limiter.Allow(ctx, key, m.limit, m.window)
		if err != nil {
			m.metrics.IncrementFailures()
			m.logger.ErrorContext(ctx, "failed to check sync rate limit",
				"request_id", requestcontext.RequestID(ctx),
				"key", key,
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		addRateLimitHeaders(w, result)

		if !result.Allowed {
			m.metrics.IncrementRejected()
			m.logger.WarnContext(ctx, "sync rate limit exceeded",
				"request_id", requestcontext.RequestID(ctx),
				"key", key,
				"retry_after", result.RetryAfter,
			)
			writeRateLimitExceeded(w, result)
			return
		}

		m.metrics.IncrementAllowed()
		next.ServeHTTP(w, r)
	})
}

func peerKey(r *http.Request) string {
	if peer := requestcontext.PeerNode(r.Context()); peer != "" {
		return "sync:" + string(peer)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "sync:ip:" + host
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many sync requests from this peer. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
