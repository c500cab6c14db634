package handler

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"accord/internal/federation/codec"
	"accord/internal/federation/models"
	"accord/internal/node"
	precedent "accord/internal/precedent/models"
	id "accord/pkg/domain"
	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/httputil"
	"accord/pkg/requestcontext"
)

const (
	defaultHistoryLimit = 50
	maxSyncBodyBytes    = 32 << 20
)

// Service is the slice of the node service exposed over HTTP.
type Service interface {
	Status(ctx context.Context) (node.Status, error)
	History(n int) []models.HistoryEntry
	HandleSyncRequest(ctx context.Context, req *models.SyncRequest) (*models.SyncResponse, error)
	Conflicts() []models.PrecedentConflict
	Resolve(ctx context.Context, bundleID id.BundleID, strategy models.ResolutionStrategy) (precedent.AnonymousBundle, error)
	Bundle(ctx context.Context, bundleID id.BundleID) (*precedent.AnonymousBundle, error)
}

// Check is a named readiness probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Handler serves the node's operations and exchange endpoints.
type Handler struct {
	service  Service
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	checks   []Check
	syncMW   []func(http.Handler) http.Handler
	cbor     codec.Codec
}

// Option configures a Handler.
type Option func(*Handler)

// WithChecks adds readiness probes reported by /readyz.
func WithChecks(checks ...Check) Option {
	return func(h *Handler) {
		h.checks = append(h.checks, checks...)
	}
}

// WithSyncMiddleware wraps only POST /sync, e.g. with per-peer throttling.
func WithSyncMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.syncMW = append(h.syncMW, mw...)
	}
}

// New constructs a handler. A nil gatherer leaves /metrics unmounted.
func New(service Service, logger *slog.Logger, gatherer prometheus.Gatherer, opts ...Option) (*Handler, error) {
	cborCodec, err := codec.NewCBORCodec()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		service:  service,
		logger:   logger,
		gatherer: gatherer,
		cbor:     cborCodec,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts all endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.HandleHealth)
	r.Get("/readyz", h.HandleReady)
	if h.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.With(h.syncMW...).Post("/sync", h.HandleSync)
	r.Get("/sync/history", h.HandleHistory)
	r.Get("/sync/status", h.HandleStatus)
	r.Get("/sync/conflicts", h.HandleConflicts)
	r.Post("/sync/conflicts/{bundleID}/resolve", h.HandleResolve)
	r.Get("/bundles/{bundleID}", h.HandleBundle)
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady runs every readiness probe and reports each result.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Probe(ctx); err != nil {
			h.logger.WarnContext(ctx, "readiness check failed", "check", c.Name, "error", err)
			results[c.Name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[c.Name] = "ok"
	}
	httputil.WriteJSON(w, status, ReadyResponse{Ready: status == http.StatusOK, Checks: results})
}

// HandleSync handles POST /sync. The body is a SyncRequest in JSON or, with
// Content-Type application/cbor, CBOR; the response uses the same encoding.
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	c := h.codecFor(r)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSyncBodyBytes))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read request body"))
		return
	}
	req, err := codec.Decode[models.SyncRequest](c, body)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid sync request body", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}

	resp, err := h.service.HandleSyncRequest(ctx, &req)
	if resp == nil {
		h.logger.ErrorContext(ctx, "sync request failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	if err != nil {
		// The exchange is already decided; the peer still needs its outcome.
		h.logger.ErrorContext(ctx, "sync outcome not fully persisted",
			"request_id", requestID,
			"sync_request_id", resp.RequestID,
			"error", err,
		)
	}

	out, err := codec.Encode(c, resp)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "sync request handled",
		"request_id", requestID,
		"sync_request_id", resp.RequestID,
		"source_node", req.SourceNode,
		"status", resp.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	w.Header().Set("Content-Type", c.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// HandleHistory handles GET /sync/history?limit=N.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteError(w, dErrors.Newf(dErrors.CodeBadRequest, "invalid limit %q", raw))
			return
		}
		limit = n
	}
	entries := h.service.History(limit)
	httputil.WriteJSON(w, http.StatusOK, HistoryResponse{Entries: entries, Count: len(entries)})
}

// HandleStatus handles GET /sync/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "status failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// HandleConflicts handles GET /sync/conflicts.
func (h *Handler) HandleConflicts(w http.ResponseWriter, _ *http.Request) {
	conflicts := h.service.Conflicts()
	httputil.WriteJSON(w, http.StatusOK, ConflictsResponse{Conflicts: conflicts, Count: len(conflicts)})
}

// HandleResolve handles POST /sync/conflicts/{bundleID}/resolve?strategy=.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bundleID, err := id.ParseBundleID(chi.URLParam(r, "bundleID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	strategy := models.DefaultResolutionStrategy
	if raw := r.URL.Query().Get("strategy"); raw != "" {
		if strategy, err = models.ParseResolutionStrategy(raw); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	resolved, err := h.service.Resolve(ctx, bundleID, strategy)
	if err != nil {
		h.logger.WarnContext(ctx, "conflict resolution failed",
			"request_id", requestcontext.RequestID(ctx),
			"bundle_id", bundleID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resolved)
}

// HandleBundle handles GET /bundles/{bundleID}.
func (h *Handler) HandleBundle(w http.ResponseWriter, r *http.Request) {
	bundleID, err := id.ParseBundleID(chi.URLParam(r, "bundleID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	b, err := h.service.Bundle(r.Context(), bundleID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, b)
}

func (h *Handler) codecFor(r *http.Request) codec.Codec {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && mt == h.cbor.ContentType() {
		return h.cbor
	}
	return codec.JSONCodec{}
}
