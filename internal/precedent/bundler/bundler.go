// Package bundler turns raw precedents into k-anonymous bundles that are safe
// to share with other nodes.
package bundler

import (
	"context"
	crand "crypto/rand"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"accord/internal/precedent/clustering"
	"accord/internal/precedent/embedding"
	"accord/internal/precedent/metrics"
	"accord/internal/precedent/models"
	id "accord/pkg/domain"
	dErrors "accord/pkg/domain-errors"
)

// Bundler clusters precedents and summarises each cluster into an
// AnonymousBundle. It is safe for concurrent use.
type Bundler struct {
	node       id.NodeID
	cfg        models.PrivacyConfig
	clusterer  *clustering.PrecedentClusterer
	suppressed []string
	skip       map[string]struct{}

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	noiseMu sync.Mutex
	noise   NoiseSource

	workers int
	density clustering.DensityClusterer
}

type Option func(*Bundler)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bundler) {
		b.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bundler) {
		b.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(b *Bundler) {
		b.tracer = t
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Bundler) {
		b.now = now
	}
}

// WithNoiseSource replaces the random source used for differential privacy noise.
func WithNoiseSource(src NoiseSource) Option {
	return func(b *Bundler) {
		b.noise = src
	}
}

// WithWorkers bounds concurrent embedding calls.
func WithWorkers(n int) Option {
	return func(b *Bundler) {
		b.workers = n
	}
}

func WithDensityClusterer(d clustering.DensityClusterer) Option {
	return func(b *Bundler) {
		b.density = d
	}
}

// New builds a bundler for node. The privacy config is validated here and
// fixed for the bundler's lifetime.
func New(node id.NodeID, cfg models.PrivacyConfig, embedder embedding.TextEmbedder, opts ...Option) (*Bundler, error) {
	if node.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidConfiguration, "node id is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Bundler{
		node:       node,
		cfg:        cfg,
		suppressed: SuppressedFields(cfg),
		logger:     slog.Default(),
		tracer:     otel.Tracer("accord/precedent/bundler"),
		now:        time.Now,
	}
	b.skip = make(map[string]struct{}, len(b.suppressed))
	for _, f := range b.suppressed {
		b.skip[f] = struct{}{}
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.noise == nil {
		var seed [32]byte
		_, _ = crand.Read(seed[:])
		b.noise = rand.New(rand.NewChaCha8(seed))
	}

	clusterOpts := []clustering.Option{
		clustering.WithLogger(b.logger),
		clustering.WithWorkers(b.workers),
		clustering.WithTextFunc(func(p models.RawPrecedent) string { return p.CanonicalText(b.skip) }),
	}
	if b.density != nil {
		clusterOpts = append(clusterOpts, clustering.WithDensityClusterer(b.density))
	}
	clusterer, err := clustering.NewPrecedentClusterer(embedder, cfg.SimilarityThreshold, clusterOpts...)
	if err != nil {
		return nil, err
	}
	b.clusterer = clusterer
	return b, nil
}

// Config returns the privacy configuration the bundler enforces.
func (b *Bundler) Config() models.PrivacyConfig {
	return b.cfg
}

// CreateBundles clusters precedents and returns one bundle per cluster that
// reaches k members. A k of zero means the configured min_k; an explicit k may
// raise but never lower it. Precedents in undersized clusters are dropped, as
// are precedents without consent when the config requires it.
func (b *Bundler) CreateBundles(ctx context.Context, precedents []models.RawPrecedent, k int) ([]models.AnonymousBundle, error) {
	start := b.now()
	ctx, span := b.tracer.Start(ctx, "bundler.CreateBundles",
		trace.WithAttributes(attribute.Int("precedent.count", len(precedents))))
	defer span.End()

	if k <= 0 {
		k = b.cfg.MinK
	}
	if k < b.cfg.MinK {
		return nil, fail(span, dErrors.Newf(dErrors.CodeInvalidConfiguration, "k %d is below the configured min_k %d", k, b.cfg.MinK))
	}
	if len(precedents) < k {
		return nil, fail(span, dErrors.Newf(dErrors.CodeInvalidConfiguration,
			"insufficient precedents for k-anonymity: need %d, got %d", k, len(precedents)))
	}
	if err := checkDecisionIDs(precedents); err != nil {
		return nil, fail(span, err)
	}

	if b.cfg.RequireConsent {
		consented := withConsent(precedents)
		if withheld := len(precedents) - len(consented); withheld > 0 {
			b.metrics.AddDiscarded(withheld)
			b.logger.InfoContext(ctx, "precedents without consent excluded from bundling",
				"node_id", b.node,
				"excluded", withheld,
			)
		}
		if len(consented) < k {
			b.logger.WarnContext(ctx, "too few consented precedents for one bundle",
				"node_id", b.node,
				"consented", len(consented),
				"k", k,
			)
			return []models.AnonymousBundle{}, nil
		}
		precedents = consented
	}

	res, err := b.clusterer.Cluster(ctx, precedents, k)
	if err != nil {
		return nil, fail(span, err)
	}

	maxK := b.cfg.MaxK
	if maxK > 0 && maxK < 2*k {
		maxK = 2 * k
	}

	bundles := make([]models.AnonymousBundle, 0, len(res.Groups))
	for _, group := range res.Groups {
		for _, part := range splitGroup(group.Members, maxK) {
			bundle := b.summarise(part, k, group.Kind)
			if !VerifyKAnonymity(bundle, k) {
				return nil, fail(span, dErrors.Newf(dErrors.CodeInvariantViolation, "bundle %s summarises %d precedents, below k %d", bundle.BundleID, bundle.PrecedentCount, k))
			}
			bundles = append(bundles, bundle)
			b.metrics.ObserveBundle(string(bundle.ClusterKind), bundle.PrecedentCount)
		}
	}

	b.metrics.AddDiscarded(res.Discarded)
	b.metrics.ObserveCreateLatency(b.now().Sub(start))
	span.SetAttributes(attribute.Int("bundle.count", len(bundles)), attribute.Int("precedent.discarded", res.Discarded))

	b.logger.InfoContext(ctx, "bundles created",
		"node_id", b.node,
		"k", k,
		"precedents", len(precedents),
		"bundles", len(bundles),
		"discarded", res.Discarded,
		"noise_pooled", res.NoisePooled,
	)
	return bundles, nil
}

func (b *Bundler) summarise(members []models.RawPrecedent, k int, kind models.ClusterKind) models.AnonymousBundle {
	ids := make([]id.DecisionID, len(members))
	verdicts := make(map[models.Verdict]int)
	consent := true
	var sum float64
	lo, hi := members[0].Outcome.Confidence, members[0].Outcome.Confidence
	newest := members[0].Timestamp
	for i, p := range members {
		ids[i] = p.DecisionID
		verdicts[p.Outcome.Verdict]++
		c := p.Outcome.Confidence
		sum += c
		lo = min(lo, c)
		hi = max(hi, c)
		if p.Timestamp.After(newest) {
			newest = p.Timestamp
		}
		consent = consent && p.ConsentGiven
	}

	avg := sum / float64(len(members))
	if b.cfg.DifferentialPrivacy {
		b.noiseMu.Lock()
		avg = clamp(avg+laplace(b.noise, b.cfg.NoiseScale), lo, hi)
		b.noiseMu.Unlock()
	}

	return models.AnonymousBundle{
		BundleID:            BundleIDFor(ids),
		KValue:              k,
		PrecedentCount:      len(members),
		CreatedAt:           b.now().UTC(),
		VerdictDistribution: verdicts,
		AvgConfidence:       avg,
		ConfidenceRange:     models.ConfidenceRange{Min: lo, Max: hi},
		CommonThemes:        commonThemes(members, b.skip),
		ContextPatterns:     contextPatterns(members, b.skip),
		TimePeriod:          models.QuarterOf(newest),
		PrivacyGuarantee:    models.PrivacyGuaranteeKAnonymity,
		SuppressedFields:    append([]string(nil), b.suppressed...),
		SourceNode:          b.node,
		ConsentGiven:        consent,
		ClusterKind:         kind,
	}
}

// splitGroup cuts a group larger than maxK into near-equal parts ordered by
// decision ID. With maxK >= 2k every part keeps at least k members.
func splitGroup(members []models.RawPrecedent, maxK int) [][]models.RawPrecedent {
	if maxK <= 0 || len(members) <= maxK {
		return [][]models.RawPrecedent{members}
	}
	sorted := append([]models.RawPrecedent(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DecisionID < sorted[j].DecisionID })

	parts := (len(sorted) + maxK - 1) / maxK
	base, extra := len(sorted)/parts, len(sorted)%parts
	out := make([][]models.RawPrecedent, 0, parts)
	start := 0
	for i := 0; i < parts; i++ {
		size := base
		if i < extra {
			size++
		}
		out = append(out, sorted[start:start+size])
		start += size
	}
	return out
}

func checkDecisionIDs(precedents []models.RawPrecedent) error {
	seen := make(map[id.DecisionID]struct{}, len(precedents))
	for _, p := range precedents {
		parsed, err := id.ParseDecisionID(string(p.DecisionID))
		if err != nil {
			return err
		}
		if _, dup := seen[parsed]; dup {
			return dErrors.Newf(dErrors.CodeInvalidInput, "duplicate decision_id %s", parsed)
		}
		seen[parsed] = struct{}{}
	}
	return nil
}

func withConsent(precedents []models.RawPrecedent) []models.RawPrecedent {
	out := make([]models.RawPrecedent, 0, len(precedents))
	for _, p := range precedents {
		if p.ConsentGiven {
			out = append(out, p)
		}
	}
	return out
}

func lowerKey(k string) string {
	return strings.ToLower(k)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
