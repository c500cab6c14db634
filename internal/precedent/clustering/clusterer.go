// Package clustering groups raw precedents by semantic similarity.
package clustering

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"accord/internal/precedent/embedding"
	"accord/internal/precedent/models"
	dErrors "accord/pkg/domain-errors"
)

const defaultWorkers = 8

// Group is a set of precedents that will become one bundle.
type Group struct {
	Label   int
	Kind    models.ClusterKind
	Members []models.RawPrecedent
}

// Result is the outcome of one clustering pass.
type Result struct {
	Groups []Group
	// Discarded counts precedents left out because their cluster, or the
	// noise pool, held fewer than min_k members.
	Discarded int
	// NoisePooled counts precedents bundled through the noise pool.
	NoisePooled int
}

// PrecedentClusterer embeds precedents and groups them with a density clusterer.
type PrecedentClusterer struct {
	embedder  embedding.TextEmbedder
	density   DensityClusterer
	threshold float64
	text      func(models.RawPrecedent) string
	workers   int
	logger    *slog.Logger
}

type Option func(*PrecedentClusterer)

func WithDensityClusterer(d DensityClusterer) Option {
	return func(c *PrecedentClusterer) {
		c.density = d
	}
}

// WithTextFunc sets how a precedent is rendered before embedding.
func WithTextFunc(fn func(models.RawPrecedent) string) Option {
	return func(c *PrecedentClusterer) {
		c.text = fn
	}
}

// WithWorkers bounds how many precedents are embedded concurrently.
func WithWorkers(n int) Option {
	return func(c *PrecedentClusterer) {
		if n > 0 {
			c.workers = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *PrecedentClusterer) {
		c.logger = logger
	}
}

// NewPrecedentClusterer builds a clusterer that treats precedents whose cosine
// similarity reaches threshold as neighbours.
func NewPrecedentClusterer(embedder embedding.TextEmbedder, threshold float64, opts ...Option) (*PrecedentClusterer, error) {
	if embedder == nil {
		return nil, dErrors.New(dErrors.CodeInvalidConfiguration, "embedder is required")
	}
	if threshold < 0 || threshold > 1 {
		return nil, dErrors.New(dErrors.CodeInvalidConfiguration, "similarity threshold must be within [0,1]")
	}
	c := &PrecedentClusterer{
		embedder:  embedder,
		density:   DBSCAN{},
		threshold: threshold,
		text:      func(p models.RawPrecedent) string { return p.CanonicalText(nil) },
		workers:   defaultWorkers,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Cluster groups precedents into clusters of at least minK members. Points the
// density pass labels as noise are pooled into one extra group when there are
// at least minK of them; otherwise they are dropped with undersized clusters.
func (c *PrecedentClusterer) Cluster(ctx context.Context, precedents []models.RawPrecedent, minK int) (*Result, error) {
	if minK < 1 {
		return nil, dErrors.New(dErrors.CodeInvalidConfiguration, "min_k must be at least 1")
	}
	if len(precedents) < minK {
		return nil, dErrors.Newf(dErrors.CodeInvalidConfiguration,
			"need at least %d precedents to cluster, got %d", minK, len(precedents))
	}

	vectors, err := c.embedAll(ctx, precedents)
	if err != nil {
		return nil, err
	}

	labels, err := c.density.Fit(vectors, 1-c.threshold, minK)
	if err != nil {
		return nil, err
	}
	if len(labels) != len(precedents) {
		return nil, dErrors.Newf(dErrors.CodeInternal, "clusterer returned %d labels for %d precedents", len(labels), len(precedents))
	}

	byLabel := make(map[int][]models.RawPrecedent)
	order := make([]int, 0)
	var noise []models.RawPrecedent
	for i, label := range labels {
		if label == Noise {
			noise = append(noise, precedents[i])
			continue
		}
		if _, seen := byLabel[label]; !seen {
			order = append(order, label)
		}
		byLabel[label] = append(byLabel[label], precedents[i])
	}

	result := &Result{}
	for _, label := range order {
		members := byLabel[label]
		if len(members) < minK {
			result.Discarded += len(members)
			c.logger.DebugContext(ctx, "cluster below min_k discarded",
				"label", label,
				"size", len(members),
				"min_k", minK,
			)
			continue
		}
		result.Groups = append(result.Groups, Group{Label: label, Kind: models.ClusterKindSimilarity, Members: members})
	}

	switch {
	case len(noise) >= minK:
		result.NoisePooled = len(noise)
		result.Groups = append(result.Groups, Group{Label: Noise, Kind: models.ClusterKindNoisePool, Members: noise})
		c.logger.WarnContext(ctx, "noise points pooled into one bundle; members are not guaranteed similar",
			"size", len(noise),
			"min_k", minK,
		)
	case len(noise) > 0:
		result.Discarded += len(noise)
	}

	return result, nil
}

func (c *PrecedentClusterer) embedAll(ctx context.Context, precedents []models.RawPrecedent) ([][]float64, error) {
	vectors := make([][]float64, len(precedents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, p := range precedents {
		g.Go(func() error {
			v, err := c.embedder.Embed(gctx, c.text(p))
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to embed precedent")
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
