package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	fedmetrics "accord/internal/federation/metrics"
	"accord/internal/federation/ports"
	fedservice "accord/internal/federation/service"
	"accord/internal/node"
	"accord/internal/node/store/bundle"
	"accord/internal/node/store/ledger"
	"accord/internal/ops/handler"
	"accord/internal/platform/config"
	"accord/internal/platform/kafka"
	"accord/internal/platform/metrics"
	"accord/internal/platform/postgres"
	redisclient "accord/internal/platform/redis"
	"accord/internal/precedent/bundler"
	rlmetrics "accord/internal/ratelimit/metrics"
	rlmiddleware "accord/internal/ratelimit/middleware"
	"accord/internal/ratelimit/store/bucket"
	"accord/internal/precedent/embedding"
	precmetrics "accord/internal/precedent/metrics"
	id "accord/pkg/domain"
	audit "accord/pkg/platform/audit"
	"accord/pkg/platform/audit/outbox"
	"accord/pkg/platform/audit/publisher"
	"accord/pkg/platform/audit/publishers/compliance"
	"accord/pkg/platform/audit/publishers/ops"
	auditmemory "accord/pkg/platform/audit/store/memory"
	auditpostgres "accord/pkg/platform/audit/store/postgres"
)

// app holds a wired node and the infrastructure behind it.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	node     *node.Service
	audit    *publisher.Publisher
	relay    *outbox.Relay
	limiter  *rlmiddleware.Middleware
	checks   []handler.Check
	closers  []func() error
}

// newApp wires a node from cfg. Postgres, Redis and Kafka are used when
// configured; otherwise state lives in memory for the life of the process.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, registry: metrics.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	nodeID, err := id.ParseNodeID(cfg.NodeID)
	if err != nil {
		return nil, err
	}
	version, err := id.ParseProtocolVersion(cfg.Federation.ProtocolVersion)
	if err != nil {
		return nil, err
	}
	metrics.New(a.registry).SetNodeInfo(nodeID.String(), version.String())

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if db != nil {
		a.closers = append(a.closers, db.Close)
		a.checks = append(a.checks, handler.Check{Name: "postgres", Probe: db.PingContext})
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, err
		}
	}

	rc, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		a.closers = append(a.closers, rc.Close)
		a.checks = append(a.checks, handler.Check{Name: "redis", Probe: rc.Health})
	}

	var (
		bundles     ports.BundleStore    = bundle.NewInMemoryStore()
		synced      ports.SyncedLedger   = ledger.NewInMemoryLedger()
		auditEvents audit.Store          = auditmemory.NewInMemoryStore()
		buckets     rlmiddleware.Limiter = bucket.NewInMemoryBucketStore()
	)
	if db != nil {
		bundles = bundle.NewPostgres(db)
		auditEvents = auditpostgres.New(db)
	}
	if rc != nil {
		synced = ledger.NewRedisLedger(rc.Client, cfg.Redis.KeyPrefix, nodeID)
		buckets = bucket.NewRedisBucketStore(rc.Client, cfg.Redis.KeyPrefix)
	}
	a.limiter = rlmiddleware.New(buckets, cfg.RateLimit.SyncRequests, cfg.RateLimit.Window, logger,
		rlmiddleware.WithMetrics(rlmetrics.New(a.registry)))

	if cfg.RelayEnabled() {
		if err := a.wireRelay(ctx, db); err != nil {
			return nil, err
		}
	}

	a.audit = publisher.New(
		compliance.New(auditEvents,
			compliance.WithLogger(logger),
			compliance.WithMetrics(compliance.NewMetrics(a.registry))),
		ops.New(auditEvents,
			ops.WithLogger(logger),
			ops.WithMetrics(ops.NewMetrics(a.registry))),
	)
	a.closers = append(a.closers, a.audit.Close)

	embedder, err := embedding.NewHashEmbedder(cfg.Embedding.Dimensions)
	if err != nil {
		return nil, err
	}
	b, err := bundler.New(nodeID, cfg.Privacy, embedder,
		bundler.WithLogger(logger),
		bundler.WithMetrics(precmetrics.New(a.registry)),
		bundler.WithWorkers(cfg.Embedding.Workers),
	)
	if err != nil {
		return nil, err
	}
	p, err := fedservice.New(nodeID, cfg.Privacy.MinK,
		fedservice.WithLogger(logger),
		fedservice.WithMetrics(fedmetrics.New(a.registry)),
		fedservice.WithProtocolVersion(version),
		fedservice.WithHistoryCapacity(cfg.Federation.HistoryCapacity),
	)
	if err != nil {
		return nil, err
	}

	a.node, err = node.New(b, p, bundles, synced,
		node.WithAuditPublisher(a.audit),
		node.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	if err := a.node.Start(ctx); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "node wired",
		"node_id", nodeID,
		"protocol_version", version,
		"postgres", db != nil,
		"redis", rc != nil,
		"audit_relay", a.relay != nil,
		"sync_rate_limit", cfg.RateLimit.SyncRequests,
	)
	return a, nil
}

func (a *app) wireRelay(ctx context.Context, db *sql.DB) error {
	cl, err := kafka.NewClient(a.cfg.Kafka)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { cl.Close(); return nil })
	if err := kafka.EnsureTopic(ctx, cl, a.cfg.Kafka); err != nil {
		return err
	}
	a.checks = append(a.checks, handler.Check{
		Name:  "kafka",
		Probe: func(ctx context.Context) error { return kafka.Health(ctx, cl) },
	})
	a.relay = outbox.New(db, cl, a.cfg.Kafka.AuditTopic,
		outbox.WithLogger(a.logger),
		outbox.WithBatchSize(a.cfg.Kafka.RelayBatchSize),
		outbox.WithInterval(a.cfg.Kafka.RelayInterval),
	)
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
