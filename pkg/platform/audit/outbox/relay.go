// Package outbox relays audit events from the audit_outbox table to Kafka.
//
// Rows are claimed with FOR UPDATE SKIP LOCKED so several relays can share one
// database. A row is marked processed only after the broker acknowledged it;
// delivery is at-least-once and consumers dedupe on the event id header.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer is the subset of *kgo.Client used by the relay.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Relay moves unprocessed outbox rows to a topic.
type Relay struct {
	db        *sql.DB
	producer  Producer
	topic     string
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func New(db *sql.DB, producer Producer, topic string, opts ...Option) *Relay {
	r := &Relay{
		db:        db,
		producer:  producer,
		topic:     topic,
		batchSize: 100,
		interval:  2 * time.Second,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays batches until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		for {
			n, err := r.RelayOnce(ctx)
			if err != nil {
				r.logger.WarnContext(ctx, "audit relay failed", "error", err)
				break
			}
			if n < r.batchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type row struct {
	id          string
	aggregateID string
	eventType   string
	payload     []byte
}

// RelayOnce publishes one batch and returns how many rows it relayed.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin relay tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := claim(ctx, tx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	records := make([]*kgo.Record, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, &kgo.Record{
			Topic: r.topic,
			Key:   []byte(row.aggregateID),
			Value: row.payload,
			Headers: []kgo.RecordHeader{
				{Key: "event_id", Value: []byte(row.id)},
				{Key: "event_type", Value: []byte(row.eventType)},
			},
		})
		ids = append(ids, row.id)
	}
	if err := r.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return 0, fmt.Errorf("produce audit records: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE audit_outbox SET processed_at = $1 WHERE id = ANY($2::uuid[])`,
		r.now(), pq.Array(ids),
	); err != nil {
		return 0, fmt.Errorf("mark outbox processed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit relay tx: %w", err)
	}
	r.logger.DebugContext(ctx, "audit events relayed", "count", len(rows), "topic", r.topic)
	return len(rows), nil
}

func claim(ctx context.Context, tx *sql.Tx, limit int) ([]row, error) {
	q, err := tx.QueryContext(ctx, `
		SELECT id::text, aggregate_id, event_type, payload
		FROM audit_outbox
		WHERE processed_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox rows: %w", err)
	}
	defer q.Close()

	var out []row
	for q.Next() {
		var rw row
		if err := q.Scan(&rw.id, &rw.aggregateID, &rw.eventType, &rw.payload); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		out = append(out, rw)
	}
	if err := q.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return out, nil
}

// Pending counts rows not yet relayed.
func Pending(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_outbox WHERE processed_at IS NULL`,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending outbox rows: %w", err)
	}
	return n, nil
}
