package bundle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	precedent "accord/internal/precedent/models"
	id "accord/pkg/domain"
	"accord/pkg/platform/sentinel"
)

// PostgresStore persists bundles in the precedent_bundles table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed bundle store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const bundleColumns = `bundle_id, source_node, k_value, precedent_count, created_at,
	verdict_distribution, avg_confidence, confidence_min, confidence_max,
	common_themes, context_patterns, time_period, privacy_guarantee,
	suppressed_fields, consent_given, cluster_kind, merged, merged_at`

const insertBundle = `INSERT INTO precedent_bundles (` + bundleColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

func (s *PostgresStore) SaveNew(ctx context.Context, b precedent.AnonymousBundle) (bool, error) {
	args, err := bundleArgs(b)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, insertBundle+` ON CONFLICT (bundle_id) DO NOTHING`, args...)
	if err != nil {
		return false, fmt.Errorf("insert bundle: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert bundle: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, b precedent.AnonymousBundle) error {
	args, err := bundleArgs(b)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, insertBundle+`
		ON CONFLICT (bundle_id) DO UPDATE SET
			source_node = EXCLUDED.source_node,
			k_value = EXCLUDED.k_value,
			precedent_count = EXCLUDED.precedent_count,
			created_at = EXCLUDED.created_at,
			verdict_distribution = EXCLUDED.verdict_distribution,
			avg_confidence = EXCLUDED.avg_confidence,
			confidence_min = EXCLUDED.confidence_min,
			confidence_max = EXCLUDED.confidence_max,
			common_themes = EXCLUDED.common_themes,
			context_patterns = EXCLUDED.context_patterns,
			time_period = EXCLUDED.time_period,
			privacy_guarantee = EXCLUDED.privacy_guarantee,
			suppressed_fields = EXCLUDED.suppressed_fields,
			consent_given = EXCLUDED.consent_given,
			cluster_kind = EXCLUDED.cluster_kind,
			merged = EXCLUDED.merged,
			merged_at = EXCLUDED.merged_at,
			stored_at = NOW()`, args...)
	if err != nil {
		return fmt.Errorf("upsert bundle: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, bundleID id.BundleID) (*precedent.AnonymousBundle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bundleColumns+` FROM precedent_bundles WHERE bundle_id = $1`, string(bundleID))
	b, err := scanBundle(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find bundle by id: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]precedent.AnonymousBundle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+bundleColumns+` FROM precedent_bundles ORDER BY bundle_id`)
	if err != nil {
		return nil, fmt.Errorf("list bundles: %w", err)
	}
	defer rows.Close()

	var out []precedent.AnonymousBundle
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bundle: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bundles: %w", err)
	}
	return out, nil
}

func bundleArgs(b precedent.AnonymousBundle) ([]any, error) {
	verdicts, err := json.Marshal(b.VerdictDistribution)
	if err != nil {
		return nil, fmt.Errorf("marshal verdict distribution: %w", err)
	}
	patterns, err := json.Marshal(b.ContextPatterns)
	if err != nil {
		return nil, fmt.Errorf("marshal context patterns: %w", err)
	}
	var mergedAt sql.NullTime
	if b.MergedAt != nil {
		mergedAt = sql.NullTime{Time: b.MergedAt.UTC(), Valid: true}
	}
	return []any{
		string(b.BundleID),
		string(b.SourceNode),
		b.KValue,
		b.PrecedentCount,
		b.CreatedAt.UTC(),
		verdicts,
		b.AvgConfidence,
		b.ConfidenceRange.Min,
		b.ConfidenceRange.Max,
		pq.Array(nonNil(b.CommonThemes)),
		patterns,
		b.TimePeriod,
		b.PrivacyGuarantee,
		pq.Array(nonNil(b.SuppressedFields)),
		b.ConsentGiven,
		string(b.ClusterKind),
		b.Merged,
		mergedAt,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBundle(row rowScanner) (*precedent.AnonymousBundle, error) {
	var (
		b        precedent.AnonymousBundle
		bundleID string
		source   string
		kind     string
		verdicts []byte
		patterns []byte
		themes   []string
		fields   []string
		mergedAt sql.NullTime
	)
	err := row.Scan(
		&bundleID,
		&source,
		&b.KValue,
		&b.PrecedentCount,
		&b.CreatedAt,
		&verdicts,
		&b.AvgConfidence,
		&b.ConfidenceRange.Min,
		&b.ConfidenceRange.Max,
		pq.Array(&themes),
		&patterns,
		&b.TimePeriod,
		&b.PrivacyGuarantee,
		pq.Array(&fields),
		&b.ConsentGiven,
		&kind,
		&b.Merged,
		&mergedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(verdicts, &b.VerdictDistribution); err != nil {
		return nil, fmt.Errorf("unmarshal verdict distribution: %w", err)
	}
	if err := json.Unmarshal(patterns, &b.ContextPatterns); err != nil {
		return nil, fmt.Errorf("unmarshal context patterns: %w", err)
	}
	b.BundleID = id.BundleID(bundleID)
	b.SourceNode = id.NodeID(source)
	b.ClusterKind = precedent.ClusterKind(kind)
	b.CreatedAt = b.CreatedAt.UTC()
	b.CommonThemes = themes
	b.SuppressedFields = fields
	if mergedAt.Valid {
		t := mergedAt.Time.UTC()
		b.MergedAt = &t
	}
	return &b, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
