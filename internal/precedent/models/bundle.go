package models

import (
	"fmt"
	"maps"
	"slices"
	"time"

	id "accord/pkg/domain"
)

// PrivacyGuaranteeKAnonymity is the only privacy guarantee bundles carry.
const PrivacyGuaranteeKAnonymity = "k-anonymity"

// ClusterKind tells how a bundle's members were grouped.
type ClusterKind string

const (
	// ClusterKindSimilarity groups precedents that density clustering placed together.
	ClusterKindSimilarity ClusterKind = "similarity"
	// ClusterKindNoisePool groups precedents that matched no cluster. The group
	// reached min_k but its members are not guaranteed to be similar.
	ClusterKindNoisePool ClusterKind = "noise_pool"
)

// ConfidenceRange is the closed interval of member confidences.
type ConfidenceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ContextPattern generalises one input key across a group: how often it was
// present and which value types were seen. Values themselves are never kept.
type ContextPattern struct {
	Presence   float64  `json:"presence"`
	ValueTypes []string `json:"value_types"`
}

// AnonymousBundle is the irreversible, aggregated summary of at least KValue
// precedents. It is the only precedent representation that crosses nodes.
//
// Invariants:
//   - PrecedentCount >= KValue
//   - sum(VerdictDistribution) == PrecedentCount
//   - BundleID is derived from the sorted member decision IDs
//
// Bundles are immutable once built. Merging produces a new bundle.
type AnonymousBundle struct {
	BundleID            id.BundleID               `json:"bundle_id"`
	KValue              int                       `json:"k_value"`
	PrecedentCount      int                       `json:"precedent_count"`
	CreatedAt           time.Time                 `json:"created_at"`
	VerdictDistribution map[Verdict]int           `json:"verdict_distribution"`
	AvgConfidence       float64                   `json:"avg_confidence"`
	ConfidenceRange     ConfidenceRange           `json:"confidence_range"`
	CommonThemes        []string                  `json:"common_themes"`
	ContextPatterns     map[string]ContextPattern `json:"context_patterns"`
	TimePeriod          string                    `json:"time_period"`
	PrivacyGuarantee    string                    `json:"privacy_guarantee"`
	SuppressedFields    []string                  `json:"suppressed_fields"`
	SourceNode          id.NodeID                 `json:"source_node"`
	ConsentGiven        bool                      `json:"consent_given"`
	ClusterKind         ClusterKind               `json:"cluster_kind"`
	Merged              bool                      `json:"merged,omitempty"`
	MergedAt            *time.Time                `json:"merged_at,omitempty"`
}

// VerdictTotal sums the verdict distribution.
func (b AnonymousBundle) VerdictTotal() int {
	total := 0
	for _, n := range b.VerdictDistribution {
		total += n
	}
	return total
}

// Clone returns a deep copy so snapshots never share maps or slices.
func (b AnonymousBundle) Clone() AnonymousBundle {
	out := b
	out.VerdictDistribution = maps.Clone(b.VerdictDistribution)
	out.CommonThemes = slices.Clone(b.CommonThemes)
	out.SuppressedFields = slices.Clone(b.SuppressedFields)
	if b.ContextPatterns != nil {
		out.ContextPatterns = make(map[string]ContextPattern, len(b.ContextPatterns))
		for k, p := range b.ContextPatterns {
			out.ContextPatterns[k] = ContextPattern{Presence: p.Presence, ValueTypes: slices.Clone(p.ValueTypes)}
		}
	}
	if b.MergedAt != nil {
		t := *b.MergedAt
		out.MergedAt = &t
	}
	return out
}

// QuarterOf generalises t to quarter granularity, e.g. "2025-Q4".
func QuarterOf(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
}
