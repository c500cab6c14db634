package service

import (
	"context"
	"slices"
	"sort"
	"time"

	"accord/internal/federation/models"
	precedent "accord/internal/precedent/models"
	dErrors "accord/pkg/domain-errors"
	platformstrings "accord/pkg/platform/strings"
)

// ResolveConflict settles conflict with strategy. The conflict's snapshots are
// never modified; keep_local and keep_remote return copies of them and merge
// returns a new bundle.
func (p *Protocol) ResolveConflict(ctx context.Context, conflict models.PrecedentConflict, strategy models.ResolutionStrategy) (precedent.AnonymousBundle, error) {
	var resolved precedent.AnonymousBundle
	switch strategy {
	case models.KeepLocal:
		resolved = conflict.LocalVersion.Clone()
	case models.KeepRemote:
		resolved = conflict.RemoteVersion.Clone()
	case models.Merge:
		resolved = MergeBundles(conflict.LocalVersion, conflict.RemoteVersion, p.now().UTC())
	default:
		return precedent.AnonymousBundle{}, dErrors.Newf(dErrors.CodeInvalidInput, "unknown resolution strategy %q", strategy)
	}

	p.metrics.IncrementResolved(string(strategy))
	p.logger.InfoContext(ctx, "conflict resolved",
		"bundle_id", conflict.BundleID,
		"strategy", strategy,
		"precedent_count", resolved.PrecedentCount,
	)
	return resolved, nil
}

// MergeBundles combines two versions of one bundle. The result keeps local's
// identity (ID, time period, source node, creation time) and is marked merged.
//
// Counts are summed, avg_confidence is the mean of both averages, the
// confidence range is the union of both ranges and k_value is the smaller of
// the two. Context pattern presence is weighted by each side's precedent count.
func MergeBundles(local, remote precedent.AnonymousBundle, at time.Time) precedent.AnonymousBundle {
	verdicts := make(map[precedent.Verdict]int, len(local.VerdictDistribution)+len(remote.VerdictDistribution))
	for v, n := range local.VerdictDistribution {
		verdicts[v] += n
	}
	for v, n := range remote.VerdictDistribution {
		verdicts[v] += n
	}

	suppressed := platformstrings.Union(local.SuppressedFields, remote.SuppressedFields)
	sort.Strings(suppressed)

	kind := precedent.ClusterKindSimilarity
	if local.ClusterKind == precedent.ClusterKindNoisePool || remote.ClusterKind == precedent.ClusterKindNoisePool {
		kind = precedent.ClusterKindNoisePool
	}

	mergedAt := at
	return precedent.AnonymousBundle{
		BundleID:            local.BundleID,
		KValue:              min(local.KValue, remote.KValue),
		PrecedentCount:      local.PrecedentCount + remote.PrecedentCount,
		CreatedAt:           local.CreatedAt,
		VerdictDistribution: verdicts,
		AvgConfidence:       (local.AvgConfidence + remote.AvgConfidence) / 2,
		ConfidenceRange: precedent.ConfidenceRange{
			Min: min(local.ConfidenceRange.Min, remote.ConfidenceRange.Min),
			Max: max(local.ConfidenceRange.Max, remote.ConfidenceRange.Max),
		},
		CommonThemes:     platformstrings.Union(local.CommonThemes, remote.CommonThemes),
		ContextPatterns:  mergePatterns(local, remote),
		TimePeriod:       local.TimePeriod,
		PrivacyGuarantee: precedent.PrivacyGuaranteeKAnonymity,
		SuppressedFields: suppressed,
		SourceNode:       local.SourceNode,
		ConsentGiven:     local.ConsentGiven && remote.ConsentGiven,
		ClusterKind:      kind,
		Merged:           true,
		MergedAt:         &mergedAt,
	}
}

func mergePatterns(local, remote precedent.AnonymousBundle) map[string]precedent.ContextPattern {
	lw, rw := float64(local.PrecedentCount), float64(remote.PrecedentCount)
	total := lw + rw
	if total == 0 {
		lw, rw, total = 1, 1, 2
	}

	out := make(map[string]precedent.ContextPattern, len(local.ContextPatterns)+len(remote.ContextPatterns))
	keys := make(map[string]struct{})
	for k := range local.ContextPatterns {
		keys[k] = struct{}{}
	}
	for k := range remote.ContextPatterns {
		keys[k] = struct{}{}
	}
	for k := range keys {
		l, r := local.ContextPatterns[k], remote.ContextPatterns[k]
		types := platformstrings.Union(l.ValueTypes, r.ValueTypes)
		slices.Sort(types)
		out[k] = precedent.ContextPattern{
			Presence:   (l.Presence*lw + r.Presence*rw) / total,
			ValueTypes: types,
		}
	}
	return out
}
