package service

import (
	"fmt"
	"math"
	"strings"

	"accord/internal/federation/models"
	precedent "accord/internal/precedent/models"
	id "accord/pkg/domain"
)

// confidenceTolerance is the largest avg_confidence gap two versions of one
// bundle may show and still agree.
const confidenceTolerance = 0.01

// detectConflicts compares every offered bundle against the local bundle with
// the same ID. Each bundle ID yields at most one conflict.
func detectConflicts(existing, offered []precedent.AnonymousBundle) []models.PrecedentConflict {
	local := make(map[id.BundleID]precedent.AnonymousBundle, len(existing))
	for _, b := range existing {
		local[b.BundleID] = b
	}

	conflicts := []models.PrecedentConflict{}
	reported := make(map[id.BundleID]struct{})
	for _, remote := range offered {
		l, ok := local[remote.BundleID]
		if !ok {
			continue
		}
		if _, done := reported[remote.BundleID]; done {
			continue
		}
		reason := conflictReason(l, remote)
		if reason == "" {
			continue
		}
		reported[remote.BundleID] = struct{}{}
		conflicts = append(conflicts, models.PrecedentConflict{
			BundleID:           remote.BundleID,
			LocalVersion:       l.Clone(),
			RemoteVersion:      remote.Clone(),
			ConflictReason:     reason,
			ResolutionStrategy: models.DefaultResolutionStrategy,
		})
	}
	return conflicts
}

func conflictReason(local, remote precedent.AnonymousBundle) string {
	var reasons []string
	if local.PrecedentCount != remote.PrecedentCount {
		reasons = append(reasons, fmt.Sprintf("precedent_count differs (local %d, remote %d)", local.PrecedentCount, remote.PrecedentCount))
	}
	if !sameDistribution(local.VerdictDistribution, remote.VerdictDistribution) {
		reasons = append(reasons, "verdict_distribution differs")
	}
	if math.Abs(local.AvgConfidence-remote.AvgConfidence) > confidenceTolerance {
		reasons = append(reasons, fmt.Sprintf("avg_confidence differs (local %.3f, remote %.3f)", local.AvgConfidence, remote.AvgConfidence))
	}
	return strings.Join(reasons, "; ")
}

// sameDistribution treats a missing verdict and a zero count as equal.
func sameDistribution(a, b map[precedent.Verdict]int) bool {
	for v, n := range a {
		if b[v] != n {
			return false
		}
	}
	for v, n := range b {
		if a[v] != n {
			return false
		}
	}
	return true
}
