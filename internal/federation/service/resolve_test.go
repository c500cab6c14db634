package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accord/internal/federation/models"
	precedent "accord/internal/precedent/models"
	dErrors "accord/pkg/domain-errors"
)

func conflictFixture() models.PrecedentConflict {
	local := bundle("B1", 5, 2, 0.81)
	local.CommonThemes = []string{"refund", "delivery"}
	local.ConfidenceRange = precedent.ConfidenceRange{Min: 0.7, Max: 0.9}

	remote := bundle("B1", 4, 0, 0.71)
	remote.VerdictDistribution = map[precedent.Verdict]int{"ALLOW": 3, "ESCALATE": 1}
	remote.KValue = 4
	remote.SourceNode = "node-b"
	remote.CommonThemes = []string{"delivery", "courier"}
	remote.ConfidenceRange = precedent.ConfidenceRange{Min: 0.5, Max: 0.85}
	remote.ContextPatterns = map[string]precedent.ContextPattern{
		"amount": {Presence: 0.5, ValueTypes: []string{"string"}},
		"region": {Presence: 1, ValueTypes: []string{"string"}},
	}

	return models.PrecedentConflict{
		BundleID:           "B1",
		LocalVersion:       local,
		RemoteVersion:      remote,
		ConflictReason:     "precedent_count differs",
		ResolutionStrategy: models.KeepLocal,
	}
}

func newResolver(t *testing.T) *Protocol {
	t.Helper()
	p, err := New("node-a", 5, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return p
}

func TestResolveConflict(t *testing.T) {
	ctx := context.Background()
	p := newResolver(t)

	t.Run("keep_local returns the local snapshot unchanged", func(t *testing.T) {
		c := conflictFixture()
		got, err := p.ResolveConflict(ctx, c, models.KeepLocal)
		require.NoError(t, err)
		assert.Equal(t, c.LocalVersion, got)
	})

	t.Run("keep_remote returns the remote snapshot unchanged", func(t *testing.T) {
		c := conflictFixture()
		got, err := p.ResolveConflict(ctx, c, models.KeepRemote)
		require.NoError(t, err)
		assert.Equal(t, c.RemoteVersion, got)
	})

	t.Run("merge combines both versions", func(t *testing.T) {
		c := conflictFixture()
		got, err := p.ResolveConflict(ctx, c, models.Merge)
		require.NoError(t, err)

		assert.Equal(t, map[precedent.Verdict]int{"ALLOW": 8, "DENY": 2, "ESCALATE": 1}, got.VerdictDistribution)
		assert.Equal(t, 11, got.PrecedentCount)
		assert.Equal(t, got.PrecedentCount, got.VerdictTotal())
		assert.InDelta(t, 0.76, got.AvgConfidence, 1e-9)
		assert.Equal(t, []string{"refund", "delivery", "courier"}, got.CommonThemes)
		assert.Equal(t, precedent.ConfidenceRange{Min: 0.5, Max: 0.9}, got.ConfidenceRange)
		assert.Equal(t, 4, got.KValue)
		assert.True(t, got.Merged)
		require.NotNil(t, got.MergedAt)
		assert.Equal(t, fixedNow, *got.MergedAt)
		assert.Equal(t, c.LocalVersion.BundleID, got.BundleID)
		assert.EqualValues(t, "node-a", got.SourceNode)

		amount := got.ContextPatterns["amount"]
		assert.InDelta(t, (1.0*7+0.5*4)/11, amount.Presence, 1e-9)
		assert.Equal(t, []string{"number", "string"}, amount.ValueTypes)
		assert.InDelta(t, 4.0/11, got.ContextPatterns["region"].Presence, 1e-9)
	})

	t.Run("merge leaves the snapshots untouched", func(t *testing.T) {
		c := conflictFixture()
		_, err := p.ResolveConflict(ctx, c, models.Merge)
		require.NoError(t, err)
		assert.Equal(t, conflictFixture(), c)
	})

	t.Run("unknown strategy", func(t *testing.T) {
		_, err := p.ResolveConflict(ctx, conflictFixture(), models.ResolutionStrategy("newest"))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestMergeBundlesVerdictUnion(t *testing.T) {
	local := bundle("X", 3, 0, 0.8)
	local.VerdictDistribution = map[precedent.Verdict]int{"ALLOW": 3}
	remote := bundle("X", 0, 2, 0.6)
	remote.VerdictDistribution = map[precedent.Verdict]int{"DENY": 2}

	merged := MergeBundles(local, remote, fixedNow)

	for _, key := range []precedent.Verdict{"ALLOW", "DENY"} {
		assert.Equal(t, local.VerdictDistribution[key]+remote.VerdictDistribution[key], merged.VerdictDistribution[key])
	}
	assert.Equal(t, local.PrecedentCount+remote.PrecedentCount, merged.PrecedentCount)
}
