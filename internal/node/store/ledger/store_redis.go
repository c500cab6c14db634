package ledger

import (
	"context"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"

	id "accord/pkg/domain"
)

// RedisLedger keeps one node's synced bundle IDs in a Redis set, so several
// processes serving the same node share idempotent admission state.
type RedisLedger struct {
	client *redis.Client
	key    string
}

// NewRedisLedger stores the set under "<prefix>:synced:<node>".
func NewRedisLedger(client *redis.Client, prefix string, node id.NodeID) *RedisLedger {
	return &RedisLedger{
		client: client,
		key:    fmt.Sprintf("%s:synced:%s", prefix, node),
	}
}

// Add uses a single SADD so a batch is recorded atomically.
func (l *RedisLedger) Add(ctx context.Context, ids ...id.BundleID) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	for i, bid := range ids {
		members[i] = string(bid)
	}
	if err := l.client.SAdd(ctx, l.key, members...).Err(); err != nil {
		return fmt.Errorf("add synced ids: %w", err)
	}
	return nil
}

// Members returns the IDs in sorted order.
func (l *RedisLedger) Members(ctx context.Context) ([]id.BundleID, error) {
	raw, err := l.client.SMembers(ctx, l.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read synced ids: %w", err)
	}
	out := make([]id.BundleID, len(raw))
	for i, m := range raw {
		out[i] = id.BundleID(m)
	}
	slices.Sort(out)
	return out, nil
}
