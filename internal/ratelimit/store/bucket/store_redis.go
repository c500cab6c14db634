package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"accord/internal/ratelimit/models"
)

// slidingWindowScript trims the window, admits the request when there is room
// and returns {allowed, count, oldest_ms}. Scores are unix milliseconds.
var slidingWindowScript = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])
local cost   = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count + cost <= limit then
	for i = 1, cost do
		redis.call('ZADD', key, now, ARGV[4 + i])
	end
	redis.call('PEXPIRE', key, window)
	count = count + cost
	allowed = 1
end

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
	oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// RedisBucketStore implements the sliding window on a Redis sorted set so
// replicas of one node share each peer's budget.
type RedisBucketStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisBucketStore stores buckets under "<prefix>:ratelimit:<key>".
func NewRedisBucketStore(client *redis.Client, prefix string) *RedisBucketStore {
	return &RedisBucketStore{client: client, prefix: prefix, now: time.Now}
}

// Allow checks if a request is allowed and increments the counter.
func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	return s.AllowN(ctx, key, 1, limit, window)
}

// AllowN is Allow for a request that costs more than one slot.
func (s *RedisBucketStore) AllowN(ctx context.Context, key string, cost int, limit int, window time.Duration) (*models.RateLimitResult, error) {
	if cost < 1 {
		cost = 1
	}
	now := s.now()
	args := make([]any, 0, 4+cost)
	args = append(args, now.UnixMilli(), window.Milliseconds(), limit, cost)
	for range cost {
		args = append(args, uuid.NewString())
	}

	res, err := slidingWindowScript.Run(ctx, s.client, []string{s.key(key)}, args...).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	resetAt := time.UnixMilli(res[2]).Add(window)
	result := &models.RateLimitResult{
		Allowed:   res[0] == 1,
		Limit:     limit,
		Remaining: max(limit-int(res[1]), 0),
		ResetAt:   resetAt,
	}
	if !result.Allowed {
		result.Remaining = 0
		result.RetryAfter = models.RetryAfterSeconds(now, resetAt)
	}
	return result, nil
}

// Reset clears the rate limit counter for a key.
func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *RedisBucketStore) key(key string) string {
	return s.prefix + ":ratelimit:" + key
}
