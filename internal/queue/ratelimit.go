package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/dispatch/internal/common"
	"github.com/ternarybob/dispatch/internal/interfaces"
)

// tokenBucketScript is executed atomically on the Redis server. It
// reads the server wall-clock, refills the bucket by elapsed time,
// and either consumes a token (ALLOW) or leaves the bucket untouched
// (DENY). Concurrent callers serialize at the server.
const tokenBucketScript = `
local max_tokens = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local key_expiry = tonumber(ARGV[3])

local time = redis.call('TIME')
local now = tonumber(time[1])

local bucket = redis.call('HMGET', KEYS[1], 'tokens', 'last_request')
if not bucket[1] then
	redis.call('HMSET', KEYS[1], 'tokens', max_tokens - 1, 'last_request', now)
	redis.call('EXPIRE', KEYS[1], key_expiry)
	return 1
end

local tokens = tonumber(bucket[1])
local last_request = tonumber(bucket[2])
local elapsed = now - last_request
local new_tokens = math.min(max_tokens, tokens + elapsed * refill_rate)

if new_tokens > 0 then
	redis.call('HMSET', KEYS[1], 'tokens', new_tokens - 1, 'last_request', now)
	redis.call('EXPIRE', KEYS[1], key_expiry)
	return 1
end

return 0
`

// RateLimiter is the advisory token-bucket check backed by the shared
// Redis instance. DENY means retry after a short delay, never a fatal
// error.
type RateLimiter struct {
	client     *redis.Client
	script     *redis.Script
	logger     arbor.ILogger
	maxTokens  int
	refillRate float64
	keyExpiry  int
}

// NewRateLimiter builds a limiter parameterized by the config
func NewRateLimiter(client *redis.Client, logger arbor.ILogger, config *common.RateLimitConfig) interfaces.RateLimiter {
	return &RateLimiter{
		client:     client,
		script:     redis.NewScript(tokenBucketScript),
		logger:     logger,
		maxTokens:  config.MaxTokens,
		refillRate: config.RefillRate,
		keyExpiry:  config.KeyExpiry,
	}
}

// Allow consumes one token from the named bucket. Returns true on
// ALLOW, false on DENY.
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	result, err := r.script.Run(ctx, r.client, []string{key}, r.maxTokens, r.refillRate, r.keyExpiry).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed for %s: %w", key, err)
	}

	allowed := result == 1
	if !allowed {
		r.logger.Debug().Str("bucket", key).Msg("Rate limit denied")
	}
	return allowed, nil
}
