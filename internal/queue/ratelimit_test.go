package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/dispatch/internal/common"
)

func setupLimiter(t *testing.T, config *common.RateLimitConfig) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	mr.SetTime(time.Unix(1_700_000_000, 0))

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limiter := NewRateLimiter(client, common.GetLogger(), config).(*RateLimiter)
	return limiter, mr
}

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	limiter, _ := setupLimiter(t, &common.RateLimitConfig{
		MaxTokens:  10,
		RefillRate: 5,
		KeyExpiry:  60,
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		allowed, err := limiter.Allow(ctx, "ratelimit:sms")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d within the burst must pass", i+1)
	}

	allowed, err := limiter.Allow(ctx, "ratelimit:sms")
	require.NoError(t, err)
	assert.False(t, allowed, "request beyond the burst must be denied")
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	limiter, mr := setupLimiter(t, &common.RateLimitConfig{
		MaxTokens:  10,
		RefillRate: 5,
		KeyExpiry:  60,
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		allowed, err := limiter.Allow(ctx, "ratelimit:email")
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, err := limiter.Allow(ctx, "ratelimit:email")
	require.NoError(t, err)
	require.False(t, allowed)

	// One second at 5 tokens/sec refills five slots
	mr.SetTime(time.Unix(1_700_000_001, 0))

	for i := 0; i < 5; i++ {
		allowed, err := limiter.Allow(ctx, "ratelimit:email")
		require.NoError(t, err)
		assert.True(t, allowed, "refilled token %d must pass", i+1)
	}

	allowed, err = limiter.Allow(ctx, "ratelimit:email")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRateLimiter_BucketsAreIndependent(t *testing.T) {
	limiter, _ := setupLimiter(t, &common.RateLimitConfig{
		MaxTokens:  1,
		RefillRate: 1,
		KeyExpiry:  60,
	})
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "ratelimit:sms")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "ratelimit:sms")
	require.NoError(t, err)
	assert.False(t, allowed, "sms bucket is drained")

	allowed, err = limiter.Allow(ctx, "ratelimit:whatsapp")
	require.NoError(t, err)
	assert.True(t, allowed, "whatsapp bucket is untouched")
}
