package redis

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/folio/pkg/config"
)

func disabledClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(context.Background(), &config.Config{
		Redis: config.RedisConfig{Enabled: false},
	})
	require.NoError(t, err)
	return client
}

func TestNewClient_Disabled(t *testing.T) {
	client := disabledClient(t)

	assert.False(t, client.Enabled())
	assert.NoError(t, client.Close())
}

func TestRateLimiter_Disabled(t *testing.T) {
	limiter := NewRateLimiter(disabledClient(t), "test")
	cfg := EngineRateLimit(5)

	allowed, remaining, err := limiter.Allow(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 5, remaining)

	assert.NoError(t, limiter.Wait(context.Background(), cfg))
}

func TestWindowMember_UniqueWithinMillisecond(t *testing.T) {
	now := time.Now().UnixMilli()
	a, b := windowMember(now), windowMember(now)

	assert.NotEqual(t, a, b)
	prefix := strconv.FormatInt(now, 10) + "-"
	assert.True(t, strings.HasPrefix(a, prefix))
	assert.True(t, strings.HasPrefix(b, prefix))
}

// Runs against a live Redis when REDIS_HOST is set
func TestRateLimiter_BurstCountsEveryCall(t *testing.T) {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		t.Skip("REDIS_HOST not set")
	}
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}

	ctx := context.Background()
	client, err := New(ctx, &config.Config{
		Redis: config.RedisConfig{Host: host, Port: port, Enabled: true},
	})
	require.NoError(t, err)
	defer client.Close()

	limiter := NewRateLimiter(client, "test-"+uuid.NewString())
	cfg := RateLimitConfig{Key: "burst", Limit: 5, Window: time.Minute}

	allowed := 0
	for i := 0; i < 20; i++ {
		ok, _, err := limiter.Allow(ctx, cfg)
		require.NoError(t, err)
		if ok {
			allowed++
		}
	}
	assert.Equal(t, cfg.Limit, allowed)
}

func TestCache_Disabled(t *testing.T) {
	cache := NewCache(disabledClient(t), "test")
	ctx := context.Background()

	assert.False(t, cache.Enabled())
	require.NoError(t, cache.Set(ctx, "key", []string{"AAPL"}, time.Minute))

	var result []string
	found, err := cache.Get(ctx, "key", &result)
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, cache.Delete(ctx, "key"))
}

func TestStagingKey(t *testing.T) {
	tests := []struct {
		name        string
		portfolioID string
		expected    string
	}{
		{"new portfolio", "", "staging:s1:new"},
		{"edit portfolio", "p-9", "staging:s1:edit:p-9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode := "new"
			if tt.portfolioID != "" {
				mode = "edit"
			}
			assert.Equal(t, tt.expected, StagingKey("s1", mode, tt.portfolioID))
		})
	}
}
