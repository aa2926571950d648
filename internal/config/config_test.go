package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBookingDefaults(t *testing.T) {
	cfg, err := LoadBooking()
	require.NoError(t, err)
	assert.Equal(t, uint(3), cfg.MaxAttempts)
	assert.Equal(t, 20*time.Millisecond, cfg.BackoffInitial)
	assert.Equal(t, 366, cfg.MaxSpanDays)
	assert.Equal(t, "payment.completed", cfg.PaymentQueue)
	assert.True(t, cfg.PublishEvents)
}

func TestLoadBookingOverrides(t *testing.T) {
	t.Setenv("BOOKING_MAX_ATTEMPTS", "5")
	t.Setenv("BOOKING_BACKOFF_INITIAL", "100ms")
	t.Setenv("BOOKING_BACKOFF_MAX", "1s")
	t.Setenv("AMQP_BOOKING_EVENTS", "false")

	cfg, err := LoadBooking()
	require.NoError(t, err)
	assert.Equal(t, uint(5), cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.BackoffInitial)
	assert.Equal(t, time.Second, cfg.BackoffMax)
	assert.False(t, cfg.PublishEvents)
}

func TestLoadBookingRejects(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"zero attempts", "BOOKING_MAX_ATTEMPTS", "0"},
		{"not a number", "BOOKING_MAX_ATTEMPTS", "many"},
		{"max below initial", "BOOKING_BACKOFF_MAX", "1ms"},
		{"zero span", "SCHEDULE_MAX_SPAN_DAYS", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := LoadBooking()
			assert.Error(t, err)
		})
	}
}

func TestLoadRateLimitClampsTTL(t *testing.T) {
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "10s")
	t.Setenv("RATE_LIMIT_TTL", "1s")
	t.Setenv("RATE_LIMIT_CAPACITY", "0")

	cfg, err := LoadRateLimitConfig()
	require.NoError(t, err)
	assert.Equal(t, 50*time.Second, cfg.TTL)
	assert.Equal(t, 1, cfg.Capacity)
}

func TestLoadCacheMethods(t *testing.T) {
	t.Setenv("CACHE_METHODS", "get, head")
	cfg, err := LoadCacheConfig()
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"GET": true, "HEAD": true}, cfg.Methods)
}

func TestLoadRedisHostPort(t *testing.T) {
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	cfg, err := LoadRedisConfig()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", cfg.Addr)
}
