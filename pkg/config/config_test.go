package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Redis.Host)
	assert.Equal(t, 60, cfg.Resilience.RateLimitPerMinute)
	assert.Equal(t, 30*time.Second, cfg.Resilience.RateLimitQueueTimeout)
	assert.Equal(t, 5, cfg.Resilience.CircuitBreakerThreshold)
	assert.Equal(t, 30*time.Second, cfg.Resilience.CircuitOpenDuration)
	assert.Equal(t, 3, cfg.Resilience.RetryMaxAttempts)
	assert.Equal(t, "exponential", cfg.Resilience.RetryBackoffStrategy)
	assert.Equal(t, time.Second, cfg.Resilience.RetryInitialDelay)
	assert.Equal(t, 10*time.Second, cfg.Resilience.RetryMaxDelay)
	assert.True(t, cfg.Resilience.RetryJitter)
	assert.Equal(t, []string{"chat", "risk", "recommendation"}, cfg.Agents.Enabled)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "120")
	t.Setenv("RATE_LIMIT_QUEUE_TIMEOUT_MS", "5000")
	t.Setenv("RETRY_BACKOFF_STRATEGY", "linear")
	t.Setenv("RETRY_JITTER", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 120, cfg.Resilience.RateLimitPerMinute)
	assert.Equal(t, 5*time.Second, cfg.Resilience.RateLimitQueueTimeout)
	assert.Equal(t, "linear", cfg.Resilience.RetryBackoffStrategy)
	assert.False(t, cfg.Resilience.RetryJitter)
}

func TestValidate(t *testing.T) {
	valid := ResilienceConfig{
		RateLimitPerMinute:      60,
		CircuitBreakerThreshold: 5,
		RetryMaxAttempts:        3,
		RetryBackoffStrategy:    "exponential",
		RetryInitialDelay:       time.Second,
		RetryMaxDelay:           10 * time.Second,
	}

	cfg := &Config{Resilience: valid}
	assert.NoError(t, cfg.Validate())

	broken := valid
	broken.RateLimitPerMinute = 0
	assert.Error(t, (&Config{Resilience: broken}).Validate())

	broken = valid
	broken.CircuitBreakerThreshold = -1
	assert.Error(t, (&Config{Resilience: broken}).Validate())

	broken = valid
	broken.RetryBackoffStrategy = "fibonacci"
	assert.Error(t, (&Config{Resilience: broken}).Validate())

	broken = valid
	broken.RetryInitialDelay = time.Minute
	assert.Error(t, (&Config{Resilience: broken}).Validate())
}

func TestRedisAddr(t *testing.T) {
	cfg := &Config{Redis: RedisConfig{Host: "redis.internal", Port: 6380}}
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr())
}
