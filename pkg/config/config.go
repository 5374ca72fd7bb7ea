package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Redis      RedisConfig      `json:"redis"`
	AI         AIConfig         `json:"ai"`
	Gateway    GatewayConfig    `json:"gateway"`
	Resilience ResilienceConfig `json:"resilience"`
	Agents     AgentsConfig     `json:"agents"`
	Logging    LoggingConfig    `json:"logging"`
	Tracing    TracingConfig    `json:"tracing"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// RedisConfig contains Redis connection configuration for the peer-messaging hub
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// AIConfig contains generative AI service configuration
type AIConfig struct {
	APIKey      string        `json:"api_key"`
	Model       string        `json:"model"`
	MaxTokens   int64         `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
}

// GatewayConfig contains backend data gateway configuration
type GatewayConfig struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
	APIKey  string        `json:"api_key"`
}

// ResilienceConfig contains the per-endpoint resilience settings shared by all
// call envelopes. Durations map to the recognized millisecond options.
type ResilienceConfig struct {
	RateLimitPerMinute      int           `json:"rate_limit_per_minute"`
	RateLimitQueueTimeout   time.Duration `json:"rate_limit_queue_timeout"`
	CircuitBreakerThreshold int           `json:"circuit_breaker_threshold"`
	CircuitOpenDuration     time.Duration `json:"circuit_open_duration"`
	RetryMaxAttempts        int           `json:"retry_max_attempts"`
	RetryBackoffStrategy    string        `json:"retry_backoff_strategy"`
	RetryInitialDelay       time.Duration `json:"retry_initial_delay"`
	RetryMaxDelay           time.Duration `json:"retry_max_delay"`
	RetryJitter             bool          `json:"retry_jitter"`
}

// AgentsConfig contains agent runtime configuration
type AgentsConfig struct {
	Enabled           []string      `json:"enabled"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	MetricsInterval   time.Duration `json:"metrics_interval"`
	RecentErrorsLimit int           `json:"recent_errors_limit"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		AI: AIConfig{
			APIKey:      getEnvString("AI_API_KEY", ""),
			Model:       getEnvString("AI_MODEL", "claude-3-5-sonnet-20241022"),
			MaxTokens:   int64(getEnvInt("AI_MAX_TOKENS", 4096)),
			Temperature: getEnvFloat("AI_TEMPERATURE", 0.7),
			Timeout:     getEnvDuration("AI_TIMEOUT", 60*time.Second),
		},
		Gateway: GatewayConfig{
			BaseURL: getEnvString("GATEWAY_BASE_URL", "http://localhost:9090"),
			Timeout: getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),
			APIKey:  getEnvString("GATEWAY_API_KEY", ""),
		},
		Resilience: ResilienceConfig{
			RateLimitPerMinute:      getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
			RateLimitQueueTimeout:   getEnvMillis("RATE_LIMIT_QUEUE_TIMEOUT_MS", 30000),
			CircuitBreakerThreshold: getEnvInt("CIRCUIT_BREAKER_THRESHOLD", 5),
			CircuitOpenDuration:     getEnvMillis("CIRCUIT_OPEN_DURATION_MS", 30000),
			RetryMaxAttempts:        getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			RetryBackoffStrategy:    getEnvString("RETRY_BACKOFF_STRATEGY", "exponential"),
			RetryInitialDelay:       getEnvMillis("RETRY_INITIAL_DELAY_MS", 1000),
			RetryMaxDelay:           getEnvMillis("RETRY_MAX_DELAY_MS", 10000),
			RetryJitter:             getEnvBool("RETRY_JITTER", true),
		},
		Agents: AgentsConfig{
			Enabled:           []string{"chat", "risk", "recommendation"},
			HeartbeatInterval: getEnvDuration("AGENT_HEARTBEAT_INTERVAL", 15*time.Second),
			MetricsInterval:   getEnvDuration("AGENT_METRICS_INTERVAL", 30*time.Second),
			RecentErrorsLimit: getEnvInt("AGENT_RECENT_ERRORS_LIMIT", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Resilience.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rate limit per minute must be positive")
	}
	if c.Resilience.CircuitBreakerThreshold <= 0 {
		return fmt.Errorf("circuit breaker threshold must be positive")
	}
	if c.Resilience.RetryMaxAttempts <= 0 {
		return fmt.Errorf("retry max attempts must be positive")
	}
	if s := c.Resilience.RetryBackoffStrategy; s != "linear" && s != "exponential" {
		return fmt.Errorf("unknown retry backoff strategy: %s", s)
	}
	if c.Resilience.RetryInitialDelay > c.Resilience.RetryMaxDelay {
		return fmt.Errorf("retry initial delay exceeds max delay")
	}
	return nil
}

// RedisAddr returns the Redis address in host:port form
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvMillis reads an integer millisecond value, matching the *_MS options.
func getEnvMillis(key string, defaultMillis int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMillis)) * time.Millisecond
}
