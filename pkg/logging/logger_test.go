package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &Config{
				Level:       "info",
				Format:      "json",
				Output:      "stdout",
				ServiceName: "test-service",
				Version:     "1.0.0",
			},
			wantErr: false,
		},
		{
			name: "invalid log level",
			config: &Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: true,
		},
		{
			name: "invalid format",
			config: &Config{
				Level:  "info",
				Format: "invalid",
				Output: "stdout",
			},
			wantErr: true,
		},
		{
			name:    "nil config uses defaults",
			config:  nil,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, logger)
			}
		})
	}
}

func newBufferedLogger(t *testing.T, level string) (*Logger, *bytes.Buffer) {
	t.Helper()

	logger, err := NewLogger(&Config{
		Level:       level,
		Format:      "json",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "1.0.0",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	return logger, &buf
}

func TestLogger_WithContext(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	ctx = WithRequestID(ctx, "test-request-id")
	ctx = WithAgentID(ctx, "chat-1")

	logger.WithContext(ctx).Info("test message")

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))

	assert.Equal(t, "test-correlation-id", logEntry["correlation_id"])
	assert.Equal(t, "test-request-id", logEntry["request_id"])
	assert.Equal(t, "chat-1", logEntry["agent_id"])
	assert.Equal(t, "test-service", logEntry["service"])
	assert.Equal(t, "1.0.0", logEntry["version"])
	assert.Equal(t, "test message", logEntry["message"])
}

func TestLogger_LogRequest(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	logger.LogRequest(ctx, "POST", "/api/v1/agents/chat/requests", "127.0.0.1", 200, 100*time.Millisecond)

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))

	assert.Equal(t, "POST", logEntry["http_method"])
	assert.Equal(t, "/api/v1/agents/chat/requests", logEntry["http_path"])
	assert.Equal(t, float64(200), logEntry["http_status"])
	assert.Equal(t, "127.0.0.1", logEntry["client_ip"])
	assert.Equal(t, float64(100), logEntry["response_time_ms"])
}

func TestLogger_LogCallEvent(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	logger.LogCallEvent(ctx, "chat.ai", true, 2, 250*time.Millisecond, logrus.Fields{
		"model": "claude-3-5-sonnet",
	})

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))

	assert.Equal(t, "chat.ai", logEntry["endpoint"])
	assert.Equal(t, true, logEntry["success"])
	assert.Equal(t, float64(2), logEntry["attempts"])
	assert.Equal(t, float64(250), logEntry["duration_ms"])
	assert.Equal(t, "claude-3-5-sonnet", logEntry["model"])
	assert.Equal(t, "Outbound call completed", logEntry["message"])
}

func TestLogger_LogCallEventFailureWarns(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	logger.LogCallEvent(context.Background(), "chat.ai", false, 3, time.Second, nil)

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))

	assert.Equal(t, "warning", logEntry["level"])
	assert.Equal(t, "Outbound call failed", logEntry["message"])
}

func TestLogger_LogAgentEvent(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	logger.LogAgentEvent(context.Background(), "initialized", "chat-1", logrus.Fields{
		"subscriptions": 1,
	})

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))

	assert.Equal(t, "initialized", logEntry["event"])
	assert.Equal(t, "chat-1", logEntry["agent_name"])
	assert.Equal(t, float64(1), logEntry["subscriptions"])
}

func TestLogger_LogError(t *testing.T) {
	logger, buf := newBufferedLogger(t, "debug")

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	logger.LogError(ctx, assert.AnError, "test error message", logrus.Fields{
		"component": "test-component",
	})

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))

	assert.Equal(t, "test error message", logEntry["message"])
	assert.Equal(t, assert.AnError.Error(), logEntry["error"])
	assert.Equal(t, "test-component", logEntry["component"])
	assert.Contains(t, logEntry, "stack_trace")
}

func TestCorrelationIDFunctions(t *testing.T) {
	id1 := NewCorrelationID()
	id2 := NewCorrelationID()
	assert.NotEmpty(t, id1)
	assert.NotEmpty(t, id2)
	assert.NotEqual(t, id1, id2)

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	assert.Equal(t, "test-correlation-id", GetCorrelationID(ctx))

	assert.Empty(t, GetCorrelationID(context.Background()))
}

func TestLogger_KeyValueHelpers(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	logger.Info("agent started", "agent_type", "chat", "port", 8080)

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))

	assert.Equal(t, "chat", logEntry["agent_type"])
	assert.Equal(t, float64(8080), logEntry["port"])
	assert.Equal(t, "agent started", logEntry["message"])
}
