package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grillmaster/grillmaster/internal/config"
)

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{
		Level:  "info",
		Format: "json",
	}

	logger := NewLoggerWithWriter(cfg, &buf)
	logger.Info("test message", slog.String("key", "value"))

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, `"key":"value"`)

	var parsed map[string]any
	err := json.Unmarshal([]byte(output), &parsed)
	require.NoError(t, err)
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{
		Level:  "info",
		Format: "text",
	}

	logger := NewLoggerWithWriter(cfg, &buf)
	logger.Info("test message", slog.String("key", "value"))

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "key=value")
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name        string
		configLevel string
		logLevel    slog.Level
		shouldLog   bool
	}{
		{"trace logs at trace level", "trace", LevelTrace, true},
		{"debug does not log trace", "debug", LevelTrace, false},
		{"debug logs at debug level", "debug", slog.LevelDebug, true},
		{"info does not log debug", "info", slog.LevelDebug, false},
		{"info logs at info level", "info", slog.LevelInfo, true},
		{"warn does not log info", "warn", slog.LevelInfo, false},
		{"warn logs at warn level", "warn", slog.LevelWarn, true},
		{"error does not log warn", "error", slog.LevelWarn, false},
		{"error logs at error level", "error", slog.LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			cfg := config.LoggingConfig{
				Level:  tt.configLevel,
				Format: "json",
			}

			logger := NewLoggerWithWriter(cfg, &buf)
			logger.Log(context.Background(), tt.logLevel, "test")

			if tt.shouldLog {
				assert.NotEmpty(t, buf.String())
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestNewLogger_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{
		Level:  "info",
		Format: "json",
	}

	logger := NewLoggerWithWriter(cfg, &buf)
	logger.Info("loaded config", slog.Any("asr", config.ASRConfig{
		APIURL: "https://dashscope.aliyuncs.com",
		APIKey: "sk-very-secret",
	}))

	output := buf.String()
	assert.NotContains(t, output, "sk-very-secret")
	assert.Contains(t, output, "dashscope.aliyuncs.com")
}

func TestNewLogger_TraceLevelLabel(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{
		Level:  "trace",
		Format: "json",
	}

	logger := NewLoggerWithWriter(cfg, &buf)
	logger.Log(context.Background(), LevelTrace, "chatter")

	assert.Contains(t, buf.String(), `"TRACE"`)
}

func TestWithHelpers(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	logger := NewLoggerWithWriter(cfg, &buf)

	WithComponent(logger, "runner").Info("started")
	assert.Contains(t, buf.String(), `"component":"runner"`)

	buf.Reset()
	WithError(logger, errors.New("boom")).Error("failed")
	assert.Contains(t, buf.String(), `"error":"boom"`)

	buf.Reset()
	WithError(logger, nil).Info("ok")
	assert.NotContains(t, buf.String(), `"error"`)

	buf.Reset()
	WithApp(logger, "grillmaster").Info("up")
	assert.Contains(t, buf.String(), `"app":"grillmaster"`)
}

func TestLoggerContext(t *testing.T) {
	logger := slog.Default().With(slog.String("marker", "x"))
	ctx := ContextWithLogger(context.Background(), logger)

	assert.Equal(t, logger, LoggerFromContext(ctx))
	assert.Equal(t, slog.Default(), LoggerFromContext(context.Background()))
}

func TestRequestIDContext(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
}

func TestTimedOperationWithError(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	logger := NewLoggerWithWriter(cfg, &buf)

	var err error
	done := TimedOperationWithError(context.Background(), logger, "sweep", &err)
	err = errors.New("sweep failed")
	done()

	output := buf.String()
	assert.Contains(t, output, "operation failed")
	assert.Contains(t, output, "sweep failed")
}
