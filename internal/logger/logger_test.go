package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(buf *bytes.Buffer) *StructuredLogger {
	return &StructuredLogger{
		logger: &logrus.Logger{
			Out:       buf,
			Formatter: &logrus.JSONFormatter{},
			Level:     logrus.DebugLevel,
		},
		fields: make(logrus.Fields),
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		format   string
		expected logrus.Level
	}{
		{
			name:     "Debug level JSON format",
			level:    "debug",
			format:   "json",
			expected: logrus.DebugLevel,
		},
		{
			name:     "Info level text format",
			level:    "info",
			format:   "text",
			expected: logrus.InfoLevel,
		},
		{
			name:     "Invalid level defaults to info",
			level:    "invalid",
			format:   "json",
			expected: logrus.InfoLevel,
		},
		{
			name:     "Warn level",
			level:    "warn",
			format:   "json",
			expected: logrus.WarnLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.level, tt.format)
			structLogger, ok := logger.(*StructuredLogger)
			require.True(t, ok)
			assert.Equal(t, tt.expected, structLogger.logger.GetLevel())
		})
	}
}

func TestStructuredLogger_LogLevels(t *testing.T) {
	var buf bytes.Buffer
	structLogger := newBufferLogger(&buf)

	tests := []struct {
		name     string
		logFunc  func()
		expected string
	}{
		{
			name: "Debug log",
			logFunc: func() {
				structLogger.Debug("Debug message", map[string]interface{}{"key": "value"})
			},
			expected: "debug",
		},
		{
			name: "Info log",
			logFunc: func() {
				structLogger.Info("Info message", map[string]interface{}{"key": "value"})
			},
			expected: "info",
		},
		{
			name: "Warn log",
			logFunc: func() {
				structLogger.Warn("Warn message", map[string]interface{}{"key": "value"})
			},
			expected: "warning",
		},
		{
			name: "Error log",
			logFunc: func() {
				structLogger.Error("Error message", errors.New("test error"), map[string]interface{}{"key": "value"})
			},
			expected: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.logFunc()

			output := buf.String()
			assert.Contains(t, output, tt.expected)
			assert.Contains(t, output, "component")
			assert.Contains(t, output, "realtime")
		})
	}
}

func TestStructuredLogger_ErrorDoesNotMutateFields(t *testing.T) {
	var buf bytes.Buffer
	structLogger := newBufferLogger(&buf)

	fields := map[string]interface{}{"workspace_id": "w1"}
	structLogger.Error("relay failed", errors.New("boom"), fields)

	assert.NotContains(t, fields, "error")
	assert.Contains(t, buf.String(), "boom")
}

func TestStructuredLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	structLogger := newBufferLogger(&buf)

	ctx := ContextWithRequestInfo(context.Background(), "req-123", "192.168.1.1", "user-42")
	ctx = ContextWithConnection(ctx, "conn-9")

	structLogger.WithContext(ctx).Info("Test message with context", nil)

	output := buf.String()
	assert.Contains(t, output, "req-123")
	assert.Contains(t, output, "192.168.1.1")
	assert.Contains(t, output, "user-42")
	assert.Contains(t, output, "conn-9")
}

func TestStructuredLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	structLogger := newBufferLogger(&buf)

	child := structLogger.WithFields(map[string]interface{}{"room": "workspace:7"})
	child.Info("broadcast", map[string]interface{}{"delivered": 2})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, "workspace:7", entry["room"])
	assert.Equal(t, float64(2), entry["delivered"])

	// o logger original não herda os campos do filho
	buf.Reset()
	structLogger.Info("parent", nil)
	assert.NotContains(t, buf.String(), "workspace:7")
}

func TestContextWithRequestInfo(t *testing.T) {
	ctx := ContextWithRequestInfo(context.Background(), "req-456", "10.0.0.1", "")

	assert.Equal(t, "req-456", ctx.Value(RequestIDKey))
	assert.Equal(t, "10.0.0.1", ctx.Value(IPKey))
	assert.Nil(t, ctx.Value(UserIDKey))
}

func TestGetRequestID(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		expected string
	}{
		{
			name:     "Nil context",
			ctx:      nil,
			expected: "",
		},
		{
			name:     "Context without request ID",
			ctx:      context.Background(),
			expected: "",
		},
		{
			name:     "Context with request ID",
			ctx:      context.WithValue(context.Background(), RequestIDKey, "req-789"),
			expected: "req-789",
		},
		{
			name:     "Context with invalid request ID type",
			ctx:      context.WithValue(context.Background(), RequestIDKey, 123),
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetRequestID(tt.ctx))
		})
	}
}

func TestStructuredLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput("info", "json", &buf)

	logger.Info("Test JSON format", map[string]interface{}{
		"test_field": "test_value",
		"number":     123,
	})

	var logEntry map[string]interface{}
	err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &logEntry)
	require.NoError(t, err)

	assert.Contains(t, logEntry, "message")
	assert.Contains(t, logEntry, "level")
	assert.Contains(t, logEntry, "timestamp")
	assert.Equal(t, "realtime", logEntry["component"])
	assert.Equal(t, "test_value", logEntry["test_field"])
	assert.Equal(t, float64(123), logEntry["number"])
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		l := Nop()
		l.Info("ignored", nil)
		l.Error("ignored", errors.New("x"), nil)
	})
}
