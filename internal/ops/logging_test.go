package ops

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/sandwichfarm/zapline/internal/config"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *config.Logging
	}{
		{
			name: "text format",
			config: &config.Logging{
				Level:  "info",
				Format: "text",
			},
		},
		{
			name: "json format",
			config: &config.Logging{
				Level:  "debug",
				Format: "json",
			},
		},
		{
			name: "warn level",
			config: &config.Logging{
				Level:  "warn",
				Format: "text",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("expected logger to be created")
			}

			if logger.format != tt.config.Format {
				t.Errorf("expected format %s, got %s", tt.config.Format, logger.format)
			}
		})
	}
}

func TestLoggerWithComponent(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Logging{
		Level:  "info",
		Format: "text",
	}

	logger := NewLoggerWithWriter(cfg, &buf)
	componentLogger := logger.WithComponent("test-component")

	componentLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("expected log output to contain 'test message', got: %s", output)
	}

	if !strings.Contains(output, "component") {
		t.Errorf("expected log output to contain 'component', got: %s", output)
	}
}

func TestIsDebugEnabled(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected bool
	}{
		{"debug level", "debug", true},
		{"info level", "info", false},
		{"warn level", "warn", false},
		{"error level", "error", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(&config.Logging{
				Level:  tt.level,
				Format: "text",
			})

			if logger.IsDebugEnabled() != tt.expected {
				t.Errorf("expected IsDebugEnabled to be %v, got %v", tt.expected, logger.IsDebugEnabled())
			}
		})
	}
}

func TestLoggerHelpers(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Logging{
		Level:  "debug",
		Format: "text",
	}

	logger := NewLoggerWithWriter(cfg, &buf)

	// Test all helper methods don't panic
	logger.LogRelayQuery("wss://relay.test", 100, 10, nil)
	logger.LogRelayQuery("wss://relay.test", 100, 0, errors.New("timeout"))
	logger.LogPublishAttempt("wss://relay.test", "event123", 2, nil)
	logger.LogZapTransition("session-1", "idle", "requesting-invoice", "")
	logger.LogCacheOperation("get", "test-key", true)
	logger.LogAggregateUpdate("event123", "reactions", 5)
	logger.LogStartup("v1.0.0", "abc123", map[string]interface{}{"key": "value"})
	logger.LogShutdown("test shutdown")

	output := buf.String()
	if output == "" {
		t.Error("expected log output, got empty string")
	}
}

func TestDiscardLogger(t *testing.T) {
	logger := Discard()
	if logger.IsDebugEnabled() {
		t.Error("expected discard logger to have debug disabled")
	}
	logger.Error("dropped")
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&config.Logging{Level: "info", Format: "json"}, &buf)

	logger.WithFields("session", "abc").Info("zap state changed")

	output := buf.String()
	if !strings.Contains(output, `"session":"abc"`) {
		t.Errorf("expected session field in output, got: %s", output)
	}
}
