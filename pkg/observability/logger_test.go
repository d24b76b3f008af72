package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

// parseEntry unmarshals one slog JSON line.
func parseEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	entry := make(map[string]interface{})
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		if buf.Len() > 0 {
			t.Error("Debug message should not be logged at Info level")
		}
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		if buf.Len() == 0 {
			t.Fatal("Info message should be logged at Info level")
		}

		entry := parseEntry(t, &buf)
		if entry["level"] != "INFO" {
			t.Errorf("Expected level INFO, got %v", entry["level"])
		}
		if entry["msg"] != "info message" {
			t.Errorf("Expected message 'info message', got %v", entry["msg"])
		}
	})

	t.Run("warn logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warn("warn message")
		if buf.Len() == 0 {
			t.Error("Warn message should be logged at Info level")
		}
	})

	t.Run("error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Error("error message")
		if buf.Len() == 0 {
			t.Error("Error message should be logged at Info level")
		}
	})
}

func TestLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	if logger.Level() != InfoLevel {
		t.Errorf("Expected initial level InfoLevel, got %v", logger.Level())
	}

	logger.Debug("before")
	if buf.Len() > 0 {
		t.Fatal("Debug message should not be logged at Info level")
	}

	logger.SetLevel(DebugLevel)
	logger.Debug("after")
	if buf.Len() == 0 {
		t.Error("Debug message should be logged after SetLevel(DebugLevel)")
	}
	if logger.Level() != DebugLevel {
		t.Errorf("Expected level DebugLevel after SetLevel, got %v", logger.Level())
	}
}

func TestLogger_SetLevelAppliesToDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	root := NewLogger(InfoLevel, &buf)
	derived := root.WithField("component", "worker")

	derived.Debug("quiet")
	if buf.Len() > 0 {
		t.Fatal("Debug message should not be logged at Info level")
	}

	root.SetLevel(DebugLevel)
	derived.Debug("loud")
	if buf.Len() == 0 {
		t.Error("Derived logger should honor the root's new level")
	}
}

func TestLogger_WithField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("subscription_id", "sub-1").Info("message")

	entry := parseEntry(t, &buf)
	if entry["subscription_id"] != "sub-1" {
		t.Errorf("Expected field 'subscription_id' to be 'sub-1', got %v", entry["subscription_id"])
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithFields(map[string]interface{}{
		"event_type": "resume.created",
		"attempt":    2,
	}).Info("message")

	entry := parseEntry(t, &buf)
	if entry["event_type"] != "resume.created" {
		t.Errorf("Expected field 'event_type' to be 'resume.created', got %v", entry["event_type"])
	}
	if entry["attempt"] != float64(2) {
		t.Errorf("Expected field 'attempt' to be 2, got %v", entry["attempt"])
	}
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("non-nil error", func(t *testing.T) {
		buf.Reset()
		logger.WithError(errors.New("connection refused")).Error("delivery failed")

		entry := parseEntry(t, &buf)
		if entry["error"] != "connection refused" {
			t.Errorf("Expected error field 'connection refused', got %v", entry["error"])
		}
	})

	t.Run("nil error is a no-op", func(t *testing.T) {
		buf.Reset()
		logger.WithError(nil).Info("fine")

		entry := parseEntry(t, &buf)
		if _, exists := entry["error"]; exists {
			t.Error("Expected no error field for nil error")
		}
	})
}

func TestLogger_Formatters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	cases := []struct {
		name string
		log  func()
		want string
	}{
		{"Debugf", func() { logger.Debugf("test %s %d", "string", 42) }, "test string 42"},
		{"Infof", func() { logger.Infof("test %d", 123) }, "test 123"},
		{"Warnf", func() { logger.Warnf("warning %s", "test") }, "warning test"},
		{"Errorf", func() { logger.Errorf("error %v", "test") }, "error test"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf.Reset()
			tc.log()

			entry := parseEntry(t, &buf)
			if entry["msg"] != tc.want {
				t.Errorf("Expected message %q, got %v", tc.want, entry["msg"])
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"Error", ErrorLevel},
		{" info ", InfoLevel},
		{"", InfoLevel},
		{"bogus", InfoLevel},
	}

	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestContextHelpers(t *testing.T) {
	t.Run("RequestID", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-123")
		if got := GetRequestID(ctx); got != "req-123" {
			t.Errorf("Expected request ID 'req-123', got %s", got)
		}
	})

	t.Run("RequestID missing", func(t *testing.T) {
		if got := GetRequestID(context.Background()); got != "" {
			t.Errorf("Expected empty request ID, got %s", got)
		}
	})

	t.Run("UserID", func(t *testing.T) {
		ctx := WithUserID(context.Background(), "user-456")
		if got := GetUserID(ctx); got != "user-456" {
			t.Errorf("Expected user ID 'user-456', got %s", got)
		}
	})

	t.Run("Logger round trip", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(InfoLevel, &buf)
		ctx := WithLogger(context.Background(), logger)

		if got := GetLogger(ctx); got != logger {
			t.Error("Expected the stored logger back from context")
		}
	})

	t.Run("Logger fallback", func(t *testing.T) {
		if got := GetLogger(context.Background()); got == nil {
			t.Error("Expected a fallback logger, got nil")
		}
	})
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-789")
	ctx = WithUserID(ctx, "user-1")

	FromContext(ctx).Info("handled")

	entry := parseEntry(t, &buf)
	if entry["request_id"] != "req-789" {
		t.Errorf("Expected request_id 'req-789', got %v", entry["request_id"])
	}
	if entry["user_id"] != "user-1" {
		t.Errorf("Expected user_id 'user-1', got %v", entry["user_id"])
	}
}
