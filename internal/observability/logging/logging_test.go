package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewEmitsJSONByDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})
	logger.Info("hello", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "hello" {
		t.Fatalf("unexpected message %v", entry["msg"])
	}
	if entry["key"] != "value" {
		t.Fatalf("unexpected attribute %v", entry["key"])
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Format: "text"})
	logger.Info("hello")

	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text attributes, got %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Level: "warn"})

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn should pass, got %q", buf.String())
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(New(Config{Writer: &buf}), "audit")
	logger.Info("event")

	if !strings.Contains(buf.String(), `"component":"audit"`) {
		t.Fatalf("expected component attribute, got %q", buf.String())
	}
	if WithComponent(nil, "audit") != nil {
		t.Fatal("nil logger must stay nil")
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := RequestIDFromContext(ctx); ok {
		t.Fatal("empty context must carry no request id")
	}

	ctx = ContextWithRequestID(ctx, "  ")
	if _, ok := RequestIDFromContext(ctx); ok {
		t.Fatal("blank ids must not be stored")
	}

	ctx = ContextWithRequestID(ctx, "req-99")
	id, ok := RequestIDFromContext(ctx)
	if !ok || id != "req-99" {
		t.Fatalf("expected req-99, got %q (ok=%v)", id, ok)
	}
}

func TestWithContextAnnotatesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})
	ctx := ContextWithRequestID(context.Background(), "req-7")

	WithContext(ctx, logger).Info("event")
	if !strings.Contains(buf.String(), `"request_id":"req-7"`) {
		t.Fatalf("expected request_id attribute, got %q", buf.String())
	}
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})

	if LoggerFromContext(context.Background()) != nil {
		t.Fatal("expected nil logger for empty context")
	}
	ctx := ContextWithLogger(context.Background(), logger)
	if LoggerFromContext(ctx) != logger {
		t.Fatal("expected stored logger back")
	}
}
