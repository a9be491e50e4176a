package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cliptide/internal/observability/logging"
)

func TestRequestIDMiddlewareGeneratesID(t *testing.T) {
	logger := logging.New(logging.Config{Writer: io.Discard})

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = logging.RequestIDFromContext(r.Context())
	})
	handler := requestIDMiddlewareWithGenerator(logger, func() string { return "generated-id" }, next)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "generated-id" {
		t.Fatalf("expected generated id in context, got %q", seen)
	}
	if got := rec.Header().Get("X-Request-Id"); got != "generated-id" {
		t.Fatalf("expected generated id header, got %q", got)
	}
}

func TestRequestIDMiddlewarePreservesInboundID(t *testing.T) {
	logger := logging.New(logging.Config{Writer: io.Discard})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := requestIDMiddleware(logger, next)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "inbound-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "inbound-42" {
		t.Fatalf("expected inbound id to be preserved, got %q", got)
	}
}

func TestNewRequestIDIsUnique(t *testing.T) {
	a := newRequestID()
	b := newRequestID()
	if a == "" || a == b {
		t.Fatalf("expected distinct non-empty ids, got %q and %q", a, b)
	}
}
