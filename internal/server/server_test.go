package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cliptide/internal/api"
	"cliptide/internal/auth"
	"cliptide/internal/observability/logging"
	"cliptide/internal/observability/metrics"
	"cliptide/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestServer(t *testing.T, cfg Config) (*Server, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "store.json"), storage.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		AccessSecret:  []byte("server-access-secret"),
		RefreshSecret: []byte("server-refresh-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
	}, auth.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	authority := auth.NewSessionAuthority(store, codec)
	handler := api.NewHandler(store, authority, codec)

	if cfg.Logger == nil {
		cfg.Logger = logging.New(logging.Config{Writer: io.Discard})
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, clock
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body any, configure func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if configure != nil {
		configure(req)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func registerAndLogin(t *testing.T, handler http.Handler, username, email, password string) (string, string) {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/auth/register", map[string]string{
		"username":    username,
		"email":       email,
		"displayName": username,
		"password":    password,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/auth/login", map[string]string{
		"identifier": username,
		"password":   password,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return payload.AccessToken, payload.RefreshToken
}

func TestAuthGateProtectsAccountRoutes(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/accounts/me", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "authentication required") {
		t.Fatalf("unexpected error body: %s", rec.Body.String())
	}

	access, _ := registerAndLogin(t, handler, "alice", "alice@example.com", "secret123")
	rec = doJSON(t, handler, http.MethodGet, "/api/accounts/me", nil, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+access)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "alice") {
		t.Fatalf("expected profile payload, got %s", rec.Body.String())
	}
}

func TestPublicPathsSkipAuthGate(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	handler := srv.Handler()

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/healthz"},
		{http.MethodGet, "/metrics"},
	}
	for _, tc := range paths {
		rec := doJSON(t, handler, tc.method, tc.path, nil, nil)
		if rec.Code == http.StatusUnauthorized {
			t.Fatalf("%s %s must not require authentication", tc.method, tc.path)
		}
	}

	// Registration is public by definition.
	rec := doJSON(t, handler, http.MethodPost, "/api/auth/register", map[string]string{
		"username":    "bob",
		"email":       "bob@example.com",
		"displayName": "Bob",
		"password":    "secret123",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestChangePasswordRequiresGate(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/auth/change-password", map[string]string{
		"oldPassword": "secret123",
		"newPassword": "newsecret456",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv, clock := newTestServer(t, Config{})
	handler := srv.Handler()

	access1, refresh1 := registerAndLogin(t, handler, "alice", "alice@example.com", "secret123")

	protected := func(token string) int {
		rec := doJSON(t, handler, http.MethodGet, "/api/accounts/me", nil, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		})
		return rec.Code
	}

	if code := protected(access1); code != http.StatusOK {
		t.Fatalf("fresh access token: expected 200, got %d", code)
	}

	clock.Advance(16 * time.Minute)

	if code := protected(access1); code != http.StatusUnauthorized {
		t.Fatalf("expired access token: expected 401, got %d", code)
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/auth/refresh", map[string]string{
		"refreshToken": refresh1,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var rotated struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &rotated); err != nil {
		t.Fatalf("decode refresh response: %v", err)
	}
	if rotated.RefreshToken == refresh1 {
		t.Fatal("refresh must rotate the refresh token")
	}

	if code := protected(rotated.AccessToken); code != http.StatusOK {
		t.Fatalf("rotated access token: expected 200, got %d", code)
	}

	// The consumed refresh token is single use.
	rec = doJSON(t, handler, http.MethodPost, "/api/auth/refresh", map[string]string{
		"refreshToken": refresh1,
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh: expected status 401, got %d", rec.Code)
	}
}

func TestCredentialRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, Config{
		RateLimit: RateLimitConfig{LoginLimit: 2, LoginWindow: time.Minute},
	})
	handler := srv.Handler()

	attempt := func() *httptest.ResponseRecorder {
		return doJSON(t, handler, http.MethodPost, "/api/auth/login", map[string]string{
			"identifier": "alice",
			"password":   "wrongpass",
		}, nil)
	}

	for i := 0; i < 2; i++ {
		if rec := attempt(); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}
	rec := attempt()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}

	// Refresh shares the credential counters.
	rec = doJSON(t, handler, http.MethodPost, "/api/auth/refresh", map[string]string{
		"refreshToken": "bogus",
	}, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("refresh throttle: expected status 429, got %d", rec.Code)
	}
}

func TestGlobalRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, Config{
		RateLimit: RateLimitConfig{GlobalRPS: 1, GlobalBurst: 1},
	})
	handler := srv.Handler()

	first := doJSON(t, handler, http.MethodGet, "/healthz", nil, nil)
	if first.Code == http.StatusTooManyRequests {
		t.Fatal("first request must pass the global limiter")
	}
	second := doJSON(t, handler, http.MethodGet, "/healthz", nil, nil)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", second.Code)
	}
}

func TestSecurityHeadersApplied(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil, nil)
	headers := rec.Header()
	if headers.Get("X-Frame-Options") != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", headers.Get("X-Frame-Options"))
	}
	if headers.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected nosniff, got %q", headers.Get("X-Content-Type-Options"))
	}
	if headers.Get("Content-Security-Policy") == "" {
		t.Fatal("expected a Content-Security-Policy header")
	}
}

func TestRequestIDHeaderEchoed(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil, func(req *http.Request) {
		req.Header.Set("X-Request-Id", "req-1234")
	})
	if got := rec.Header().Get("X-Request-Id"); got != "req-1234" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}

	rec = doJSON(t, handler, http.MethodGet, "/healthz", nil, nil)
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected a generated request id header")
	}
}

func TestMetricsEndpointExposesCounters(t *testing.T) {
	recorder := metrics.New()
	srv, _ := newTestServer(t, Config{Metrics: recorder})
	handler := srv.Handler()

	registerAndLogin(t, handler, "alice", "alice@example.com", "secret123")

	rec := doJSON(t, handler, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "cliptide_http_requests_total") {
		t.Fatalf("expected request counter in exposition, got:\n%s", body)
	}
	if !strings.Contains(body, `cliptide_auth_events_total{event="login",outcome="success"}`) {
		t.Fatalf("expected auth event counter in exposition, got:\n%s", body)
	}
}

func TestHealthzReportsComponents(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Status     string `json:"status"`
		Components []struct {
			Component string `json:"component"`
			Status    string `json:"status"`
		} `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode health payload: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("expected ok status, got %q", payload.Status)
	}
	if len(payload.Components) == 0 {
		t.Fatal("expected component statuses")
	}
}
