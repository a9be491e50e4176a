package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"cliptide/internal/api"
	"cliptide/internal/observability/metrics"
	"cliptide/internal/serverutil"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr        string
	TLS         TLSConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Security    SecurityConfig
	Logger      *slog.Logger
	AuditLogger *slog.Logger
	Metrics     *metrics.Recorder
}

type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	auditLogger *slog.Logger
	metrics     *metrics.Recorder
	rateLimiter *rateLimiter
	tlsCertFile string
	tlsKeyFile  string
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	if handler.Metrics == nil {
		handler.Metrics = recorder
	}

	rl := newRateLimiter(cfg.RateLimit)
	if handler.RateLimiter == nil {
		handler.RateLimiter = rl
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/api/auth/register", handler.Register)
	mux.HandleFunc("/api/auth/login", handler.Login)
	mux.HandleFunc("/api/auth/refresh", handler.Refresh)
	mux.HandleFunc("/api/auth/logout", handler.Logout)
	mux.HandleFunc("/api/auth/change-password", handler.ChangePassword)
	mux.HandleFunc("/api/auth/session", handler.Session)
	mux.HandleFunc("/api/accounts/me", handler.Me)

	corsPolicy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, err
	}

	handlerChain := http.Handler(mux)
	handlerChain = authMiddleware(handler, handlerChain)
	handlerChain = rateLimitMiddleware(rl, recorder, cfg.Logger, handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = corsMiddleware(corsPolicy, cfg.Logger, handlerChain)
	handlerChain = metrics.HTTPMiddleware(recorder, handlerChain)
	handlerChain = auditMiddleware(cfg.AuditLogger, handlerChain)
	handlerChain = loggingMiddleware(cfg.Logger, handlerChain)
	handlerChain = requestIDMiddleware(cfg.Logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srv := &Server{
		httpServer:  httpServer,
		logger:      cfg.Logger,
		auditLogger: cfg.AuditLogger,
		metrics:     recorder,
		rateLimiter: rl,
		tlsCertFile: strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
	}

	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

// Handler exposes the fully assembled middleware chain, primarily for tests.
func (s *Server) Handler() http.Handler {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Handler
}

// Run serves until the context is cancelled, then shuts down gracefully and
// releases the rate limiter's backing store.
func (s *Server) Run(ctx context.Context) error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}
	defer func() {
		if err := s.rateLimiter.Close(); err != nil && s.logger != nil {
			s.logger.Warn("close rate limiter store", "error", err)
		}
	}()
	return serverutil.Run(ctx, serverutil.Config{
		Server: s.httpServer,
		TLS: serverutil.TLSConfig{
			CertFile: s.tlsCertFile,
			KeyFile:  s.tlsKeyFile,
		},
	})
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := newStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(recorder, r)
		duration := time.Since(start)
		requestLogger := loggerWithRequestContext(r.Context(), logger)
		requestLogger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", duration.Milliseconds(),
			"remote_ip", extractClientIP(r))
	})
}

func rateLimitMiddleware(rl *rateLimiter, recorder *metrics.Recorder, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			if recorder != nil {
				recorder.ObserveThrottleRejection("global")
			}
			http.Error(w, "global rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		if isCredentialPath(r) {
			ip := extractClientIP(r)
			allowed, retryAfter, err := rl.AllowCredential(ip)
			if err != nil {
				if logger != nil {
					logger.Error("rate limiter failure", "error", err)
				}
				http.Error(w, "rate limit failure", http.StatusServiceUnavailable)
				return
			}
			if !allowed {
				if recorder != nil {
					recorder.ObserveThrottleRejection("credential")
				}
				if retryAfter > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				}
				http.Error(w, "too many attempts", http.StatusTooManyRequests)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func isCredentialPath(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	switch r.URL.Path {
	case "/api/auth/login", "/api/auth/refresh":
		return true
	default:
		return false
	}
}

func auditMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := newStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(sr, r)
		if !shouldAudit(r) {
			return
		}
		duration := time.Since(start)
		user, ok := api.UserFromContext(r.Context())
		fields := []interface{}{
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.status,
			"duration_ms", duration.Milliseconds(),
			"remote_ip", extractClientIP(r),
		}
		if ok {
			fields = append(fields, "user_id", user.ID)
		}
		logger.Info("audit", fields...)
	})
}

func shouldAudit(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}
	return clientIP(r.RemoteAddr)
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// authMiddleware resolves the access token for protected API routes and
// stores the account on the request context. Routes that establish or
// re-establish credentials stay public; everything outside /api/ is public
// too.
func authMiddleware(handler *api.Handler, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/healthz" || path == "/metrics" || isPublicAuthPath(path) || !strings.HasPrefix(path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		user, err := handler.AuthenticateRequest(r)
		if err != nil {
			api.WriteError(w, http.StatusUnauthorized, fmt.Errorf("authentication required"))
			return
		}
		ctx := api.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isPublicAuthPath(path string) bool {
	switch path {
	case "/api/auth/register", "/api/auth/login", "/api/auth/refresh", "/api/auth/logout", "/api/auth/session":
		return true
	default:
		return false
	}
}
