// Command server starts the Cliptide identity and account HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"cliptide/internal/api"
	"cliptide/internal/auth"
	"cliptide/internal/observability/logging"
	"cliptide/internal/observability/metrics"
	"cliptide/internal/server"
	"cliptide/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	accessTTL := flag.Duration("access-token-ttl", 0, "access token lifetime")
	refreshTTL := flag.Duration("refresh-token-ttl", 0, "refresh token lifetime")
	cookieSecure := flag.String("cookie-secure", "", "session cookie Secure attribute policy (auto or always)")
	corsOrigins := flag.String("cors-origins", "", "comma separated origins allowed for cross-origin requests")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum credential attempts per window for a single client")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting credential attempts")
	redisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed credential throttling")
	redisPassword := flag.String("rate-redis-password", "", "Redis password for distributed credential throttling")
	redisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis operations")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("CLIPTIDE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("CLIPTIDE_LOG_FORMAT")),
	})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("CLIPTIDE_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("CLIPTIDE_ADDR"))

	tlsCertPath := firstNonEmpty(*tlsCert, os.Getenv("CLIPTIDE_TLS_CERT"))
	tlsKeyPath := firstNonEmpty(*tlsKey, os.Getenv("CLIPTIDE_TLS_KEY"))

	tokenCfg := auth.TokenConfig{
		AccessSecret:  []byte(os.Getenv("ACCESS_TOKEN_SECRET")),
		RefreshSecret: []byte(os.Getenv("REFRESH_TOKEN_SECRET")),
		AccessTTL:     resolveDuration(*accessTTL, "ACCESS_TOKEN_EXPIRY", 15*time.Minute),
		RefreshTTL:    resolveDuration(*refreshTTL, "REFRESH_TOKEN_EXPIRY", 720*time.Hour),
	}
	if err := tokenCfg.Validate(); err != nil {
		logger.Error("invalid token configuration", "error", err)
		os.Exit(1)
	}

	codec, err := auth.NewTokenCodec(tokenCfg)
	if err != nil {
		logger.Error("failed to build token codec", "error", err)
		os.Exit(1)
	}

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("CLIPTIDE_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" {
		if err := validateProductionDatastore(driver, postgresDefaultDSN); err != nil {
			logger.Error("production datastore validation failed", "error", err)
			os.Exit(1)
		}
	}

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("CLIPTIDE_DATA"))
		store, err = storage.NewJSONRepository(dataFile)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		var pgOptions []storage.Option
		maxConns := resolveInt(*postgresMaxConns, "CLIPTIDE_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "CLIPTIDE_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "CLIPTIDE_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "CLIPTIDE_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "CLIPTIDE_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "CLIPTIDE_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("CLIPTIDE_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresRepository(postgresDefaultDSN, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	authority := auth.NewSessionAuthority(store, codec, auth.WithLogger(logging.WithComponent(logger, "auth")))

	handler := api.NewHandler(store, authority, codec)
	handler.Metrics = recorder
	cookiePolicy, err := resolveCookiePolicy(*cookieSecure, os.Getenv("CLIPTIDE_COOKIE_SECURE"))
	if err != nil {
		logger.Error("invalid cookie policy", "error", err)
		os.Exit(1)
	}
	handler.CookiePolicy = cookiePolicy

	rateCfg := server.RateLimitConfig{
		GlobalRPS:     resolveFloat(*globalRPS, "CLIPTIDE_RATE_GLOBAL_RPS"),
		GlobalBurst:   resolveInt(*globalBurst, "CLIPTIDE_RATE_GLOBAL_BURST"),
		LoginLimit:    resolveInt(*loginLimit, "CLIPTIDE_RATE_LOGIN_LIMIT"),
		LoginWindow:   resolveDuration(*loginWindow, "CLIPTIDE_RATE_LOGIN_WINDOW", time.Minute),
		RedisAddr:     firstNonEmpty(*redisAddr, os.Getenv("CLIPTIDE_RATE_REDIS_ADDR")),
		RedisPassword: firstNonEmpty(*redisPassword, os.Getenv("CLIPTIDE_RATE_REDIS_PASSWORD")),
		RedisTimeout:  resolveDuration(*redisTimeout, "CLIPTIDE_RATE_REDIS_TIMEOUT", 2*time.Second),
	}

	srv, err := server.New(handler, server.Config{
		Addr:      listenAddr,
		TLS:       server.TLSConfig{CertFile: tlsCertPath, KeyFile: tlsKeyPath},
		RateLimit: rateCfg,
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("CLIPTIDE_CORS_ORIGINS"))),
		},
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Cliptide API listening", "addr", listenAddr, "mode", serverMode, "driver", driver)
	if tlsCertPath != "" && tlsKeyPath != "" {
		logger.Info("TLS enabled", "cert_file", tlsCertPath)
	}
	logger.Info("metrics endpoint available", "path", "/metrics")

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(closeCtx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}

	logger.Info("server stopped")
}

func resolveCookiePolicy(flagValue, envValue string) (api.AuthCookiePolicy, error) {
	policy := api.DefaultAuthCookiePolicy()
	raw := strings.ToLower(firstNonEmpty(flagValue, envValue))
	switch raw {
	case "", "auto":
		policy.SecureMode = api.AuthCookieSecureAuto
	case "always":
		policy.SecureMode = api.AuthCookieSecureAlways
	default:
		return policy, fmt.Errorf("unsupported cookie secure mode %q", raw)
	}
	return policy, nil
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func validateProductionDatastore(driver, resolvedPostgresDSN string) error {
	if driver != "postgres" {
		return fmt.Errorf("production mode requires the postgres datastore driver, got %q", driver)
	}
	if strings.TrimSpace(resolvedPostgresDSN) == "" {
		return fmt.Errorf("postgres storage selected without DSN")
	}
	return nil
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("CLIPTIDE_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}
