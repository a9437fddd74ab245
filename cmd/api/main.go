package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/solpay-gateway/internal/common"
	"github.com/noah-isme/solpay-gateway/internal/config"
	"github.com/noah-isme/solpay-gateway/internal/health"
	"github.com/noah-isme/solpay-gateway/internal/lock"
	"github.com/noah-isme/solpay-gateway/internal/obs"
	"github.com/noah-isme/solpay-gateway/internal/order"
	"github.com/noah-isme/solpay-gateway/internal/payment"
	"github.com/noah-isme/solpay-gateway/internal/queue"
	"github.com/noah-isme/solpay-gateway/internal/ratelimit"
	"github.com/noah-isme/solpay-gateway/internal/resilience"
	"github.com/noah-isme/solpay-gateway/internal/security"
	"github.com/noah-isme/solpay-gateway/internal/verification"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "solpay")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)
	if err := resilience.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		logger.Error().Err(err).Msg("register resilience metrics")
	}

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "solpay-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	backend, err := order.OpenBackend(startCtx, order.BackendConfig{
		Driver:          cfg.DatabaseDriver,
		DatabaseURL:     cfg.DatabaseURL,
		SQLitePath:      cfg.SQLitePath,
		ApplicationName: "solpay-api",
		Migrate:         envBool("DB_AUTO_MIGRATE", true),
	})
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DatabaseDriver).Msg("open order database")
	}
	defer backend.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(startCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	taskConn, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse task queue redis url")
	}
	taskClient := asynq.NewClient(taskConn)
	defer func() { _ = taskClient.Close() }()
	taskInspector := asynq.NewInspector(taskConn)
	defer func() { _ = taskInspector.Close() }()

	nonce, err := security.NewNonce(security.NonceConfig{Secret: cfg.NonceSecret, TTL: cfg.NonceTTL, ClockSkew: 30 * time.Second})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise security nonce")
	}

	verifyLogger := obs.Component(logger, "verification")
	verifier := &verification.Client{
		BaseURL: cfg.VerificationServiceURL,
		HTTP: resilience.HTTPClient{
			Client: verification.NewHTTPClient(cfg.VerificationRequestTimeout),
			Breaker: resilience.NewBreaker(cfg.CircuitVerifyMinReq, cfg.CircuitVerifyFailureRate, cfg.CircuitVerifyOpenFor).
				WithTarget("verification").
				WithLogger(verifyLogger),
			BaseBackoff: cfg.RetryBase,
			MaxAttempts: cfg.RetryMaxAttempts,
			Jitter:      cfg.RetryJitterPercent,
			Timeout:     cfg.VerificationRequestTimeout,
			Target:      "verification",
			Logger:      &verifyLogger,
		},
		Logger: verifyLogger,
	}

	links := payment.Links{BaseURL: cfg.PublicBaseURL}
	paymentLogger := obs.Component(logger, "payment")
	references := &payment.ReferenceService{
		Store:         backend.Store,
		Minter:        verifier,
		Locker:        lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
		LockTTL:       cfg.LockTTL,
		LocalFallback: cfg.ReferenceLocalFallback,
		Logger:        paymentLogger,
	}
	configHandler := &payment.ConfigHandler{
		Store:      backend.Store,
		References: references,
		Tokens:     nonce,
		Settings: payment.Settings{
			StoreName:              cfg.StoreName,
			MerchantWallet:         cfg.MerchantWallet,
			Message:                cfg.TransactionMessage,
			Memo:                   cfg.TransactionMemo,
			DevMode:                cfg.DevMode,
			VerificationServiceURL: cfg.VerificationServiceURL,
			Interval:               cfg.VerificationInterval,
			Timeout:                cfg.VerificationTimeout,
		},
		Links:  links,
		Logger: paymentLogger,
	}
	confirmHandler := &payment.ConfirmHandler{
		Store:    backend.Store,
		Verifier: verifier,
		Tokens:   nonce,
		Fulfillment: &queue.Enqueuer{
			Client: taskClient,
			Queue:  envOrDefault("QUEUE_NAME", queue.DefaultQueue),
			Logger: obs.Component(logger, "queue"),
		},
		Links:          links,
		MerchantWallet: cfg.MerchantWallet,
		Logger:         paymentLogger,
	}
	orderHandler := &payment.OrderHandler{Store: backend.Store, Links: links, Logger: paymentLogger}
	queueAdmin := &queue.AdminHandler{
		Inspector: taskInspector,
		Queue:     envOrDefault("QUEUE_NAME", queue.DefaultQueue),
		Logger:    obs.Component(logger, "queue-admin"),
	}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	var limiter ratelimit.Allower = ratelimit.Limiter{Client: redisClient, Prefix: "rl:"}
	if strings.EqualFold(envOrDefault("RATE_LIMIT_BACKEND", "redis"), "memory") {
		limiter = ratelimit.NewMemoryLimiter()
	}
	confirmLimit := ratelimit.Handler{
		Limiter: limiter,
		Config: ratelimit.Config{
			Key:    ratelimit.ByClientIP("confirm"),
			Window: cfg.ConfirmRateWindow,
			Max:    cfg.ConfirmRateLimit,
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: envBool("SECURE_HEADERS_ENABLE", true), EnableHSTS: envBool("SECURE_HSTS_ENABLE", false), HSTSMaxAge: envInt("SECURE_HSTS_MAX_AGE", 31536000)}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", common.IdempotencyHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		r.Mount("/debug/pprof", basicAuth(newPprofMux(), envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", ""), envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: backend, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.With(confirmLimit.Middleware).Post(payment.ConfirmPath, confirmHandler.ServeHTTP)

	r.Route("/api/v1", func(v chi.Router) {
		v.With(idem.Middleware).Post("/orders", orderHandler.Create)
		v.Get("/orders/{orderId}", orderHandler.Get)
		v.With(idem.Middleware).Post("/orders/{orderId}/pay", orderHandler.Pay)
		v.Get("/orders/{orderId}/payment-config", configHandler.ServeHTTP)

		// Queue admin is only exposed behind credentials.
		adminUser := envOrDefault("ADMIN_BASIC_AUTH_USER", "")
		if adminUser == "" {
			return
		}
		v.Route("/admin/queue", func(admin chi.Router) {
			admin.Use(func(next http.Handler) http.Handler {
				return basicAuth(next, adminUser, envOrDefault("ADMIN_BASIC_AUTH_PASS", ""))
			})
			admin.Get("/dlq", queueAdmin.ListDLQ)
			admin.Post("/dlq/replay", queueAdmin.ReplayDLQ)
			admin.Get("/stats", queueAdmin.Stats)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("cluster", cfg.Cluster()).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
		return
	case <-ctx.Done():
	}

	health.SetReady(false)
	logger.Info().Msg("shutdown requested, draining")
	time.Sleep(envDurationMillis("SHUTDOWN_DRAIN_MS", 2000))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	db    *order.Backend
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handle("/"+name, pprof.Handler(name))
	}
	return mux
}

// basicAuth guards handler with static credentials. An empty user disables the check.
func basicAuth(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
