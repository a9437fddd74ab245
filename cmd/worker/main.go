package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/solpay-gateway/internal/common"
	"github.com/noah-isme/solpay-gateway/internal/config"
	"github.com/noah-isme/solpay-gateway/internal/obs"
	"github.com/noah-isme/solpay-gateway/internal/order"
	"github.com/noah-isme/solpay-gateway/internal/payment"
	"github.com/noah-isme/solpay-gateway/internal/queue"
)

func main() {
	cfg := config.MustLoad()

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "solpay"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := order.OpenBackend(ctx, order.BackendConfig{
		Driver:          cfg.DatabaseDriver,
		DatabaseURL:     cfg.DatabaseURL,
		SQLitePath:      cfg.SQLitePath,
		ApplicationName: "solpay-worker",
		MaxConns:        int32(cfg.WorkerConcurrency + 2),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("open order database")
	}
	defer backend.Close()

	taskConn, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse task queue redis url")
	}

	queueName := envOrDefault("QUEUE_NAME", queue.DefaultQueue)
	server := asynq.NewServer(taskConn, asynq.Config{
		Concurrency:     cfg.WorkerConcurrency,
		Queues:          map[string]int{queueName: 1},
		Logger:          queue.Logger{L: logger},
		ShutdownTimeout: 20 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error().Err(err).Str("type", task.Type()).Int("retried", retried).Int("max_retry", maxRetry).Msg("task_failed")
		}),
	})

	fulfillment := &queue.Fulfillment{
		Orders:    backend.Store,
		Email:     common.NopEmailSender{},
		Links:     payment.Links{BaseURL: cfg.PublicBaseURL},
		StoreName: cfg.StoreName,
		Logger:    logger,
	}
	if err := server.Start(queue.NewServeMux(fulfillment)); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}

	var metricsSrv *http.Server
	if addr := envOrDefault("WORKER_METRICS_ADDR", ""); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	logger.Info().Str("queue", queueName).Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")
	<-ctx.Done()

	logger.Info().Msg("worker shutting down")
	server.Shutdown()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	logger.Info().Msg("worker shutdown complete")
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
