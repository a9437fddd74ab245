package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/noah-isme/solpay-gateway/internal/obs"
	"github.com/noah-isme/solpay-gateway/internal/resilience"
	"github.com/noah-isme/solpay-gateway/internal/verification"
	"github.com/noah-isme/solpay-gateway/internal/verifier"
)

// watch drives the client side of a payment from a terminal: it fetches the
// payment config for an order, polls for the transfer and notifies the store.
func main() {
	var (
		apiBase = flag.String("api", envOrDefault("SOLPAY_API_URL", "http://localhost:8080"), "gateway base URL")
		orderID = flag.String("order", "", "order id to watch")
		level   = flag.String("log-level", envOrDefault("OBS_LOG_LEVEL", "info"), "log level")
	)
	flag.Parse()
	if strings.TrimSpace(*orderID) == "" {
		fmt.Fprintln(os.Stderr, "watch: -order is required")
		os.Exit(2)
	}

	logger := obs.NewLogger("console", *level).With().Str("component", "watch").Str("order_id", *orderID).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := verification.NewHTTPClient(15 * time.Second)
	cfg, err := fetchConfig(ctx, httpClient, *apiBase, *orderID)
	if err != nil {
		logger.Fatal().Err(err).Msg("fetch payment config")
	}

	coordinator, err := verifier.NewCoordinator(verifier.Options{
		Config: cfg,
		Verifier: &verification.Client{
			BaseURL: cfg.VerificationServiceURL,
			HTTP:    resilience.HTTPClient{Client: httpClient, MaxAttempts: 1, Target: "verification"},
			Logger:  logger,
		},
		HTTPClient: httpClient,
		Reporter:   verifier.LogReporter{Logger: logger},
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("configure verification")
	}

	logger.Info().
		Str("reference", cfg.Transaction.Reference).
		Str("amount", cfg.Transaction.Amount).
		Str("cluster", cfg.Cluster).
		Dur("timeout", cfg.Timeout()).
		Msg("waiting for payment")
	coordinator.Start(ctx)

	outcome, err := coordinator.Wait(context.Background())
	if err != nil {
		logger.Fatal().Err(err).Msg("wait for payment")
	}
	coordinator.Clear()
	logger.Info().Str("outcome", outcome.String()).Msg("verification finished")
	os.Exit(exitCode(outcome))
}

func fetchConfig(ctx context.Context, client *http.Client, base, orderID string) (verifier.Config, error) {
	endpoint := strings.TrimRight(base, "/") + "/api/v1/orders/" + orderID + "/payment-config"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return verifier.Config{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return verifier.Config{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return verifier.Config{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return verifier.Config{}, fmt.Errorf("payment config: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var cfg verifier.Config
	if err := json.Unmarshal(body, &cfg); err != nil {
		return verifier.Config{}, fmt.Errorf("decode payment config: %w", err)
	}
	return cfg, nil
}

func exitCode(o verifier.Outcome) int {
	switch o {
	case verifier.OutcomeRedirected:
		return 0
	case verifier.OutcomeExpired:
		return 3
	case verifier.OutcomeRejected:
		return 4
	case verifier.OutcomeCanceled:
		return 130
	default:
		return 1
	}
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
