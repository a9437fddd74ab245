package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// DefaultVerificationServiceURL is the public verifier used when none is configured.
const DefaultVerificationServiceURL = "https://solana-payment-verifier.soma-labs.workers.dev/"

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseDriver     string
	DatabaseURL        string
	SQLitePath         string
	RedisURL           string
	CORSAllowedOrigins []string
	BodyLimitBytes     int64

	NonceSecret string
	NonceTTL    time.Duration

	PublicBaseURL      string
	StoreName          string
	MerchantWallet     string
	DevMode            bool
	TransactionMessage string
	TransactionMemo    string

	VerificationServiceURL     string
	VerificationInterval       time.Duration
	VerificationTimeout        time.Duration
	VerificationRequestTimeout time.Duration
	ReferenceLocalFallback     bool

	CircuitVerifyMinReq      int
	CircuitVerifyFailureRate float64
	CircuitVerifyOpenFor     time.Duration
	RetryBase                time.Duration
	RetryMaxAttempts         int
	RetryJitterPercent       float64

	ConfirmRateLimit  int
	ConfirmRateWindow time.Duration
	IdempotencyTTL    time.Duration
	LockTTL           time.Duration
	LockRetryBackoff  time.Duration

	WorkerConcurrency int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseDriver:     strings.ToLower(valueOrDefault(k.String("DATABASE_DRIVER"), "postgres")),
		DatabaseURL:        k.String("DATABASE_URL"),
		SQLitePath:         valueOrDefault(k.String("SQLITE_PATH"), "solpay.db"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		BodyLimitBytes:     int64(parseInt(k.String("BODY_LIMIT_BYTES"), 64*1024)),

		NonceSecret: k.String("NONCE_SECRET"),
		NonceTTL:    parseDuration(k.String("NONCE_TTL"), "24h"),

		PublicBaseURL:      strings.TrimRight(valueOrDefault(k.String("PUBLIC_BASE_URL"), "http://localhost:8080"), "/"),
		StoreName:          valueOrDefault(k.String("STORE_NAME"), "Solana Pay Store"),
		MerchantWallet:     strings.TrimSpace(k.String("MERCHANT_WALLET")),
		DevMode:            parseBool(k.String("SOLANA_DEVMODE")),
		TransactionMessage: k.String("TRANSACTION_MESSAGE"),
		TransactionMemo:    k.String("TRANSACTION_MEMO"),

		VerificationServiceURL:     valueOrDefault(k.String("VERIFICATION_SERVICE_URL"), DefaultVerificationServiceURL),
		VerificationInterval:       parseDuration(k.String("VERIFICATION_INTERVAL"), "3s"),
		VerificationTimeout:        parseDuration(k.String("VERIFICATION_TIMEOUT"), "3m"),
		VerificationRequestTimeout: parseDuration(k.String("VERIFICATION_REQUEST_TIMEOUT"), "10s"),
		ReferenceLocalFallback:     parseBool(k.String("REFERENCE_LOCAL_FALLBACK")),

		CircuitVerifyMinReq:      parseInt(k.String("CIRCUIT_VERIFY_MIN_REQ"), 10),
		CircuitVerifyFailureRate: parseFloat(k.String("CIRCUIT_VERIFY_FAILURE_RATE"), 0.5),
		CircuitVerifyOpenFor:     parseDuration(k.String("CIRCUIT_VERIFY_OPEN_FOR"), "30s"),
		RetryBase:                parseDuration(k.String("RETRY_BASE"), "200ms"),
		RetryMaxAttempts:         parseInt(k.String("RETRY_MAX_ATTEMPTS"), 1),
		RetryJitterPercent:       parseFloat(k.String("RETRY_JITTER_PERCENT"), 0.2),

		ConfirmRateLimit:  parseInt(k.String("CONFIRM_RATE_LIMIT"), 30),
		ConfirmRateWindow: parseDuration(k.String("CONFIRM_RATE_WINDOW"), "1m"),
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		LockTTL:           parseDuration(k.String("LOCK_TTL"), "10s"),
		LockRetryBackoff:  parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),

		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 5),
	}

	switch cfg.DatabaseDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required")
		}
	case "sqlite":
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.NonceSecret == "" {
		return nil, errors.New("NONCE_SECRET is required")
	}
	if cfg.VerificationInterval <= 0 || cfg.VerificationTimeout <= 0 {
		return nil, errors.New("verification interval and timeout must be positive")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// Cluster returns the Solana cluster payments are expected on.
func (c *Config) Cluster() string {
	if c.DevMode {
		return "devnet"
	}
	return "mainnet-beta"
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
