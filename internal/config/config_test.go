package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/solpay-gateway/internal/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_DRIVER":          "sqlite",
		"DATABASE_URL":             "",
		"REDIS_URL":                "redis://localhost:6379/0",
		"NONCE_SECRET":             "nonce-secret",
		"SOLANA_DEVMODE":           "",
		"VERIFICATION_SERVICE_URL": "",
		"VERIFICATION_INTERVAL":    "",
		"VERIFICATION_TIMEOUT":     "",
		"PUBLIC_BASE_URL":          "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)

	require.Equal(t, "sqlite", cfg.DatabaseDriver)
	require.Equal(t, config.DefaultVerificationServiceURL, cfg.VerificationServiceURL)
	require.Equal(t, 3*time.Second, cfg.VerificationInterval)
	require.Equal(t, 3*time.Minute, cfg.VerificationTimeout)
	require.Equal(t, "mainnet-beta", cfg.Cluster())
	require.Equal(t, "http://localhost:8080", cfg.PublicBaseURL)
	require.Equal(t, ":8080", cfg.HTTPAddr())
}

func TestLoadDevMode(t *testing.T) {
	env := baseEnv()
	env["SOLANA_DEVMODE"] = "yes"
	env["VERIFICATION_INTERVAL"] = "500ms"
	env["PUBLIC_BASE_URL"] = "https://shop.example/"

	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, "devnet", cfg.Cluster())
	require.Equal(t, 500*time.Millisecond, cfg.VerificationInterval)
	require.Equal(t, "https://shop.example", cfg.PublicBaseURL)
}

func TestLoadRequiresSecrets(t *testing.T) {
	env := baseEnv()
	env["NONCE_SECRET"] = ""
	_, err := config.LoadForTests(env)
	require.Error(t, err)

	env = baseEnv()
	env["DATABASE_DRIVER"] = "postgres"
	_, err = config.LoadForTests(env)
	require.ErrorContains(t, err, "DATABASE_URL")
}
