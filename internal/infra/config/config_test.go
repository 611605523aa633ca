package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"APP_ENV", "HTTP_ADDR", "STORE_DRIVER", "MONGO_URI", "POSTGRES_DSN", "GATEWAY",
	"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET", "PLATFORM_FEE", "CURRENCY", "TX_MAX_ATTEMPTS",
	"KAFKA_BROKERS", "RETRY_BACKOFF", "EVENT_ARCHIVE_ENDPOINT", "EVENT_ARCHIVE_USE_SSL",
}

// cleanEnv blanks every variable Load reads and points ENV_FILE at a missing file.
func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoadDefaults(t *testing.T) {
	cleanEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, GatewaySandbox, cfg.Gateway)
	assert.Equal(t, "EUR", cfg.Currency)
	assert.Equal(t, "0.5", cfg.PlatformFee.String())
	assert.Equal(t, 5, cfg.TxMaxAttempts)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}, cfg.RetryBackoff)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.ArchiveEnabled())
	assert.Equal(t, "whsec_sandbox", cfg.SandboxWebhookSecret())
}

func TestLoadReadsEnvFileWithoutOverriding(t *testing.T) {
	cleanEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PLATFORM_FEE=0.75\nKAFKA_BROKERS=k1:9092, k2:9092\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Setenv("PLATFORM_FEE", "1.25")
	// godotenv only fills variables that are absent, not ones set to "".
	require.NoError(t, os.Unsetenv("KAFKA_BROKERS"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "1.25", cfg.PlatformFee.String())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"fee with three decimals":   {"PLATFORM_FEE": "0.505"},
		"negative fee":              {"PLATFORM_FEE": "-1"},
		"fee not a number":          {"PLATFORM_FEE": "half"},
		"mongo without uri":         {"STORE_DRIVER": "mongo"},
		"postgres without dsn":      {"STORE_DRIVER": "postgres"},
		"unknown driver":            {"STORE_DRIVER": "redis"},
		"stripe without secrets":    {"GATEWAY": "stripe"},
		"sandbox in production":     {"APP_ENV": "production"},
		"bad currency":              {"CURRENCY": "euro"},
		"zero attempts":             {"TX_MAX_ATTEMPTS": "0"},
		"bad backoff":               {"RETRY_BACKOFF": "1s,soon"},
		"bad archive ssl flag":      {"EVENT_ARCHIVE_USE_SSL": "maybe"},
		"non-numeric attempt count": {"TX_MAX_ATTEMPTS": "five"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			cleanEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestStripeGatewayWithSecrets(t *testing.T) {
	cleanEnv(t)
	t.Setenv("GATEWAY", "stripe")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_1")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_1")
	t.Setenv("APP_ENV", "prod")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, GatewayStripe, cfg.Gateway)
	assert.Equal(t, "whsec_1", cfg.SandboxWebhookSecret())
}
