package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// Gateway implementations.
const (
	GatewayStripe  = "stripe"
	GatewaySandbox = "sandbox"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env      string
	HTTPAddr string

	StoreDriver string
	MongoURI    string
	MongoDB     string
	PostgresDSN string

	Gateway             string
	StripeSecretKey     string
	StripeWebhookSecret string
	AccountCountry      string
	FrontendBaseURL     string

	// PlatformFee is in major units of Currency.
	PlatformFee decimal.Decimal
	Currency    string

	TxMaxAttempts     int
	IdempotencyTTL    time.Duration
	ReconcileInterval time.Duration
	ReconcileAfter    time.Duration

	KafkaBrokers       []string
	KafkaTopicPrefix   string
	OutboxPollInterval time.Duration
	RetryBackoff       []time.Duration

	ArchiveEndpoint  string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveBucket    string
	ArchiveUseSSL    bool
}

// Load reads an optional .env file (ENV_FILE, default ".env") and then parses configuration
// from the environment. Variables already set win over the file.
func Load() (Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Config{
		Env:                 getEnv("APP_ENV", "dev"),
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		StoreDriver:         strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
		MongoURI:            os.Getenv("MONGO_URI"),
		MongoDB:             getEnv("MONGO_DB", "rentledger"),
		PostgresDSN:         os.Getenv("POSTGRES_DSN"),
		Gateway:             strings.ToLower(getEnv("GATEWAY", GatewaySandbox)),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		AccountCountry:      strings.ToUpper(getEnv("ACCOUNT_COUNTRY", "DE")),
		FrontendBaseURL:     getEnv("FRONTEND_BASE_URL", "http://localhost:3000"),
		Currency:            strings.ToUpper(getEnv("CURRENCY", "eur")),
		KafkaTopicPrefix:    getEnv("KAFKA_TOPIC_PREFIX", ""),
		ArchiveEndpoint:     os.Getenv("EVENT_ARCHIVE_ENDPOINT"),
		ArchiveAccessKey:    os.Getenv("EVENT_ARCHIVE_ACCESS_KEY"),
		ArchiveSecretKey:    os.Getenv("EVENT_ARCHIVE_SECRET_KEY"),
		ArchiveBucket:       getEnv("EVENT_ARCHIVE_BUCKET", "rentledger-webhooks"),
	}
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	fee, err := decimal.NewFromString(getEnv("PLATFORM_FEE", "0.50"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid PLATFORM_FEE: %w", err)
	}
	if fee.IsNegative() || !fee.Equal(fee.Round(2)) {
		return Config{}, fmt.Errorf("invalid PLATFORM_FEE %s: must be non-negative with at most two decimals", fee)
	}
	cfg.PlatformFee = fee

	if cfg.TxMaxAttempts, err = parseIntEnv("TX_MAX_ATTEMPTS", 5); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = parseDurationEnv("IDEMP_TTL", 168*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.OutboxPollInterval, err = parseDurationEnv("OUTBOX_POLL_INTERVAL", 500*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileInterval, err = parseDurationEnv("RECONCILE_INTERVAL", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileAfter, err = parseDurationEnv("RECONCILE_AFTER", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.ArchiveUseSSL, err = parseBoolEnv("EVENT_ARCHIVE_USE_SSL", false); err != nil {
		return Config{}, err
	}

	retryStr := getEnv("RETRY_BACKOFF", "1s,5s,30s")
	for _, raw := range strings.Split(retryStr, ",") {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RETRY_BACKOFF component %q: %w", raw, err)
		}
		cfg.RetryBackoff = append(cfg.RetryBackoff, d)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for STORE_DRIVER=%s", c.StoreDriver)
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for STORE_DRIVER=%s", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.Gateway {
	case GatewayStripe:
		if c.StripeSecretKey == "" || c.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET are required for GATEWAY=stripe")
		}
	case GatewaySandbox:
		if c.Env == "prod" || c.Env == "production" {
			return fmt.Errorf("GATEWAY=sandbox is not allowed in %s", c.Env)
		}
	default:
		return fmt.Errorf("unknown GATEWAY %q", c.Gateway)
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("invalid CURRENCY %q", c.Currency)
	}
	if c.TxMaxAttempts <= 0 {
		return fmt.Errorf("TX_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// ArchiveEnabled reports whether verified webhook payloads should be archived.
func (c Config) ArchiveEnabled() bool {
	return c.ArchiveEndpoint != "" && c.ArchiveAccessKey != "" && c.ArchiveSecretKey != ""
}

// SandboxWebhookSecret signs sandbox notifications; it reuses STRIPE_WEBHOOK_SECRET when set.
func (c Config) SandboxWebhookSecret() string {
	if c.StripeWebhookSecret != "" {
		return c.StripeWebhookSecret
	}
	return "whsec_sandbox"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseIntEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s integer: %w", key, err)
	}
	return n, nil
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseBoolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s boolean: %q", key, raw)
	}
}
