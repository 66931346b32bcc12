// Package config loads service settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"

	ProviderStripe = "stripe"
	ProviderFake   = "fake"
)

type Config struct {
	HTTPPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	StorageBackend string
	Postgres       struct {
		Host     string
		Port     int
		User     string
		Password string
		DBName   string
	}
	MigrationsPath string

	MongoURI string
	MongoDB  string

	RedisAddr string

	KafkaBrokers           []string
	KafkaOrderTopic        string
	KafkaNotificationTopic string

	PaymentProvider     string
	StripeSecretKey     string
	StripeWebhookSecret string
	PaymentCurrency     string
	GatewayTimeout      time.Duration

	ReaperInterval time.Duration
	ReaperMaxAge   time.Duration

	LogLevel  string
	LogPretty bool
}

// Load reads path (if it exists) into the process environment and builds the Config.
func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	cfg := &Config{}
	var err error

	cfg.HTTPPort = getEnv("HTTP_PORT", "8080")
	if cfg.RequestTimeout, err = getEnvDuration("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	cfg.StorageBackend = strings.ToLower(getEnv("STORAGE_BACKEND", BackendMemory))
	cfg.Postgres.Host = getEnv("POSTGRES_HOST", "localhost")
	if cfg.Postgres.Port, err = getEnvInt("POSTGRES_PORT", 5432); err != nil {
		return nil, err
	}
	cfg.Postgres.User = getEnv("POSTGRES_USER", "postgres")
	cfg.Postgres.Password = getEnv("POSTGRES_PASSWORD", "postgres")
	cfg.Postgres.DBName = getEnv("POSTGRES_DB", "petmarket")
	cfg.MigrationsPath = getEnv("MIGRATIONS_PATH", "./internal/repository/migrations")

	cfg.MongoURI = getEnv("MONGO_URI", "")
	cfg.MongoDB = getEnv("MONGO_DB", "petmarket")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	cfg.KafkaOrderTopic = getEnv("KAFKA_ORDER_TOPIC", "order-events")
	cfg.KafkaNotificationTopic = getEnv("KAFKA_NOTIFICATION_TOPIC", "notifications")

	cfg.PaymentProvider = strings.ToLower(getEnv("PAYMENT_PROVIDER", ProviderFake))
	cfg.StripeSecretKey = getEnv("STRIPE_SECRET_KEY", "")
	cfg.StripeWebhookSecret = getEnv("STRIPE_WEBHOOK_SECRET", "")
	cfg.PaymentCurrency = strings.ToLower(getEnv("PAYMENT_CURRENCY", "usd"))
	if cfg.GatewayTimeout, err = getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if cfg.ReaperInterval, err = getEnvDuration("REAPER_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ReaperMaxAge, err = getEnvDuration("REAPER_MAX_AGE", 24*time.Hour); err != nil {
		return nil, err
	}

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	if cfg.LogPretty, err = getEnvBool("LOG_PRETTY", false); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	var errs []error

	switch c.StorageBackend {
	case BackendPostgres:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the postgres backend (carts live in MongoDB)"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend))
	}

	switch c.PaymentProvider {
	case ProviderStripe:
		if c.StripeSecretKey == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY is required for the stripe provider"))
		}
	case ProviderFake:
	default:
		errs = append(errs, fmt.Errorf("unknown PAYMENT_PROVIDER %q", c.PaymentProvider))
	}

	durations := map[string]time.Duration{
		"REQUEST_TIMEOUT":  c.RequestTimeout,
		"SHUTDOWN_TIMEOUT": c.ShutdownTimeout,
		"GATEWAY_TIMEOUT":  c.GatewayTimeout,
		"REAPER_INTERVAL":  c.ReaperInterval,
		"REAPER_MAX_AGE":   c.ReaperMaxAge,
	}
	for key, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
