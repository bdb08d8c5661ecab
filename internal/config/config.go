package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DBConfig struct {
		Host     string
		Port     int
		User     string
		Password string
		Name     string
		SSLMode  string
	}

	HTTPPort int

	KafkaBrokerURL          string
	KafkaPaymentEventsTopic string
	KafkaSubscriptionTopic  string

	OutboxPollInterval time.Duration
	OutboxPollTimeout  time.Duration
	OutboxBatchSize    int

	WebhookRetryInterval   time.Duration
	PeriodEndSweepInterval time.Duration

	MigrationsURL string

	IdempotencyTTL time.Duration

	ProviderCallTimeout time.Duration

	// DefaultProvider receives payments no routing rule claims.
	DefaultProvider string
	// CurrencyRouting maps currency codes to provider names,
	// e.g. "INR=payu,BRL=ebanx".
	CurrencyRouting map[string]string
	// RegionRouting maps caller regions to provider names.
	RegionRouting map[string]string
	// WebhookSecrets maps provider names to digest/secret pairs used to
	// verify inbound webhook signatures.
	WebhookSecrets map[string]WebhookSecret
}

type WebhookSecret struct {
	Digest string
	Secret string
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.DBConfig.Host = getEnvOrDefault("BILLING_DB_HOST", "localhost")
	cfg.DBConfig.Port = getEnvAsInt("BILLING_DB_PORT", 5432)
	cfg.DBConfig.User = getEnvOrDefault("BILLING_DB_USER", "user")
	cfg.DBConfig.Password = getEnvOrDefault("BILLING_DB_PASSWORD", "password")
	cfg.DBConfig.Name = getEnvOrDefault("BILLING_DB_NAME", "billing_db")
	cfg.DBConfig.SSLMode = getEnvOrDefault("BILLING_DB_SSLMODE", "disable")

	cfg.HTTPPort = getEnvAsInt("BILLING_HTTP_PORT", 8083)

	cfg.KafkaBrokerURL = getEnvOrDefault("KAFKA_BROKER_URL", "localhost:9092")
	cfg.KafkaPaymentEventsTopic = getEnvOrDefault("KAFKA_PAYMENT_EVENTS_TOPIC", "payment_events")
	cfg.KafkaSubscriptionTopic = getEnvOrDefault("KAFKA_SUBSCRIPTION_EVENTS_TOPIC", "subscription_events")

	cfg.OutboxPollInterval = getEnvAsDuration("OUTBOX_POLL_INTERVAL", 1*time.Second)
	cfg.OutboxPollTimeout = getEnvAsDuration("OUTBOX_POLL_TIMEOUT", 500*time.Millisecond)
	cfg.OutboxBatchSize = getEnvAsInt("OUTBOX_BATCH_SIZE", 50)

	cfg.WebhookRetryInterval = getEnvAsDuration("WEBHOOK_RETRY_INTERVAL", 30*time.Second)
	cfg.PeriodEndSweepInterval = getEnvAsDuration("PERIOD_END_SWEEP_INTERVAL", 1*time.Minute)

	cfg.MigrationsURL = getEnvOrDefault("MIGRATIONS_URL", "file://migrations")

	cfg.IdempotencyTTL = getEnvAsDuration("IDEMPOTENCY_TTL", 24*time.Hour)

	cfg.ProviderCallTimeout = getEnvAsDuration("PROVIDER_CALL_TIMEOUT", 10*time.Second)

	cfg.DefaultProvider = getEnvOrDefault("DEFAULT_PROVIDER", "sandbox")
	cfg.CurrencyRouting = getEnvAsMap("PROVIDER_CURRENCY_ROUTING", "")
	cfg.RegionRouting = getEnvAsMap("PROVIDER_REGION_ROUTING", "")

	secrets := getEnvAsMap("PROVIDER_WEBHOOK_SECRETS", "sandbox=sha256:sandbox-webhook-secret")
	cfg.WebhookSecrets = make(map[string]WebhookSecret, len(secrets))
	for providerName, value := range secrets {
		digest, secret, ok := strings.Cut(value, ":")
		if !ok {
			return nil, fmt.Errorf("malformed webhook secret for provider %q, want digest:secret", providerName)
		}
		cfg.WebhookSecrets[providerName] = WebhookSecret{Digest: digest, Secret: secret}
	}

	return cfg, nil
}

func (c *Config) GetDBMigrationConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.Name, c.DBConfig.SSLMode)
}

func (c *Config) GetKafkaBrokers() []string {
	return strings.Split(c.KafkaBrokerURL, ",")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, defaultValue.String())
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsMap parses "k1=v1,k2=v2" env values.
func getEnvAsMap(key, defaultValue string) map[string]string {
	raw := getEnvOrDefault(key, defaultValue)
	result := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		result[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return result
}
