package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"

	DedupStore    = "store"
	DedupDynamoDB = "dynamodb"
)

type Config struct {
	ServiceName    string `envconfig:"SERVICE_NAME" default:"minishop"`
	ServiceVersion string `envconfig:"SERVICE_VERSION" default:"dev"`
	Env            string `envconfig:"ENV" default:"dev"`
	Port           string `envconfig:"PORT" default:"8080"`
	LogFile        string `envconfig:"LOG_FILE" default:""`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"memory"`
	DatabaseURL string `envconfig:"DATABASE_URL" default:"file:minishop.db"`

	DedupBackend     string `envconfig:"DEDUP_BACKEND" default:"store"`
	DynamoDBTable    string `envconfig:"DYNAMODB_TABLE" default:"processed_payments"`
	AWSRegion        string `envconfig:"AWS_REGION" default:"us-east-1"`
	DynamoDBEndpoint string `envconfig:"DYNAMODB_ENDPOINT" default:""`

	PayPalMode           string        `envconfig:"PAYPAL_MODE" default:"sandbox"`
	PayPalClientID       string        `envconfig:"PAYPAL_CLIENT_ID"`
	PayPalClientSecret   string        `envconfig:"PAYPAL_CLIENT_SECRET"`
	PayPalWebhookID      string        `envconfig:"PAYPAL_WEBHOOK_ID"`
	PayPalTimeout        time.Duration `envconfig:"PAYPAL_TIMEOUT" default:"5s"`
	PayPalVerifyWebhooks bool          `envconfig:"PAYPAL_VERIFY_WEBHOOKS" default:"true"`

	KafkaBrokers     string `envconfig:"KAFKA_BROKERS" default:""`
	KafkaNotifyTopic string `envconfig:"KAFKA_NOTIFY_TOPIC" default:"order-notifications"`

	WebhookRateRPS   float64 `envconfig:"WEBHOOK_RATE_RPS" default:"20"`
	WebhookRateBurst int     `envconfig:"WEBHOOK_RATE_BURST" default:"40"`

	WebhookRedriveInterval time.Duration `envconfig:"WEBHOOK_REDRIVE_INTERVAL" default:"15s"`
	WebhookRedriveBackoff  time.Duration `envconfig:"WEBHOOK_REDRIVE_BACKOFF" default:"5s"`
	WebhookMaxAttempts     int           `envconfig:"WEBHOOK_MAX_ATTEMPTS" default:"8"`

	AdminJWTSecret string `envconfig:"ADMIN_JWT_SECRET"`
	SeedFile       string `envconfig:"SEED_FILE" default:""`
	ReturnURL      string `envconfig:"RETURN_URL" default:"http://localhost:8080/checkout/return"`
	CancelURL      string `envconfig:"CANCEL_URL" default:"http://localhost:8080/checkout/cancel"`
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory, StoreSQLite, StorePostgres:
	default:
		return fmt.Errorf("config: STORE_DRIVER %q is not one of memory, sqlite, postgres", c.StoreDriver)
	}
	switch c.DedupBackend {
	case DedupStore, DedupDynamoDB:
	default:
		return fmt.Errorf("config: DEDUP_BACKEND %q is not one of store, dynamodb", c.DedupBackend)
	}
	switch strings.ToLower(c.PayPalMode) {
	case "sandbox", "live":
	default:
		return fmt.Errorf("config: PAYPAL_MODE %q is not one of sandbox, live", c.PayPalMode)
	}
	if c.PayPalTimeout <= 0 {
		return errors.New("config: PAYPAL_TIMEOUT must be positive")
	}
	if c.WebhookRedriveInterval <= 0 {
		return errors.New("config: WEBHOOK_REDRIVE_INTERVAL must be positive")
	}
	if c.WebhookMaxAttempts <= 0 {
		return errors.New("config: WEBHOOK_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// KafkaBrokerList splits KAFKA_BROKERS on commas.
func (c *Config) KafkaBrokerList() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
