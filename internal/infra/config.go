package infra

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      int    `env:"PGPORT" envDefault:"5432"`
	PGUser      string `env:"PGUSER" envDefault:"payments"`
	PGPassword  string `env:"PGPASSWORD" envDefault:"payments"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"payments"`

	// Redis (idempotency lock/result cache, timeout scheduling, processed-event dedup, FX cache)
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`

	// Server ports
	APIPort int `env:"API_PORT" envDefault:"3100"`

	// Kafka
	KafkaBrokers               string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled               bool   `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaProviderEventsGroupID string `env:"KAFKA_PROVIDER_EVENTS_GROUP_ID" envDefault:"payment-service.provider-events"`

	// CORS
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`

	// Stripe
	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	// PayPal
	PayPalClientID     string `env:"PAYPAL_CLIENT_ID"`
	PayPalClientSecret string `env:"PAYPAL_CLIENT_SECRET"`
	PayPalWebhookID    string `env:"PAYPAL_WEBHOOK_ID"`
	PayPalAPIBaseURL   string `env:"PAYPAL_API_BASE_URL" envDefault:"https://api-m.sandbox.paypal.com"`

	// Razorpay
	RazorpayKeyID         string `env:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret     string `env:"RAZORPAY_KEY_SECRET"`
	RazorpayWebhookSecret string `env:"RAZORPAY_WEBHOOK_SECRET"`

	// Cross-service RPC clients
	OrderServiceBaseURL  string `env:"ORDER_SERVICE_BASE_URL" envDefault:"http://localhost:4100"`
	CourseServiceBaseURL string `env:"COURSE_SERVICE_BASE_URL" envDefault:"http://localhost:4200"`
	ExchangeAPIBaseURL   string `env:"EXCHANGE_API_BASE_URL" envDefault:"https://api.frankfurter.app"`

	// Timeout system tuning
	PaymentExpiryMinutes int `env:"PAYMENT_EXPIRY_MINUTES" envDefault:"10"`
	SweeperIntervalSec   int `env:"SWEEPER_INTERVAL_SECONDS" envDefault:"60"`
	SweeperBatchSize     int `env:"SWEEPER_BATCH_SIZE" envDefault:"50"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for configuration that must not run in production.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass (local dev only).
func (c *Config) Validate() error {
	if c.AllowInsecureDefaults {
		return nil
	}
	if c.StripeSecretKey == "" && c.PayPalClientID == "" && c.RazorpayKeyID == "" {
		return fmt.Errorf("no provider credentials configured; set at least one of STRIPE_SECRET_KEY, PAYPAL_CLIENT_ID, RAZORPAY_KEY_ID or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	return nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
