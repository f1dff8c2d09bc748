package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

var ErrMissingSecret = errors.New("missing required secret")

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	Database Database `envPrefix:"DB_"`
	Stripe   Stripe   `envPrefix:"STRIPE_"`
	Access   Access   `envPrefix:"ACCESS_"`
	Inbox    Inbox    `envPrefix:"INBOX_"`
	Lock     Lock     `envPrefix:"LOCK_"`
	Redis    Redis    `envPrefix:"REDIS_"`
	Auth     Auth     `envPrefix:"AUTH_"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host            string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port            string        `env:"HTTP_PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

type Database struct {
	Driver          string        `env:"DRIVER" envDefault:"sqlite"` // sqlite, mysql
	DSN             string        `env:"DSN" envDefault:"billing.db"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"10"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"50"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"1h"`
}

type Stripe struct {
	SecretKey           string        `env:"SECRET_KEY"`
	WebhookSecret       string        `env:"WEBHOOK_SECRET"`
	APIBaseURL          string        `env:"API_BASE_URL"`
	Currency            string        `env:"CURRENCY" envDefault:"usd"`
	MinimumDonation     int64         `env:"MINIMUM_DONATION" envDefault:"100"`
	DonationLabel       string        `env:"DONATION_LABEL" envDefault:"Donation"`
	CheckoutTimeout     time.Duration `env:"CHECKOUT_TIMEOUT" envDefault:"10s"`
	HTTPTimeout         time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	MaxRetries          int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay      time.Duration `env:"RETRY_BASE_DELAY" envDefault:"500ms"`
	WebhookTolerance    time.Duration `env:"WEBHOOK_TOLERANCE" envDefault:"5m"`
	WebhookMaxBodyBytes int64         `env:"WEBHOOK_MAX_BODY_BYTES" envDefault:"65536"`
}

type Access struct {
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"5m"`
}

type Inbox struct {
	RedriveInterval time.Duration `env:"REDRIVE_INTERVAL" envDefault:"1m"`
	MaxAttempts     int           `env:"MAX_ATTEMPTS" envDefault:"8"`
	BaseBackoff     time.Duration `env:"BASE_BACKOFF" envDefault:"1m"`
	BatchSize       int           `env:"BATCH_SIZE" envDefault:"50"`
	ProcessTimeout  time.Duration `env:"PROCESS_TIMEOUT" envDefault:"60s"`
}

type Lock struct {
	Backend string        `env:"BACKEND" envDefault:"memory"` // memory, redis
	// TTL bounds how long a crashed holder blocks an account; live holders renew it.
	TTL     time.Duration `env:"TTL" envDefault:"30s"`
}

type Redis struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type Auth struct {
	JWTSecret string `env:"JWT_SECRET"`
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings the webhook and checkout paths cannot run without.
func (c *Config) Validate() error {
	if c.Stripe.SecretKey == "" {
		return fmt.Errorf("%w: STRIPE_SECRET_KEY", ErrMissingSecret)
	}
	if c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("%w: STRIPE_WEBHOOK_SECRET", ErrMissingSecret)
	}
	if c.Stripe.MinimumDonation <= 0 {
		return fmt.Errorf("STRIPE_MINIMUM_DONATION must be positive, got %d", c.Stripe.MinimumDonation)
	}
	if c.Environment.IsProduction() && c.Auth.JWTSecret == "" {
		// header identity is only for local development
		return fmt.Errorf("%w: AUTH_JWT_SECRET is required in production", ErrMissingSecret)
	}
	if _, err := url.ParseRequestURI(c.BaseURL); c.BaseURL != "" && err != nil {
		return fmt.Errorf("invalid BASE_URL %q: %w", c.BaseURL, err)
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Lock.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported LOCK_BACKEND %q", c.Lock.Backend)
	}
	return nil
}

func (h HTTPServer) Address() string {
	return h.Host + ":" + h.Port
}

func (e Environment) IsProduction() bool {
	return e.Name == "production"
}
