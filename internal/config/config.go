// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port           int           `yaml:"port" env:"HTTP_PORT"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"HTTP_REQUEST_TIMEOUT"`
	CookieName     string        `yaml:"cookie_name"` // session cookie fallback when no Authorization header
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL"`   // trace|debug|info|warn|error
	Format   string `yaml:"format" env:"LOG_FORMAT"` // json|console
	Sampling bool   `yaml:"sampling"`                // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url" env:"DATABASE_URL"`
	MaxConns int    `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url" env:"REDIS_URL"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// AuthConfig describes how identity provider access tokens are verified.
// Either HMACSecret or PublicKeyPEM must be set.
type AuthConfig struct {
	Issuer       string        `yaml:"issuer" env:"AUTH_ISSUER"` // identity provider URL
	Audience     string        `yaml:"audience" env:"AUTH_AUDIENCE"`
	HMACSecret   string        `yaml:"hmac_secret" env:"AUTH_JWT_SECRET"`
	PublicKeyPEM string        `yaml:"public_key_pem" env:"AUTH_PUBLIC_KEY"`
	Leeway       time.Duration `yaml:"leeway"`
}

type BillingConfig struct {
	Provider        string        `yaml:"provider" env:"BILLING_PROVIDER"` // lemonsqueezy | stripe | noop
	CallbackBaseURL string        `yaml:"callback_base_url" env:"BILLING_CALLBACK_BASE_URL"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
}

type LemonSqueezyConfig struct {
	APIKey  string `yaml:"api_key" env:"LEMONSQUEEZY_API_KEY"`
	BaseURL string `yaml:"base_url"`
	StoreID string `yaml:"store_id" env:"LEMONSQUEEZY_STORE_ID"`
}

type StripeConfig struct {
	SecretKey  string `yaml:"secret_key" env:"STRIPE_SECRET_KEY"`
	BackendURL string `yaml:"backend_url"` // empty uses api.stripe.com
}

type ReconcilerConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	Workers   int           `yaml:"workers"` // concurrent provider lookups per page
}

type RateLimitConfig struct {
	CheckoutPerMinute int `yaml:"checkout_per_minute"`
}

type Config struct {
	HTTP         HTTPConfig         `yaml:"http"`
	Log          LogConfig          `yaml:"log"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Auth         AuthConfig         `yaml:"auth"`
	Billing      BillingConfig      `yaml:"billing"`
	LemonSqueezy LemonSqueezyConfig `yaml:"lemonsqueezy"`
	Stripe       StripeConfig       `yaml:"stripe"`
	Reconciler   ReconcilerConfig   `yaml:"reconciler"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`

	Runtime RuntimeConfig `yaml:"-"`
}

const (
	ProviderLemonSqueezy = "lemonsqueezy"
	ProviderStripe       = "stripe"
	ProviderNoop         = "noop"
)

// LoadConfig reads the YAML file at path, loads .env if present and applies
// environment overrides on top. Secrets are expected to come from the environment.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// env-only deployments
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	cfg.Runtime.Dev = dev
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.RequestTimeout <= 0 {
		c.HTTP.RequestTimeout = 30 * time.Second
	}
	if c.HTTP.CookieName == "" {
		c.HTTP.CookieName = "access_token"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	if c.Redis.LockTTL <= 0 {
		c.Redis.LockTTL = 30 * time.Second
	}
	if c.Auth.Leeway <= 0 {
		c.Auth.Leeway = 30 * time.Second
	}
	c.Billing.Provider = strings.ToLower(strings.TrimSpace(c.Billing.Provider))
	if c.Billing.Provider == "" && c.Runtime.Dev {
		c.Billing.Provider = ProviderNoop
	}
	if c.Billing.ProviderTimeout <= 0 {
		c.Billing.ProviderTimeout = 15 * time.Second
	}
	if c.LemonSqueezy.BaseURL == "" {
		c.LemonSqueezy.BaseURL = "https://api.lemonsqueezy.com"
	}
	if c.Reconciler.Interval <= 0 {
		c.Reconciler.Interval = 15 * time.Minute
	}
	if c.Reconciler.BatchSize <= 0 {
		c.Reconciler.BatchSize = 100
	}
	if c.Reconciler.Workers <= 0 {
		c.Reconciler.Workers = 4
	}
	if c.RateLimit.CheckoutPerMinute <= 0 {
		c.RateLimit.CheckoutPerMinute = 10
	}
}

// Validate checks the settings the process cannot start without.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if c.Auth.HMACSecret == "" && c.Auth.PublicKeyPEM == "" {
		return errors.New("auth.hmac_secret or auth.public_key_pem is required")
	}
	if c.Billing.CallbackBaseURL == "" {
		return errors.New("billing.callback_base_url is required")
	}
	switch c.Billing.Provider {
	case ProviderLemonSqueezy:
		if c.LemonSqueezy.APIKey == "" {
			return errors.New("lemonsqueezy.api_key is required")
		}
	case ProviderStripe:
		if c.Stripe.SecretKey == "" {
			return errors.New("stripe.secret_key is required")
		}
	case ProviderNoop:
		if !c.Runtime.Dev {
			return errors.New("billing.provider=noop is only allowed in dev mode")
		}
	default:
		return fmt.Errorf("unknown billing.provider %q", c.Billing.Provider)
	}
	return nil
}
