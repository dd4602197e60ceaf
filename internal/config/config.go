// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres|sqlite
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"` // empty disables cache, locks and dedupe
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// PlanConfig describes one purchasable plan. The map key is the plan key,
// which is also the price lookup key reported back as the tier.
type PlanConfig struct {
	PriceID         string `yaml:"price_id"`
	TrialFeePriceID string `yaml:"trial_fee_price_id"`
	TrialDays       int    `yaml:"trial_days"`
	Interval        string `yaml:"interval"` // month|year
	StudentOnly     bool   `yaml:"student_only"`
}

type StripeConfig struct {
	SecretKey       string                `yaml:"secret_key"`
	WebhookSecret   string                `yaml:"webhook_secret"`
	SuccessURL      string                `yaml:"success_url"`
	CancelURL       string                `yaml:"cancel_url"`
	PortalReturnURL string                `yaml:"portal_return_url"`
	APIURL          string                `yaml:"api_url"` // override for stripe-mock
	Plans           map[string]PlanConfig `yaml:"plans"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type ReconcilerConfig struct {
	RejectStaleEvents *bool         `yaml:"reject_stale_events"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
	DedupeTTL         time.Duration `yaml:"dedupe_ttl"`
}

// RejectStale defaults to true when unset.
func (r ReconcilerConfig) RejectStale() bool {
	return r.RejectStaleEvents == nil || *r.RejectStaleEvents
}

type SchedulerConfig struct {
	SyncInterval    time.Duration `yaml:"sync_interval"`
	StaleAfter      time.Duration `yaml:"stale_after"`
	SyncBatch       int           `yaml:"sync_batch"`
	SyncConcurrency int           `yaml:"sync_concurrency"`
	StatsInterval   time.Duration `yaml:"stats_interval"`
}

type RateLimitConfig struct {
	CheckoutLimit  int           `yaml:"checkout_limit"`
	CheckoutWindow time.Duration `yaml:"checkout_window"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Stripe     StripeConfig     `yaml:"stripe"`
	Auth       AuthConfig       `yaml:"auth"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the yaml file at path, then lets a .env file and the
// environment override the secrets.
func LoadConfig(path string, dev bool) (*Config, error) {
	// .env is optional; real environment variables always win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes, applies env overrides and defaults, and validates.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"STRIPE_SECRET_KEY":     &c.Stripe.SecretKey,
		"STRIPE_WEBHOOK_SECRET": &c.Stripe.WebhookSecret,
		"DATABASE_URL":          &c.Database.URL,
		"REDIS_URL":             &c.Redis.URL,
		"AUTH_JWT_SECRET":       &c.Auth.JWTSecret,
	}
	for env, dst := range overrides {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*dst = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 15 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	c.Database.Driver = strings.ToLower(c.Database.Driver)
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	c.Redis.TTL = normalizeTTL(c.Redis.TTL)
	if c.Reconciler.LockTTL <= 0 {
		c.Reconciler.LockTTL = 30 * time.Second
	}
	if c.Reconciler.DedupeTTL <= 0 {
		c.Reconciler.DedupeTTL = 72 * time.Hour
	}
	if c.Scheduler.SyncInterval <= 0 {
		c.Scheduler.SyncInterval = 15 * time.Minute
	}
	if c.Scheduler.StaleAfter <= 0 {
		c.Scheduler.StaleAfter = 24 * time.Hour
	}
	if c.Scheduler.SyncBatch <= 0 {
		c.Scheduler.SyncBatch = 50
	}
	if c.Scheduler.SyncConcurrency <= 0 {
		c.Scheduler.SyncConcurrency = 4
	}
	if c.Scheduler.StatsInterval <= 0 {
		c.Scheduler.StatsInterval = time.Minute
	}
	if c.RateLimit.CheckoutLimit <= 0 {
		c.RateLimit.CheckoutLimit = 5
	}
	if c.RateLimit.CheckoutWindow <= 0 {
		c.RateLimit.CheckoutWindow = time.Minute
	}
	for key, p := range c.Stripe.Plans {
		if p.Interval == "" {
			p.Interval = "month"
			c.Stripe.Plans[key] = p
		}
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Stripe.SecretKey == "" {
		result = multierror.Append(result, errors.New("stripe.secret_key is required"))
	}
	if c.Stripe.WebhookSecret == "" {
		result = multierror.Append(result, errors.New("stripe.webhook_secret is required"))
	}
	if c.Database.URL == "" {
		result = multierror.Append(result, errors.New("database.url is required"))
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		result = multierror.Append(result, fmt.Errorf("database.driver %q must be postgres or sqlite", c.Database.Driver))
	}
	if c.Auth.JWTSecret == "" {
		result = multierror.Append(result, errors.New("auth.jwt_secret is required"))
	}
	for key, p := range c.Stripe.Plans {
		if p.PriceID == "" {
			result = multierror.Append(result, fmt.Errorf("stripe.plans.%s.price_id is required", key))
		}
		if p.Interval != "month" && p.Interval != "year" {
			result = multierror.Append(result, fmt.Errorf("stripe.plans.%s.interval %q must be month or year", key, p.Interval))
		}
		if p.TrialDays < 0 {
			result = multierror.Append(result, fmt.Errorf("stripe.plans.%s.trial_days must not be negative", key))
		}
	}
	return result.ErrorOrNil()
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
