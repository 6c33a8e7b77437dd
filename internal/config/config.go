// Package config loads the billing service configuration from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	GatewaySimulated = "simulated"
	GatewayStripe    = "stripe"

	NotifierLog  = "log"
	NotifierNATS = "nats"
)

// EnvConfigPath names the variable consulted when no --config flag is given.
const EnvConfigPath = "BILLING_CONFIG"

type Config struct {
	Service   string          `yaml:"service"`
	Env       string          `yaml:"env"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Store     StoreConfig     `yaml:"store"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Billing   BillingConfig   `yaml:"billing"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Seed      SeedConfig      `yaml:"seed"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type GatewayConfig struct {
	Driver           string  `yaml:"driver"`
	SuccessRate      float64 `yaml:"success_rate"`
	NetworkErrorRate float64 `yaml:"network_error_rate"`
	Seed             int64   `yaml:"seed"`
	StripeAPIKey     string  `yaml:"stripe_api_key"`
}

type NotifierConfig struct {
	Driver        string `yaml:"driver"`
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type OutboxConfig struct {
	QueueSize      int           `yaml:"queue_size"`
	Concurrency    int           `yaml:"concurrency"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
}

type BillingConfig struct {
	InFlightTimeout          time.Duration `yaml:"in_flight_timeout"`
	InsufficientFundsBackoff time.Duration `yaml:"insufficient_funds_backoff"`
	NetworkBackoff           time.Duration `yaml:"network_backoff"`
}

type SchedulerConfig struct {
	Enabled  bool                 `yaml:"enabled"`
	Location string               `yaml:"location"`
	Jobs     map[string]JobConfig `yaml:"jobs"`
}

// JobConfig overrides one sweep's trigger. Empty fields keep the sweep's defaults.
type JobConfig struct {
	Schedule string `yaml:"schedule"`
	Misfire  string `yaml:"misfire"`
	Disabled bool   `yaml:"disabled"`
}

type SeedConfig struct {
	Enabled             bool  `yaml:"enabled"`
	Customers           int   `yaml:"customers"`
	InvoicesPerCustomer int   `yaml:"invoices_per_customer"`
	Seed                int64 `yaml:"seed"`
}

// Default returns the configuration used when no file is present: in-memory store,
// simulated gateway, log notifications and the three standard sweeps.
func Default() Config {
	return Config{
		Service: "billing",
		Env:     "dev",
		Log:     LogConfig{Level: "info"},
		HTTP:    HTTPConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Store:   StoreConfig{Driver: StoreMemory},
		Gateway: GatewayConfig{
			Driver:           GatewaySimulated,
			SuccessRate:      0.8,
			NetworkErrorRate: 0.05,
		},
		Notifier: NotifierConfig{Driver: NotifierLog},
		Outbox:   OutboxConfig{QueueSize: 1024, Concurrency: 8, HandlerTimeout: 30 * time.Second},
		Billing: BillingConfig{
			InFlightTimeout:          time.Hour,
			InsufficientFundsBackoff: 24 * time.Hour,
			NetworkBackoff:           time.Hour,
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Location: "UTC",
			Jobs: map[string]JobConfig{
				"payment":    {Schedule: "0 0 0 1 * *", Misfire: "fire_now"},
				"retry":      {Schedule: "0 0 * * * *", Misfire: "fire_now"},
				"validation": {Schedule: "0 0 9 * * MON-FRI", Misfire: "fire_now"},
			},
		},
		Seed: SeedConfig{Enabled: true, Customers: 10, InvoicesPerCustomer: 10},
	}
}

// Load reads path over the defaults. An empty path falls back to $BILLING_CONFIG; a missing
// file is not an error. Environment overrides are applied last, then the result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing %s: %w", path, err)
			}
		}
	}

	cfg.mergeJobDefaults()
	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// mergeJobDefaults fills the fields a job entry left empty. yaml.v3 replaces map values
// wholesale, so a partial entry would otherwise drop the defaults.
func (c *Config) mergeJobDefaults() {
	defaults := Default().Scheduler.Jobs
	for name, job := range c.Scheduler.Jobs {
		base, ok := defaults[name]
		if !ok {
			continue
		}
		if job.Schedule == "" {
			job.Schedule = base.Schedule
		}
		if job.Misfire == "" {
			job.Misfire = base.Misfire
		}
		c.Scheduler.Jobs[name] = job
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("SERVICE_NAME", &c.Service)
	set("ENV", &c.Env)
	set("LOG_LEVEL", &c.Log.Level)
	set("LOG_FILE", &c.Log.File)
	set("HTTP_ADDR", &c.HTTP.Addr)
	set("DATABASE_URL", &c.Store.DSN)
	set("NATS_URL", &c.Notifier.NATSURL)
	set("STRIPE_API_KEY", &c.Gateway.StripeAPIKey)
}

func (c Config) Validate() error {
	var errs []error

	if c.Service == "" {
		errs = append(errs, errors.New("service must be set"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr must be set"))
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("http.shutdown_timeout must be positive"))
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn (or DATABASE_URL) is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of memory, postgres", c.Store.Driver))
	}

	switch c.Gateway.Driver {
	case GatewaySimulated:
		if !validRate(c.Gateway.SuccessRate) || !validRate(c.Gateway.NetworkErrorRate) {
			errs = append(errs, errors.New("gateway rates must be within [0, 1]"))
		}
		if c.Gateway.SuccessRate+c.Gateway.NetworkErrorRate > 1 {
			errs = append(errs, errors.New("gateway.success_rate + gateway.network_error_rate must not exceed 1"))
		}
	case GatewayStripe:
		if c.Gateway.StripeAPIKey == "" {
			errs = append(errs, errors.New("gateway.stripe_api_key (or STRIPE_API_KEY) is required for the stripe gateway"))
		}
	default:
		errs = append(errs, fmt.Errorf("gateway.driver %q is not one of simulated, stripe", c.Gateway.Driver))
	}

	switch c.Notifier.Driver {
	case NotifierLog:
	case NotifierNATS:
		if c.Notifier.NATSURL == "" {
			errs = append(errs, errors.New("notifier.nats_url (or NATS_URL) is required for the nats notifier"))
		}
	default:
		errs = append(errs, fmt.Errorf("notifier.driver %q is not one of log, nats", c.Notifier.Driver))
	}

	if c.Billing.InFlightTimeout <= 0 || c.Billing.InsufficientFundsBackoff <= 0 || c.Billing.NetworkBackoff <= 0 {
		errs = append(errs, errors.New("billing durations must be positive"))
	}

	if _, err := time.LoadLocation(c.Scheduler.Location); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.location: %w", err))
	}
	for name, job := range c.Scheduler.Jobs {
		if !job.Disabled && job.Schedule == "" {
			errs = append(errs, fmt.Errorf("scheduler.jobs.%s.schedule must be set", name))
		}
		if job.Misfire != "" && job.Misfire != "fire_now" && job.Misfire != "skip" {
			errs = append(errs, fmt.Errorf("scheduler.jobs.%s.misfire %q is not one of fire_now, skip", name, job.Misfire))
		}
	}

	if c.Seed.Enabled && (c.Seed.Customers < 0 || c.Seed.InvoicesPerCustomer < 0) {
		errs = append(errs, errors.New("seed counts must not be negative"))
	}

	return errors.Join(errs...)
}

// Location resolves Scheduler.Location; Validate guarantees it loads.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Location)
	if err != nil {
		return time.UTC
	}
	return loc
}

func validRate(r float64) bool { return r >= 0 && r <= 1 }
