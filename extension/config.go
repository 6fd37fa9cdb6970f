package extension

import (
	"fmt"
	"time"

	"github.com/xraph/tokenvault"
	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/payment/phonepe"
	"github.com/xraph/tokenvault/payment/razorpay"
	"github.com/xraph/tokenvault/referral"
	"github.com/xraph/tokenvault/store"
	"github.com/xraph/tokenvault/store/memory"
	"github.com/xraph/tokenvault/store/sqlstore"
)

// DriverMemory selects the in-process store.
const DriverMemory = "memory"

// Config holds the tokenvault extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.tokenvault" or "tokenvault" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// Store selects the backend built when no store was set with WithStore.
	Store StoreConfig `json:"store" mapstructure:"store" yaml:"store"`

	// Timezone is the IANA zone whose calendar day drives the daily
	// refresh (default: "UTC").
	Timezone string `json:"timezone" mapstructure:"timezone" yaml:"timezone"`

	// CarryOver is the renewal carry-over policy: none, purchased or all
	// (default: "none").
	CarryOver string `json:"carry_over" mapstructure:"carry_over" yaml:"carry_over"`

	// Milestones replaces the referral milestone table when non-empty.
	Milestones []referral.Milestone `json:"milestones" mapstructure:"milestones" yaml:"milestones"`

	// RetryAttempts bounds optimistic-update retries (default: 5).
	RetryAttempts uint `json:"retry_attempts" mapstructure:"retry_attempts" yaml:"retry_attempts"`

	// RetryInitial is the first backoff interval (default: 10ms).
	RetryInitial time.Duration `json:"retry_initial" mapstructure:"retry_initial" yaml:"retry_initial"`

	// WebhookTimeout bounds asynchronous webhook processing (default: 30s).
	WebhookTimeout time.Duration `json:"webhook_timeout" mapstructure:"webhook_timeout" yaml:"webhook_timeout"`

	// PrizeHistoryRetention prunes older prize grants during the daily
	// refresh. Zero keeps everything.
	PrizeHistoryRetention time.Duration `json:"prize_history_retention" mapstructure:"prize_history_retention" yaml:"prize_history_retention"`

	// MaintenanceInterval runs expiry, refresh and reconciliation in the
	// background. Zero leaves them to an external scheduler.
	MaintenanceInterval time.Duration `json:"maintenance_interval" mapstructure:"maintenance_interval" yaml:"maintenance_interval"`

	// ReconcileAfter is the age after which pending payments are polled
	// (default: 15m).
	ReconcileAfter time.Duration `json:"reconcile_after" mapstructure:"reconcile_after" yaml:"reconcile_after"`

	// BatchSize is the page size of the batch jobs (default: 500).
	BatchSize int `json:"batch_size" mapstructure:"batch_size" yaml:"batch_size"`

	// PhonePe enables the PhonePe gateway when client_id is set.
	PhonePe phonepe.Config `json:"phonepe" mapstructure:"phonepe" yaml:"phonepe"`

	// Razorpay enables the Razorpay gateway when key_id is set.
	Razorpay razorpay.Config `json:"razorpay" mapstructure:"razorpay" yaml:"razorpay"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// StoreConfig selects a store backend.
type StoreConfig struct {
	// Driver is memory, sqlite or postgres (default: memory).
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`
	DSN    string `json:"dsn" mapstructure:"dsn" yaml:"dsn"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Store:          StoreConfig{Driver: DriverMemory},
		Timezone:       "UTC",
		CarryOver:      string(account.CarryOverNone),
		RetryAttempts:  5,
		RetryInitial:   10 * time.Millisecond,
		WebhookTimeout: 30 * time.Second,
		ReconcileAfter: 15 * time.Minute,
		BatchSize:      500,
	}
}

// WithDefaults fills zero-valued fields with defaults.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Store.Driver == "" {
		c.Store.Driver = d.Store.Driver
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.CarryOver == "" {
		c.CarryOver = d.CarryOver
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryInitial == 0 {
		c.RetryInitial = d.RetryInitial
	}
	if c.WebhookTimeout == 0 {
		c.WebhookTimeout = d.WebhookTimeout
	}
	if c.ReconcileAfter == 0 {
		c.ReconcileAfter = d.ReconcileAfter
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	return c
}

// VaultOptions converts the config into engine options.
func (c Config) VaultOptions() ([]tokenvault.Option, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("tokenvault: timezone %q: %w", c.Timezone, err)
	}
	policy, err := account.ParseCarryOver(c.CarryOver)
	if err != nil {
		return nil, fmt.Errorf("tokenvault: %w", err)
	}

	opts := []tokenvault.Option{
		tokenvault.WithLocation(loc),
		tokenvault.WithCarryOver(policy),
		tokenvault.WithRetry(c.RetryAttempts, c.RetryInitial),
		tokenvault.WithWebhookTimeout(c.WebhookTimeout),
		tokenvault.WithPrizeHistoryRetention(c.PrizeHistoryRetention),
		tokenvault.WithMaintenance(c.MaintenanceInterval, c.ReconcileAfter),
		tokenvault.WithBatchSize(c.BatchSize),
	}
	if len(c.Milestones) > 0 {
		opts = append(opts, tokenvault.WithMilestones(c.Milestones))
	}
	if c.PhonePe.ClientID != "" {
		opts = append(opts, tokenvault.WithGateway(phonepe.New(c.PhonePe)))
	}
	if c.Razorpay.KeyID != "" {
		opts = append(opts, tokenvault.WithGateway(razorpay.New(c.Razorpay)))
	}
	if c.DisableMigrate {
		opts = append(opts, tokenvault.WithoutMigrate())
	}
	return opts, nil
}

// OpenStore builds the configured store backend.
func (c StoreConfig) OpenStore() (store.Store, error) {
	switch c.Driver {
	case "", DriverMemory:
		return memory.New(), nil
	case sqlstore.DriverSQLite, sqlstore.DriverPostgres:
		if c.DSN == "" {
			return nil, fmt.Errorf("tokenvault: store %s needs a dsn", c.Driver)
		}
		return sqlstore.Open(c.Driver, c.DSN)
	default:
		return nil, fmt.Errorf("tokenvault: unsupported store driver %q", c.Driver)
	}
}
