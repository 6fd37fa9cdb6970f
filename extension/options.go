package extension

import (
	"time"

	"github.com/xraph/tokenvault"
	"github.com/xraph/tokenvault/plugin"
	"github.com/xraph/tokenvault/store"
)

// Option configures the tokenvault Forge extension.
type Option func(*Extension)

// WithStore sets the store for the engine. It takes precedence over the
// configured store driver.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithVaultOption passes a tokenvault.Option through to the underlying engine.
func WithVaultOption(opt tokenvault.Option) Option {
	return func(e *Extension) {
		e.vaultOpts = append(e.vaultOpts, opt)
	}
}

// WithPlugin registers a tokenvault plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.vaultOpts = append(e.vaultOpts, tokenvault.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithTimezone sets the zone whose calendar day drives the daily refresh.
func WithTimezone(name string) Option {
	return func(e *Extension) { e.config.Timezone = name }
}

// WithCarryOver sets the renewal carry-over policy.
func WithCarryOver(policy string) Option {
	return func(e *Extension) { e.config.CarryOver = policy }
}

// WithMaintenance runs the background maintenance worker every interval.
func WithMaintenance(interval time.Duration) Option {
	return func(e *Extension) { e.config.MaintenanceInterval = interval }
}

// WithStoreDriver selects the store backend built when WithStore is not used.
func WithStoreDriver(driver, dsn string) Option {
	return func(e *Extension) { e.config.Store = StoreConfig{Driver: driver, DSN: dsn} }
}
