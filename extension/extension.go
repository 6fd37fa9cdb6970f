// Package extension provides the Forge extension adapter for tokenvault.
//
// It implements the forge.Extension interface to integrate the token vault
// into a Forge application with DI registration and lifecycle management.
// The engine and its HTTP handler are provided to the container; mounting
// the handler is left to the host application.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.tokenvault" or
// "tokenvault" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/tokenvault"
	"github.com/xraph/tokenvault/api"
	"github.com/xraph/tokenvault/store"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "tokenvault"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Token ledger and subscription engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts tokenvault as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config    Config
	vault     *tokenvault.Vault
	store     store.Store
	vaultOpts []tokenvault.Option
}

// New creates a new tokenvault Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Vault returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Vault() *tokenvault.Vault { return e.vault }

// Config returns the resolved configuration.
func (e *Extension) Config() Config { return e.config }

// Register implements [forge.Extension]. It loads configuration,
// builds the engine, and registers it and its HTTP handler in the DI
// container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if err := e.build(); err != nil {
		return err
	}

	if err := vessel.Provide(fapp.Container(), func() (*tokenvault.Vault, error) {
		return e.vault, nil
	}); err != nil {
		return err
	}
	return vessel.Provide(fapp.Container(), func() (*api.Handler, error) {
		return api.New(e.vault), nil
	})
}

// build opens the store when none was supplied and constructs the engine.
func (e *Extension) build() error {
	if e.store == nil {
		s, err := e.config.Store.OpenStore()
		if err != nil {
			return err
		}
		e.store = s
	}

	opts, err := e.config.VaultOptions()
	if err != nil {
		return err
	}
	opts = append(opts, e.vaultOpts...)

	e.vault = tokenvault.New(e.store, opts...)
	return nil
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.vault == nil {
		return errors.New("tokenvault: extension not initialized")
	}

	if err := e.vault.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.vault != nil {
		if err := e.vault.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("tokenvault: store not initialized")
	}
	return e.store.Ping(ctx)
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("tokenvault: configuration is required but not found in config files; " +
				"ensure 'extensions.tokenvault' or 'tokenvault' key exists in your config")
		}
		e.config = programmaticConfig.WithDefaults()
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("tokenvault: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("store_driver", e.config.Store.Driver),
		forge.F("timezone", e.config.Timezone),
		forge.F("carry_over", e.config.CarryOver),
		forge.F("maintenance_interval", e.config.MaintenanceInterval),
		forge.F("phonepe", e.config.PhonePe.ClientID != ""),
		forge.F("razorpay", e.config.Razorpay.KeyID != ""),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.tokenvault", "tokenvault"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("tokenvault: failed to bind config",
				forge.F("key", key),
				forge.F("error", fmt.Sprint(err)),
			)
			continue
		}
		e.Logger().Debug("tokenvault: loaded config from file",
			forge.F("key", key),
		)
		return cfg, true
	}

	return Config{}, false
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if yamlConfig.Store.Driver == "" {
		yamlConfig.Store = programmaticConfig.Store
	}
	if yamlConfig.Timezone == "" {
		yamlConfig.Timezone = programmaticConfig.Timezone
	}
	if yamlConfig.CarryOver == "" {
		yamlConfig.CarryOver = programmaticConfig.CarryOver
	}
	if len(yamlConfig.Milestones) == 0 {
		yamlConfig.Milestones = programmaticConfig.Milestones
	}
	if yamlConfig.MaintenanceInterval == 0 {
		yamlConfig.MaintenanceInterval = programmaticConfig.MaintenanceInterval
	}
	if yamlConfig.PrizeHistoryRetention == 0 {
		yamlConfig.PrizeHistoryRetention = programmaticConfig.PrizeHistoryRetention
	}
	if yamlConfig.PhonePe.ClientID == "" {
		yamlConfig.PhonePe = programmaticConfig.PhonePe
	}
	if yamlConfig.Razorpay.KeyID == "" {
		yamlConfig.Razorpay = programmaticConfig.Razorpay
	}

	return yamlConfig.WithDefaults()
}
