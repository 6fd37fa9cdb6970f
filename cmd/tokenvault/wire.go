package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xraph/tokenvault"
	"github.com/xraph/tokenvault/extension"
)

// app carries what every command needs once flags and config are parsed.
type app struct {
	viper      *viper.Viper
	configFile string
	cfg        extension.Config
	logger     *slog.Logger
}

// configKeys are bound to TOKENVAULT_* variables so they reach Unmarshal
// even when no config file mentions them.
var configKeys = []string{
	"disable_migrate",
	"store.driver", "store.dsn",
	"timezone", "carry_over",
	"retry_attempts", "retry_initial",
	"webhook_timeout", "prize_history_retention",
	"maintenance_interval", "reconcile_after", "batch_size",
	"phonepe.base_url", "phonepe.auth_url", "phonepe.client_id", "phonepe.client_secret",
	"phonepe.client_version", "phonepe.webhook_username", "phonepe.webhook_password",
	"phonepe.redirect_url", "phonepe.expire_after",
	"razorpay.base_url", "razorpay.key_id", "razorpay.key_secret", "razorpay.webhook_secret",
	"http.addr", "http.base_path",
}

// load reads the config file and environment into a.cfg and builds the
// logger.
func (a *app) load(_ *cobra.Command) error {
	v := a.viper
	v.SetEnvPrefix("TOKENVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := extension.DefaultConfig()
	for _, key := range configKeys {
		_ = v.BindEnv(key)
	}
	v.SetDefault("store.driver", defaults.Store.Driver)
	v.SetDefault("timezone", defaults.Timezone)
	v.SetDefault("carry_over", defaults.CarryOver)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.base_path", "/")

	if a.configFile != "" {
		v.SetConfigFile(a.configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", a.configFile, err)
		}
	}

	var cfg extension.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	a.cfg = cfg.WithDefaults()

	logger, err := newLogger(v.GetString("log.level"), v.GetString("log.format"))
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("log format %q: want text or json", format)
	}
}

// open builds and starts a vault for a one-shot command. Background
// maintenance stays off; the caller stops the vault.
func (a *app) open(ctx context.Context, extra ...tokenvault.Option) (*tokenvault.Vault, error) {
	cfg := a.cfg
	cfg.MaintenanceInterval = 0
	return a.openWith(ctx, cfg, extra...)
}

func (a *app) openWith(ctx context.Context, cfg extension.Config, extra ...tokenvault.Option) (*tokenvault.Vault, error) {
	s, err := cfg.Store.OpenStore()
	if err != nil {
		return nil, err
	}
	opts, err := cfg.VaultOptions()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	opts = append(opts, tokenvault.WithLogger(a.logger))
	opts = append(opts, extra...)

	v := tokenvault.New(s, opts...)
	if err := v.Start(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return v, nil
}

// withVault runs fn against a started vault and stops it afterwards.
func (a *app) withVault(cmd *cobra.Command, fn func(v *tokenvault.Vault) error) (err error) {
	v, err := a.open(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if stopErr := v.Stop(); err == nil {
			err = stopErr
		}
	}()
	return fn(v)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
