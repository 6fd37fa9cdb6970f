package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	a := &app{viper: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "tokenvault",
		Short:         "Token ledger and subscription engine",
		Long:          "tokenvault serves gateway webhooks and checkout over HTTP and runs the daily refresh, expiry sweep and payment reconciliation jobs.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Config file (yaml, json or toml)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "text", "Log format: text or json")
	flags.String("store-driver", "", "Store driver: memory, sqlite or postgres")
	flags.String("store-dsn", "", "Store DSN")

	for key, flag := range map[string]string{
		"log.level":    "log-level",
		"log.format":   "log-format",
		"store.driver": "store-driver",
		"store.dsn":    "store-dsn",
	} {
		_ = a.viper.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newRefreshCmd(a),
		newExpireCmd(a),
		newReconcileCmd(a),
		newPlanCmd(a),
		newPackageCmd(a),
		newAccountCmd(a),
		newBalanceCmd(a),
	)

	return rootCmd
}
