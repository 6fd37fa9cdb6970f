package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/tokenvault"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the store schema and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Start migrates unless disable_migrate is set; force it here.
			cfg := a.cfg
			cfg.DisableMigrate = false
			cfg.MaintenanceInterval = 0
			v, err := a.openWith(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if err := v.Stop(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "migrated %s store\n", cfg.Store.Driver)
			return err
		},
	}
}

func newRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reset the daily bucket of every active account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withVault(cmd, func(v *tokenvault.Vault) error {
				n, err := v.RefreshDaily(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "refreshed %d accounts\n", n)
				return err
			})
		},
	}
}

func newExpireCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Zero the buckets of every lapsed subscription",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withVault(cmd, func(v *tokenvault.Vault) error {
				n, err := v.ExpireLapsed(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "expired %d accounts\n", n)
				return err
			})
		},
	}
}

func newReconcileCmd(a *app) *cobra.Command {
	var (
		olderThan time.Duration
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Poll the gateways for pending orders and token purchases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withVault(cmd, func(v *tokenvault.Vault) error {
				rep, err := v.ReconcilePending(cmd.Context(), olderThan)
				if asJSON {
					if encErr := writeJSON(cmd, rep); encErr != nil {
						return encErr
					}
				} else {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(),
						"checked %d: completed %d, failed %d, pending %d, refund required %d, errors %d\n",
						rep.Checked, rep.Completed, rep.Failed, rep.Pending, rep.RefundRequired, rep.Errors)
				}
				return err
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 15*time.Minute, "Only poll payments created before now minus this")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}
