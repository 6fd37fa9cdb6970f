package main

import (
	"github.com/spf13/cobra"

	"github.com/xraph/tokenvault"
	"github.com/xraph/tokenvault/plan"
	"github.com/xraph/tokenvault/types"
)

func newPlanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Manage subscription plans",
	}
	cmd.AddCommand(newPlanCreateCmd(a), newPlanListCmd(a))
	return cmd
}

func newPlanCreateCmd(a *app) *cobra.Command {
	var (
		p          plan.Plan
		price      int64
		commission int64
		currency   string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a subscription plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p.Price = types.Money{Amount: price, Currency: currency}
			p.ReferralCommission = types.Money{Amount: commission, Currency: currency}
			return a.withVault(cmd, func(v *tokenvault.Vault) error {
				if err := v.CreatePlan(cmd.Context(), &p); err != nil {
					return err
				}
				return writeJSON(cmd, &p)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&p.Name, "name", "", "Plan name")
	f.StringVar(&p.Slug, "slug", "", "Plan slug (default: derived from name)")
	f.StringVar(&p.Description, "description", "", "Plan description")
	f.Int64Var(&price, "price", 0, "Price in minor units (paise)")
	f.StringVar(&currency, "currency", types.DefaultCurrency, "ISO 4217 currency")
	f.IntVar(&p.DurationDays, "days", 30, "Window length in days")
	f.Int64Var(&p.DailyTokenQuota, "daily", 0, "Daily token quota")
	f.Int64Var(&p.BonusTokenAmount, "bonus", 0, "Bonus tokens granted on activation")
	f.Int64Var(&commission, "commission", 0, "Referral commission in minor units")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newPlanListCmd(a *app) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List subscription plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withVault(cmd, func(v *tokenvault.Vault) error {
				plans, err := v.ListPlans(cmd.Context(), plan.ListOpts{Status: plan.Status(status)})
				if err != nil {
					return err
				}
				return writeJSON(cmd, plans)
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	return cmd
}

func newPackageCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "package",
		Short: "Manage token packages",
	}
	cmd.AddCommand(newPackageCreateCmd(a))
	return cmd
}

func newPackageCreateCmd(a *app) *cobra.Command {
	var (
		p        plan.Package
		price    int64
		currency string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a token package",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p.Price = types.Money{Amount: price, Currency: currency}
			return a.withVault(cmd, func(v *tokenvault.Vault) error {
				if err := v.CreatePackage(cmd.Context(), &p); err != nil {
					return err
				}
				return writeJSON(cmd, &p)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&p.Name, "name", "", "Package name")
	f.Int64Var(&p.Tokens, "tokens", 0, "Tokens credited to the purchased bucket")
	f.Int64Var(&price, "price", 0, "Price in minor units (paise)")
	f.StringVar(&currency, "currency", types.DefaultCurrency, "ISO 4217 currency")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}
