package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/tokenvault"
	"github.com/xraph/tokenvault/id"
)

func newAccountCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}
	cmd.AddCommand(
		newAccountCreateCmd(a),
		newAccountActivateCmd(a),
		newAccountGrantCmd(a),
	)
	return cmd
}

func newAccountCreateCmd(a *app) *cobra.Command {
	var in tokenvault.NewAccount

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withVault(cmd, func(v *tokenvault.Vault) error {
				acct, err := v.CreateAccount(cmd.Context(), in)
				if err != nil {
					return err
				}
				return writeJSON(cmd, acct)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&in.Email, "email", "", "Email address")
	f.StringVar(&in.Name, "name", "", "Display name")
	f.StringVar(&in.Password, "password", "", "Initial password")
	f.StringVar(&in.ReferralCode, "referral-code", "", "Referral code of the referring account")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newAccountActivateCmd(a *app) *cobra.Command {
	var accountRef, planRef string

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate or renew a plan outside the payment flow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withVault(cmd, func(v *tokenvault.Vault) error {
				accountID, err := resolveAccount(cmd, v, accountRef)
				if err != nil {
					return err
				}
				planID, err := id.ParsePlanID(planRef)
				if err != nil {
					p, slugErr := v.GetPlanBySlug(cmd.Context(), planRef)
					if slugErr != nil {
						return fmt.Errorf("plan %q: %w", planRef, slugErr)
					}
					planID = p.ID
				}
				act, err := v.Activate(cmd.Context(), accountID, planID)
				if err != nil {
					return err
				}
				return writeJSON(cmd, act)
			})
		},
	}

	cmd.Flags().StringVar(&accountRef, "account", "", "Account id or email")
	cmd.Flags().StringVar(&planRef, "plan", "", "Plan id or slug")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("plan")

	return cmd
}

func newAccountGrantCmd(a *app) *cobra.Command {
	var (
		accountRef string
		bucket     string
		amount     int64
		prizeType  string
		grantedBy  string
	)

	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Credit bonus, purchased or prize tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withVault(cmd, func(v *tokenvault.Vault) error {
				accountID, err := resolveAccount(cmd, v, accountRef)
				if err != nil {
					return err
				}
				switch bucket {
				case tokenvault.BucketBonus:
					_, err = v.GrantBonusTokens(cmd.Context(), accountID, amount)
				case tokenvault.BucketPurchased:
					_, err = v.AddPurchasedTokens(cmd.Context(), accountID, amount, "cli")
				case tokenvault.BucketPrize:
					err = v.GrantPrizeTokens(cmd.Context(), accountID, amount, prizeType, grantedBy)
				default:
					return fmt.Errorf("unknown bucket %q: want bonus, purchased or prize", bucket)
				}
				if err != nil {
					return err
				}
				b, err := v.Balance(cmd.Context(), accountID)
				if err != nil {
					return err
				}
				return writeJSON(cmd, b)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&accountRef, "account", "", "Account id or email")
	f.StringVar(&bucket, "bucket", tokenvault.BucketPrize, "Bucket: bonus, purchased or prize")
	f.Int64Var(&amount, "amount", 0, "Tokens to credit")
	f.StringVar(&prizeType, "prize-type", "manual", "Prize type recorded in the grant history")
	f.StringVar(&grantedBy, "granted-by", "cli", "Who granted the prize")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func newBalanceCmd(a *app) *cobra.Command {
	var accountRef string

	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the per-bucket balance of an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withVault(cmd, func(v *tokenvault.Vault) error {
				accountID, err := resolveAccount(cmd, v, accountRef)
				if err != nil {
					return err
				}
				b, err := v.Balance(cmd.Context(), accountID)
				if err != nil {
					return err
				}
				return writeJSON(cmd, b)
			})
		},
	}

	cmd.Flags().StringVar(&accountRef, "account", "", "Account id or email")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

// resolveAccount accepts an account id or an email address.
func resolveAccount(cmd *cobra.Command, v *tokenvault.Vault, ref string) (id.AccountID, error) {
	if accountID, err := id.ParseAccountID(ref); err == nil {
		return accountID, nil
	}
	acct, err := v.GetAccountByEmail(cmd.Context(), ref)
	if err != nil {
		return id.Nil, fmt.Errorf("account %q: %w", ref, err)
	}
	return acct.ID, nil
}
