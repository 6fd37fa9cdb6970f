package tokenvault

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/store"
	"github.com/xraph/tokenvault/txn"
)

// Credit buckets reported to plugins.
const (
	BucketPurchased = "purchased"
	BucketBonus     = "bonus"
	BucketPrize     = "prize"
)

// DeductResult is the outcome of a successful deduction.
type DeductResult struct {
	Breakdown        account.Deduction `json:"breakdown"`
	RemainingBalance int64             `json:"remaining_balance"`
}

// Balance returns the effective per-bucket balance at the current time.
// Buckets of a lapsed account read as zero even before the expiry sweep
// has written them down.
func (v *Vault) Balance(ctx context.Context, accountID id.AccountID) (*account.Breakdown, error) {
	a, err := v.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	b := a.Breakdown(v.clock())
	return &b, nil
}

// Deduct consumes amount tokens in the order daily, purchased, bonus,
// prize. It either takes the whole amount or changes nothing.
func (v *Vault) Deduct(ctx context.Context, accountID id.AccountID, amount int64, reason string) (res *DeductResult, err error) {
	ctx, span := v.startSpan(ctx, "Deduct",
		attribute.String("account_id", accountID.String()),
		attribute.Int64("amount", amount),
	)
	defer func() { endSpan(span, err) }()

	if amount <= 0 {
		return nil, ValidationError{Field: "amount", Message: "must be positive"}
	}

	var d account.Deduction
	a, _, err := v.mutateAccount(ctx, "deduct", accountID, func(a *account.Account) (bool, error) {
		var err error
		d, err = a.Deduct(amount, v.clock())
		return err == nil, err
	})
	if err != nil {
		if IsBalanceError(err) {
			v.logger.Debug("deduction refused",
				"account_id", accountID.String(),
				"amount", amount,
				"error", err,
			)
		}
		return nil, err
	}

	remaining := a.Total(v.clock())
	v.logger.Debug("tokens deducted",
		"account_id", accountID.String(),
		"amount", amount,
		"reason", strings.TrimSpace(reason),
		"daily", d.Daily,
		"purchased", d.Purchased,
		"bonus", d.Bonus,
		"prize", d.Prize,
		"remaining", remaining,
	)
	v.plugins.EmitTokensDeducted(ctx, accountID, d, remaining)

	return &DeductResult{Breakdown: d, RemainingBalance: remaining}, nil
}

// ──────────────────────────────────────────────────
// Credits
// ──────────────────────────────────────────────────

// AddPurchasedTokens credits the purchased bucket outside the payment
// flow and records a completed purchase transaction tagged with ref.
func (v *Vault) AddPurchasedTokens(ctx context.Context, accountID id.AccountID, amount int64, ref string) (*txn.Transaction, error) {
	return v.credit(ctx, accountID, BucketPurchased, amount, ref, func(a *account.Account) error {
		return a.AddPurchased(amount, v.clock())
	})
}

// GrantBonusTokens adds to the bonus bucket and records a bonus transaction.
func (v *Vault) GrantBonusTokens(ctx context.Context, accountID id.AccountID, amount int64) (*txn.Transaction, error) {
	return v.credit(ctx, accountID, BucketBonus, amount, "", func(a *account.Account) error {
		return a.GrantBonus(amount, v.clock())
	})
}

// GrantPrizeTokens adds to the prize bucket. The grant is recorded in the
// account's prize history rather than as a transaction.
func (v *Vault) GrantPrizeTokens(ctx context.Context, accountID id.AccountID, amount int64, prizeType, grantedBy string) error {
	if prizeType == "" {
		return ValidationError{Field: "prize_type", Message: "is required"}
	}
	_, err := v.credit(ctx, accountID, BucketPrize, amount, "", func(a *account.Account) error {
		return a.GrantPrize(amount, prizeType, grantedBy, v.clock())
	})
	return err
}

func (v *Vault) credit(ctx context.Context, accountID id.AccountID, bucket string, amount int64, ref string, apply func(a *account.Account) error) (t *txn.Transaction, err error) {
	ctx, span := v.startSpan(ctx, "Credit",
		attribute.String("account_id", accountID.String()),
		attribute.String("bucket", bucket),
		attribute.Int64("amount", amount),
	)
	defer func() { endSpan(span, err) }()

	if amount <= 0 {
		return nil, ValidationError{Field: "amount", Message: "must be positive"}
	}

	err = v.atomic(ctx, "credit_"+bucket, func(ctx context.Context, tx store.Store) error {
		t = nil
		a, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		now := v.clock()
		before := a.Total(now)
		if err := apply(a); err != nil {
			return err
		}
		if err := tx.UpdateAccount(ctx, a); err != nil {
			return err
		}

		switch bucket {
		case BucketPurchased:
			t = txn.NewSettled(a.ID, txn.TypePurchase, amount, before, a.Total(now), now)
			t.ProviderTransactionID = ref
			t.ExpiresAt = a.Subscription.EndDate
		case BucketBonus:
			t = txn.NewSettled(a.ID, txn.TypeBonus, amount, before, a.Total(now), now)
			t.ExpiresAt = a.Subscription.EndDate
		default:
			return nil
		}
		return tx.CreateTransaction(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	v.logger.Info("tokens credited",
		"account_id", accountID.String(),
		"bucket", bucket,
		"amount", amount,
	)
	v.plugins.EmitTokensCredited(ctx, accountID, bucket, amount)

	return t, nil
}
