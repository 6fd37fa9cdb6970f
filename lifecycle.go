package tokenvault

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/plan"
	"github.com/xraph/tokenvault/store"
	"github.com/xraph/tokenvault/txn"
)

// Activate opens a window of planID on the account, outside the payment
// flow. A call on an account with an open window is a renewal.
func (v *Vault) Activate(ctx context.Context, accountID id.AccountID, planID id.PlanID) (act *account.Activation, err error) {
	ctx, span := v.startSpan(ctx, "Activate",
		attribute.String("account_id", accountID.String()),
		attribute.String("plan_id", planID.String()),
	)
	defer func() { endSpan(span, err) }()

	var (
		a *account.Account
		p *plan.Plan
	)
	err = v.atomic(ctx, "activate", func(ctx context.Context, tx store.Store) error {
		var err error
		if p, err = tx.GetPlan(ctx, planID); err != nil {
			return err
		}
		if a, err = tx.GetAccount(ctx, accountID); err != nil {
			return err
		}
		res, err := v.activateInTx(ctx, tx, a, p, false)
		act = &res
		return err
	})
	if err != nil {
		return nil, err
	}

	v.afterActivation(ctx, a, p, *act)
	return act, nil
}

// Renew restarts the account's current plan from now.
func (v *Vault) Renew(ctx context.Context, accountID id.AccountID) (*account.Activation, error) {
	a, err := v.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a.Subscription.PlanID.IsNil() {
		return nil, ErrNoActiveSubscription
	}
	return v.Activate(ctx, accountID, a.Subscription.PlanID)
}

// activateInTx applies p to a and persists it together with the bonus
// transaction. create is set for accounts not stored yet.
func (v *Vault) activateInTx(ctx context.Context, tx store.Store, a *account.Account, p *plan.Plan, create bool) (account.Activation, error) {
	now := v.clock()
	before := a.Total(now)
	act := a.Activate(p, now, v.carryOver)

	write := tx.UpdateAccount
	if create {
		write = tx.CreateAccount
	}
	if err := write(ctx, a); err != nil {
		return act, err
	}

	if act.BonusGranted > 0 {
		t := txn.NewSettled(a.ID, txn.TypeBonus, act.BonusGranted, before, a.Total(now), now)
		t.ExpiresAt = a.Subscription.EndDate
		if err := tx.CreateTransaction(ctx, t); err != nil {
			return act, fmt.Errorf("record bonus: %w", err)
		}
	}
	return act, nil
}

func (v *Vault) afterActivation(ctx context.Context, a *account.Account, p *plan.Plan, act account.Activation) {
	v.logger.Info("subscription activated",
		"account_id", a.ID.String(),
		"plan_id", p.ID.String(),
		"renewal", act.Renewal,
		"bonus", act.BonusGranted,
		"forfeited", act.Forfeited,
		"end_date", a.Subscription.EndDate,
	)
	v.plugins.EmitSubscriptionActivated(ctx, a, p, act.Renewal)
	if act.BonusGranted > 0 {
		v.plugins.EmitTokensCredited(ctx, a.ID, BucketBonus, act.BonusGranted)
	}
}

// ──────────────────────────────────────────────────
// Batch jobs
// ──────────────────────────────────────────────────

// RefreshDaily refills the daily bucket of every account with an open
// window that has not been refilled today. Running it twice on one day
// changes nothing. It returns the number of refreshed accounts.
func (v *Vault) RefreshDaily(ctx context.Context) (n int, err error) {
	ctx, span := v.startSpan(ctx, "RefreshDaily")
	defer func() { endSpan(span, err) }()

	start := time.Now()
	var errs MultiError

	err = v.eachAccount(ctx, account.ListOpts{ActiveAt: v.clock()}, func(a *account.Account) {
		_, changed, err := v.mutateAccount(ctx, "refresh_daily", a.ID, func(a *account.Account) (bool, error) {
			now := v.clock()
			refreshed := a.RefreshDaily(now, v.location)
			pruned := 0
			if v.prizeHistoryRetention > 0 {
				pruned = a.PrunePrizeHistory(now.Add(-v.prizeHistoryRetention))
			}
			return refreshed || pruned > 0, nil
		})
		if err != nil {
			errs.Add(fmt.Errorf("refresh %s: %w", a.ID, err))
			return
		}
		if changed {
			n++
		}
	})
	if err != nil {
		return n, err
	}

	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int("refreshed", n))
	v.logger.Info("daily refresh complete",
		"refreshed", n,
		"failed", len(errs.Errors),
		"elapsed", elapsed,
	)
	v.plugins.EmitDailyRefresh(ctx, n, elapsed)

	return n, errs.ErrOrNil()
}

// ExpireLapsed zeroes every bucket of accounts whose window has closed and
// records an expiry transaction for the tokens that died. It returns the
// number of accounts changed.
func (v *Vault) ExpireLapsed(ctx context.Context) (n int, err error) {
	ctx, span := v.startSpan(ctx, "ExpireLapsed")
	defer func() { endSpan(span, err) }()

	var errs MultiError

	err = v.eachAccount(ctx, account.ListOpts{LapsedAt: v.clock()}, func(a *account.Account) {
		var (
			expired int64
			changed bool
			stored  *account.Account
		)
		err := v.atomic(ctx, "expire", func(ctx context.Context, tx store.Store) error {
			var err error
			if stored, err = tx.GetAccount(ctx, a.ID); err != nil {
				return err
			}
			now := v.clock()
			expired, changed = stored.Expire(now)
			if !changed {
				return nil
			}
			if err := tx.UpdateAccount(ctx, stored); err != nil {
				return err
			}
			if expired == 0 {
				return nil
			}
			t := txn.NewSettled(stored.ID, txn.TypeExpiry, expired, expired, 0, now)
			t.ExpiresAt = stored.Subscription.EndDate
			return tx.CreateTransaction(ctx, t)
		})
		if err != nil {
			errs.Add(fmt.Errorf("expire %s: %w", a.ID, err))
			return
		}
		if !changed {
			return
		}
		n++
		v.logger.Info("subscription expired",
			"account_id", stored.ID.String(),
			"expired_tokens", expired,
			"end_date", stored.Subscription.EndDate,
		)
		v.plugins.EmitSubscriptionExpired(ctx, stored, expired)
	})
	if err != nil {
		return n, err
	}

	span.SetAttributes(attribute.Int("expired", n))
	return n, errs.ErrOrNil()
}

// eachAccount pages through accounts matching opts. Per-account failures
// are the callback's business; only listing errors stop the scan.
func (v *Vault) eachAccount(ctx context.Context, opts account.ListOpts, fn func(a *account.Account)) error {
	opts.Limit = v.batchSize
	for opts.Offset = 0; ; opts.Offset += v.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := v.store.ListAccounts(ctx, opts)
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		for _, a := range page {
			fn(a)
		}
		if len(page) < v.batchSize {
			return nil
		}
	}
}
