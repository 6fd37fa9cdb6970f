package tokenvault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/order"
	"github.com/xraph/tokenvault/payment"
	"github.com/xraph/tokenvault/plan"
	"github.com/xraph/tokenvault/referral"
	"github.com/xraph/tokenvault/store"
	"github.com/xraph/tokenvault/txn"
	"github.com/xraph/tokenvault/types"
)

// Outcome reports what ProcessEvent did with one payment event.
type Outcome struct {
	Reference   string        `json:"reference"`
	PaymentType payment.Type  `json:"payment_type"`
	State       payment.State `json:"state"`
	AccountID   id.AccountID  `json:"account_id,omitempty"`
	// AlreadyProcessed is set when the order or transaction was already
	// terminal. Nothing was changed.
	AlreadyProcessed bool                `json:"already_processed"`
	AccountCreated   bool                `json:"account_created"`
	Activation       *account.Activation `json:"activation,omitempty"`
	TokensCredited   int64               `json:"tokens_credited,omitempty"`
	// RefundRequired is set when a token purchase was captured after the
	// buyer's plan lapsed. Nothing was credited.
	RefundRequired   bool                `json:"refund_required,omitempty"`
	ReferrerID       id.AccountID        `json:"referrer_id,omitempty"`
	Referral         *referral.Result    `json:"referral,omitempty"`
}

// ProcessEvent applies a normalized payment event. Completion of a
// subscription order activates the plan, creating the account for guest
// checkouts; completion of a token purchase credits the purchased bucket.
// Either path then runs the referral engine for referred accounts. Every
// write of one event commits as a unit. Events for orders or transactions
// that are already terminal are acknowledged without any change.
func (v *Vault) ProcessEvent(ctx context.Context, ev *payment.Event) (out *Outcome, err error) {
	if ev == nil {
		return nil, ErrMalformedPayload
	}

	ctx, span := v.startSpan(ctx, "ProcessEvent",
		attribute.String("provider", string(ev.Provider)),
		attribute.String("reference", ev.Reference()),
		attribute.String("state", string(ev.State)),
	)
	defer func() { endSpan(span, err) }()

	typ, err := v.paymentType(ctx, ev)
	if err != nil {
		v.logger.Warn("payment event matches no record",
			"provider", ev.Provider,
			"reference", ev.Reference(),
			"provider_order_id", ev.ProviderOrderID,
		)
		return nil, err
	}

	if typ == payment.TypeToken {
		return v.settleTransaction(ctx, ev)
	}
	return v.settleOrder(ctx, ev)
}

// paymentType routes an event. The local reference prefix wins; the type
// echoed in gateway metadata comes next; the gateway's own order id is the
// last resort.
func (v *Vault) paymentType(ctx context.Context, ev *payment.Event) (payment.Type, error) {
	switch id.PrefixOf(ev.Reference()) {
	case id.PrefixOrder:
		return payment.TypeSubscription, nil
	case id.PrefixTransaction:
		return payment.TypeToken, nil
	}

	if ev.PaymentType == payment.TypeSubscription || ev.PaymentType == payment.TypeToken {
		return ev.PaymentType, nil
	}

	if ev.ProviderOrderID != "" {
		if _, err := v.store.GetOrderByProviderOrderID(ctx, string(ev.Provider), ev.ProviderOrderID); err == nil {
			return payment.TypeSubscription, nil
		}
		if _, err := v.store.GetTransactionByProviderOrderID(ctx, string(ev.Provider), ev.ProviderOrderID); err == nil {
			return payment.TypeToken, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownReference, ev.Reference())
}

// ──────────────────────────────────────────────────
// Subscription orders
// ──────────────────────────────────────────────────

func (v *Vault) settleOrder(ctx context.Context, ev *payment.Event) (*Outcome, error) {
	out := &Outcome{PaymentType: payment.TypeSubscription, State: ev.State}

	var (
		a       *account.Account
		p       *plan.Plan
		created bool
		act     account.Activation
		ref     referral.Result
	)

	err := v.atomic(ctx, "settle_order", func(ctx context.Context, tx store.Store) error {
		created, ref, out.ReferrerID = false, referral.Result{}, id.Nil

		o, err := loadOrder(ctx, tx, ev)
		if err != nil {
			return err
		}
		out.Reference = o.ID.String()
		out.AccountID = o.AccountID
		if err := matchRecord(ev, o.Provider, o.ProviderOrderID, out.Reference); err != nil {
			return err
		}
		if o.Status.Terminal() {
			return ErrAlreadyProcessed
		}

		now := v.clock()
		switch ev.State {
		case payment.StateFailed:
			if err := o.Fail(ev.FailureReason, now); err != nil {
				return err
			}
			return tx.UpdateOrder(ctx, o)

		case payment.StateCompleted:
			if p, err = tx.GetPlan(ctx, o.PlanID); err != nil {
				if IsNotFound(err) {
					return fmt.Errorf("%w: order %s references missing plan %s", ErrInternalInconsistency, o.ID, o.PlanID)
				}
				return err
			}
			v.checkAmount(ev, o.Amount, out.Reference)

			if a, created, err = v.accountForOrder(ctx, tx, o, now); err != nil {
				return err
			}
			if act, err = v.activateInTx(ctx, tx, a, p, created); err != nil {
				return err
			}

			o.AccountID = a.ID
			if o.ProviderOrderID == "" {
				o.ProviderOrderID = ev.ProviderOrderID
			}
			if err := o.Complete(ev.TransactionID, ev.PaymentMode, now); err != nil {
				return err
			}
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
			out.AccountID = a.ID

			ref, out.ReferrerID, err = v.referralInTx(ctx, tx, a, p.ReferralCommission)
			return err

		default:
			return nil
		}
	}, ErrAlreadyExists)

	return v.finishSettlement(ctx, ev, out, err, func() {
		out.AccountCreated = created
		out.Activation = &act
		if created {
			v.plugins.EmitAccountCreated(ctx, a)
		}
		v.afterActivation(ctx, a, p, act)
		v.afterReferral(ctx, out, ref)
	})
}

func loadOrder(ctx context.Context, tx store.Store, ev *payment.Event) (*order.Order, error) {
	var (
		o   *order.Order
		err error
	)
	if ref := ev.Reference(); id.PrefixOf(ref) == id.PrefixOrder {
		oid, perr := id.ParseOrderID(ref)
		if perr != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnknownReference, perr)
		}
		o, err = tx.GetOrder(ctx, oid)
	} else if ev.ProviderOrderID != "" {
		o, err = tx.GetOrderByProviderOrderID(ctx, string(ev.Provider), ev.ProviderOrderID)
	} else {
		return nil, fmt.Errorf("%w: event carries no order reference", ErrUnknownReference)
	}
	if errors.Is(err, ErrOrderNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrUnknownReference, err)
	}
	return o, err
}

// accountForOrder resolves the buyer, creating an account for a guest
// checkout. A concurrent guest completion for the same email makes the
// create fail with ErrAlreadyExists, which restarts the unit and then
// finds the account by email.
func (v *Vault) accountForOrder(ctx context.Context, tx store.Store, o *order.Order, now time.Time) (*account.Account, bool, error) {
	if !o.AccountID.IsNil() {
		a, err := tx.GetAccount(ctx, o.AccountID)
		if err == nil {
			return a, false, nil
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, false, err
		}
	}

	a, err := tx.GetAccountByEmail(ctx, o.AccountEmail)
	if err == nil {
		return a, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, false, err
	}

	v.logger.Info("creating account for guest checkout",
		"order_id", o.ID.String(),
	)
	return account.New(o.AccountEmail, o.AccountName, now), true, nil
}

// ──────────────────────────────────────────────────
// Token purchases
// ──────────────────────────────────────────────────

func (v *Vault) settleTransaction(ctx context.Context, ev *payment.Event) (*Outcome, error) {
	out := &Outcome{PaymentType: payment.TypeToken, State: ev.State}

	var (
		t   *txn.Transaction
		ref referral.Result
	)

	err := v.atomic(ctx, "settle_transaction", func(ctx context.Context, tx store.Store) error {
		ref, out.ReferrerID, out.TokensCredited, out.RefundRequired = referral.Result{}, id.Nil, 0, false

		var err error
		if t, err = loadTransaction(ctx, tx, ev); err != nil {
			return err
		}
		out.Reference = t.ID.String()
		out.AccountID = t.AccountID
		if err := matchRecord(ev, t.Provider, t.ProviderOrderID, out.Reference); err != nil {
			return err
		}
		if t.Status.Terminal() {
			return ErrAlreadyProcessed
		}

		now := v.clock()
		switch ev.State {
		case payment.StateFailed:
			if err := t.Fail(ev.FailureReason, now); err != nil {
				return err
			}
			return tx.UpdateTransaction(ctx, t)

		case payment.StateCompleted:
			a, err := tx.GetAccount(ctx, t.AccountID)
			if err != nil {
				if IsNotFound(err) {
					return fmt.Errorf("%w: transaction %s references missing account %s", ErrInternalInconsistency, t.ID, t.AccountID)
				}
				return err
			}
			v.checkAmount(ev, t.Amount, out.Reference)

			if !a.PlanActive(now) {
				if err := t.RequireRefund(ev.TransactionID, ev.PaymentMode, refundReasonLapsed, now); err != nil {
					return err
				}
				out.RefundRequired = true
				return tx.UpdateTransaction(ctx, t)
			}

			before := a.Total(now)
			if err := a.AddPurchased(t.TokenAmount, now); err != nil {
				return err
			}
			if err := tx.UpdateAccount(ctx, a); err != nil {
				return err
			}

			if t.ProviderOrderID == "" {
				t.ProviderOrderID = ev.ProviderOrderID
			}
			if err := t.Complete(ev.TransactionID, ev.PaymentMode, before, a.Total(now), a.Subscription.EndDate, now); err != nil {
				return err
			}
			if err := tx.UpdateTransaction(ctx, t); err != nil {
				return err
			}
			out.TokensCredited = t.TokenAmount

			ref, out.ReferrerID, err = v.referralInTx(ctx, tx, a, types.Money{})
			return err

		default:
			return nil
		}
	})

	if err == nil && out.RefundRequired {
		v.logger.Error("token purchase paid without an active plan, refund required",
			"transaction_id", out.Reference,
			"account_id", out.AccountID.String(),
			"provider", ev.Provider,
			"provider_transaction_id", ev.TransactionID,
		)
		failed := *ev
		failed.FailureReason = refundReasonLapsed
		v.plugins.EmitPaymentFailed(ctx, &failed)
		return out, nil
	}

	return v.finishSettlement(ctx, ev, out, err, func() {
		v.plugins.EmitTokensCredited(ctx, out.AccountID, BucketPurchased, out.TokensCredited)
		v.afterReferral(ctx, out, ref)
	})
}

const refundReasonLapsed = "plan lapsed before payment, refund required"

func loadTransaction(ctx context.Context, tx store.Store, ev *payment.Event) (*txn.Transaction, error) {
	var (
		t   *txn.Transaction
		err error
	)
	if ref := ev.Reference(); id.PrefixOf(ref) == id.PrefixTransaction {
		tid, perr := id.ParseTransactionID(ref)
		if perr != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnknownReference, perr)
		}
		t, err = tx.GetTransaction(ctx, tid)
	} else if ev.ProviderOrderID != "" {
		t, err = tx.GetTransactionByProviderOrderID(ctx, string(ev.Provider), ev.ProviderOrderID)
	} else {
		return nil, fmt.Errorf("%w: event carries no transaction reference", ErrUnknownReference)
	}
	if errors.Is(err, ErrTransactionNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrUnknownReference, err)
	}
	return t, err
}

// ──────────────────────────────────────────────────
// Shared
// ──────────────────────────────────────────────────

// referralInTx runs the referral engine for a referred account inside the
// settlement unit. A missing referrer or referral entry is logged and
// skipped so the payment itself still settles.
func (v *Vault) referralInTx(ctx context.Context, tx store.Store, referred *account.Account, commission types.Money) (referral.Result, id.AccountID, error) {
	if referred.ReferredBy.IsNil() {
		return referral.Result{}, id.Nil, nil
	}

	referrer, err := tx.GetAccount(ctx, referred.ReferredBy)
	if err != nil {
		if IsNotFound(err) {
			v.logger.Warn("referrer not found",
				"account_id", referred.ID.String(),
				"referrer_id", referred.ReferredBy.String(),
			)
			return referral.Result{}, id.Nil, nil
		}
		return referral.Result{}, id.Nil, err
	}

	res, err := referral.Activate(referrer, referred, v.milestones, commission, v.clock())
	if errors.Is(err, ErrReferralNotFound) {
		v.logger.Warn("referred account missing from referrer list",
			"account_id", referred.ID.String(),
			"referrer_id", referrer.ID.String(),
		)
		return referral.Result{}, id.Nil, nil
	}
	if err != nil {
		return referral.Result{}, id.Nil, err
	}

	if res.Activated || res.Milestone != nil {
		if err := tx.UpdateAccount(ctx, referrer); err != nil {
			return referral.Result{}, id.Nil, err
		}
	}
	return res, referrer.ID, nil
}

func (v *Vault) afterReferral(ctx context.Context, out *Outcome, ref referral.Result) {
	if !ref.Activated && ref.Milestone == nil && !ref.Deferred {
		return
	}
	out.Referral = &ref

	if ref.Deferred {
		v.logger.Info("referral milestone deferred until referrer renews",
			"referrer_id", out.ReferrerID.String(),
			"active_referrals", ref.ActiveReferrals,
		)
	}
	if m := ref.Milestone; m != nil {
		v.logger.Info("referral milestone reached",
			"referrer_id", out.ReferrerID.String(),
			"target", m.Target,
			"reward", m.Reward,
		)
		v.plugins.EmitMilestoneReached(ctx, out.ReferrerID, m.Target, m.Reward)
		v.plugins.EmitTokensCredited(ctx, out.ReferrerID, BucketPrize, m.Reward)
	}
}

// finishSettlement turns the unit's error into the call result and, for
// committed terminal transitions, runs the post-commit hooks.
func (v *Vault) finishSettlement(ctx context.Context, ev *payment.Event, out *Outcome, err error, onCompleted func()) (*Outcome, error) {
	switch {
	case errors.Is(err, ErrAlreadyProcessed) || isTerminal(err):
		out.AlreadyProcessed = true
		v.logger.Info("payment already processed",
			"reference", out.Reference,
			"provider", ev.Provider,
			"state", ev.State,
		)
		return out, nil
	case err != nil:
		return nil, err
	}

	switch ev.State {
	case payment.StateCompleted:
		v.logger.Info("payment completed",
			"reference", out.Reference,
			"payment_type", out.PaymentType,
			"provider", ev.Provider,
			"account_id", out.AccountID.String(),
		)
		onCompleted()
		v.plugins.EmitPaymentCompleted(ctx, ev)
	case payment.StateFailed:
		v.logger.Info("payment failed",
			"reference", out.Reference,
			"payment_type", out.PaymentType,
			"provider", ev.Provider,
			"reason", ev.FailureReason,
		)
		v.plugins.EmitPaymentFailed(ctx, ev)
	default:
		if ev.FailureReason != "" {
			v.logger.Info("payment attempt failed, order stays open",
				"reference", out.Reference,
				"provider", ev.Provider,
				"transaction_id", ev.TransactionID,
				"reason", ev.FailureReason,
			)
			break
		}
		v.logger.Debug("payment still pending",
			"reference", out.Reference,
			"provider", ev.Provider,
		)
	}
	return out, nil
}

// matchRecord rejects an event whose provider or gateway order id
// disagrees with the record its reference resolved to.
func matchRecord(ev *payment.Event, provider, providerOrderID, ref string) error {
	if provider != "" && string(ev.Provider) != provider {
		return fmt.Errorf("%w: %s was placed with %s, event from %s", ErrReferenceMismatch, ref, provider, ev.Provider)
	}
	if providerOrderID != "" && ev.ProviderOrderID != "" && ev.ProviderOrderID != providerOrderID {
		return fmt.Errorf("%w: %s has gateway order %s, event names %s", ErrReferenceMismatch, ref, providerOrderID, ev.ProviderOrderID)
	}
	return nil
}

func (v *Vault) checkAmount(ev *payment.Event, expected types.Money, ref string) {
	if ev.Amount.Amount > 0 && ev.Amount.Amount != expected.Amount {
		v.logger.Warn("payment amount mismatch",
			"reference", ref,
			"provider", ev.Provider,
			"expected", expected.Amount,
			"paid", ev.Amount.Amount,
		)
	}
}
