package tokenvault

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/referral"
	"github.com/xraph/tokenvault/store"
	"github.com/xraph/tokenvault/types"
)

// ProcessReferralActivation marks referredID active on referrerID's list
// and pays out at most one milestone. The settlement path runs the same
// logic automatically; this entry point serves admin corrections and never
// re-qualifies an entry already consumed by a milestone cycle.
func (v *Vault) ProcessReferralActivation(ctx context.Context, referredID, referrerID id.AccountID) (res *referral.Result, err error) {
	ctx, span := v.startSpan(ctx, "ProcessReferralActivation",
		attribute.String("referred_id", referredID.String()),
		attribute.String("referrer_id", referrerID.String()),
	)
	defer func() { endSpan(span, err) }()

	var out referral.Result
	err = v.atomic(ctx, "referral_activation", func(ctx context.Context, tx store.Store) error {
		referred, err := tx.GetAccount(ctx, referredID)
		if err != nil {
			return err
		}
		if referred.ReferredBy.String() != referrerID.String() {
			return ValidationError{Field: "referrer_id", Message: "account was not referred by this referrer"}
		}
		referrer, err := tx.GetAccount(ctx, referrerID)
		if err != nil {
			return err
		}

		commission := types.Money{}
		if !referred.Subscription.PlanID.IsNil() {
			p, err := tx.GetPlan(ctx, referred.Subscription.PlanID)
			switch {
			case err == nil:
				commission = p.ReferralCommission
			case !errors.Is(err, ErrPlanNotFound):
				return err
			}
		}

		out, err = referral.Restore(referrer, referred, v.milestones, commission, v.clock())
		if err != nil {
			return err
		}
		if out.Activated || out.Milestone != nil {
			return tx.UpdateAccount(ctx, referrer)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	v.afterReferral(ctx, &Outcome{ReferrerID: referrerID}, out)
	return &out, nil
}

// RegisterReferral links an existing account that has no referrer yet to
// the owner of code.
func (v *Vault) RegisterReferral(ctx context.Context, referredID id.AccountID, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ValidationError{Field: "referral_code", Message: "is required"}
	}

	return v.atomic(ctx, "register_referral", func(ctx context.Context, tx store.Store) error {
		referred, err := tx.GetAccount(ctx, referredID)
		if err != nil {
			return err
		}
		if !referred.ReferredBy.IsNil() {
			return ValidationError{Field: "referral_code", Message: "account already has a referrer"}
		}
		referrer, err := tx.GetAccountByReferralCode(ctx, code)
		if err != nil {
			if IsNotFound(err) {
				return ValidationError{Field: "referral_code", Message: "unknown code"}
			}
			return err
		}
		if referrer.ID.String() == referred.ID.String() {
			return ValidationError{Field: "referral_code", Message: "cannot refer yourself"}
		}

		now := v.clock()
		referred.ReferredBy = referrer.ID
		referred.TouchAt(now)
		if err := tx.UpdateAccount(ctx, referred); err != nil {
			return err
		}
		referrer.AddReferral(referred.ID, now)
		return tx.UpdateAccount(ctx, referrer)
	})
}
