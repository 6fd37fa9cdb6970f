package tokenvault_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tokenvault"
	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/payment"
	"github.com/xraph/tokenvault/plan"
	"github.com/xraph/tokenvault/referral"
	"github.com/xraph/tokenvault/types"
)

// referAndPay signs up a referred account with code and settles a
// subscription order for it.
func referAndPay(t *testing.T, h *harness, code, email string, p *plan.Plan) *account.Account {
	t.Helper()
	ctx := context.Background()

	a, err := h.v.CreateAccount(ctx, tokenvault.NewAccount{Email: email, ReferralCode: code})
	require.NoError(t, err)

	co := subscribe(t, h, email, p.ID)
	h.deliver(t, co.Reference, payment.StateCompleted)
	return a
}

func TestCreateAccountWithReferralCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	referrer := h.account(t, "referrer@example.com")

	a, err := h.v.CreateAccount(ctx, tokenvault.NewAccount{
		Email:        "friend@example.com",
		ReferralCode: " " + referrer.ReferralCode + " ",
	})
	require.NoError(t, err)
	assert.Equal(t, referrer.ID.String(), a.ReferredBy.String())

	stored, err := h.v.GetAccount(ctx, referrer.ID)
	require.NoError(t, err)
	require.Len(t, stored.Referrals, 1)
	assert.Equal(t, account.ReferralPending, stored.Referrals[0].Status)
	assert.Equal(t, 1, stored.ReferralStats.TotalReferrals)

	_, err = h.v.CreateAccount(ctx, tokenvault.NewAccount{Email: "x@example.com", ReferralCode: "NOPE0000"})
	assert.ErrorIs(t, err, tokenvault.ErrInvalidInput)
	_, err = h.v.GetAccountByEmail(ctx, "x@example.com")
	assert.ErrorIs(t, err, tokenvault.ErrAccountNotFound)
}

func TestRegisterReferral(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	referrer := h.account(t, "owner@example.com")
	a := h.account(t, "late@example.com")

	assert.ErrorIs(t, h.v.RegisterReferral(ctx, a.ID, a.ReferralCode), tokenvault.ErrInvalidInput, "self referral")
	assert.ErrorIs(t, h.v.RegisterReferral(ctx, a.ID, "UNKNOWN1"), tokenvault.ErrInvalidInput)

	require.NoError(t, h.v.RegisterReferral(ctx, a.ID, referrer.ReferralCode))
	assert.ErrorIs(t, h.v.RegisterReferral(ctx, a.ID, referrer.ReferralCode), tokenvault.ErrInvalidInput, "already linked")

	stored, err := h.v.GetAccount(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Referrals, 1)
}

func TestReferralMilestoneExactlyOnce(t *testing.T) {
	h := newHarness(t, tokenvault.WithMilestones([]referral.Milestone{{Target: 3, Reward: 1000}}))
	ctx := context.Background()
	p := h.plan(t, 100, 0)
	referrer := h.subscribed(t, "host@example.com", p)

	var last *account.Account
	for i := range 3 {
		last = referAndPay(t, h, referrer.ReferralCode, fmt.Sprintf("friend%d@example.com", i), p)
	}

	stored, err := h.v.GetAccount(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stored.Prize.Current)
	assert.Equal(t, 0, stored.ReferralStats.ActiveReferrals)
	assert.Equal(t, int64(1000), stored.Milestones.TotalTokensEarned)
	require.Len(t, stored.Milestones.Counters, 1)
	assert.Equal(t, 1, stored.Milestones.Counters[0].CyclesCompleted)
	for _, r := range stored.Referrals {
		assert.Equal(t, account.ReferralCycled, r.Status)
	}
	assert.Equal(t, types.INR(15000), stored.ReferralStats.CommissionEarned)

	res, err := h.v.ProcessReferralActivation(ctx, last.ID, referrer.ID)
	require.NoError(t, err)
	assert.False(t, res.Activated)
	assert.Nil(t, res.Milestone)

	again, err := h.v.GetAccount(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), again.Prize.Current)
	assert.Equal(t, 1, again.Milestones.Counters[0].CyclesCompleted)

	// A new payment re-qualifies one entry, which is below the target.
	co := subscribe(t, h, last.Email, p.ID)
	h.deliver(t, co.Reference, payment.StateCompleted)

	again, err = h.v.GetAccount(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, again.ReferralStats.ActiveReferrals)
	assert.Equal(t, int64(1000), again.Prize.Current)
	assert.Equal(t, 1, again.Milestones.Counters[0].CyclesCompleted)
}

func TestReferralRenewalDoesNotRecount(t *testing.T) {
	h := newHarness(t, tokenvault.WithMilestones([]referral.Milestone{{Target: 2, Reward: 500}}))
	ctx := context.Background()
	p := h.plan(t, 100, 0)
	referrer := h.subscribed(t, "host@example.com", p)

	friend := referAndPay(t, h, referrer.ReferralCode, "friend@example.com", p)

	co := subscribe(t, h, friend.Email, p.ID)
	h.deliver(t, co.Reference, payment.StateCompleted)

	stored, err := h.v.GetAccount(ctx, referrer.ID)
	require.NoError(t, err)
	require.Len(t, stored.Referrals, 1)
	assert.Equal(t, account.ReferralActive, stored.Referrals[0].Status)
	assert.Equal(t, 1, stored.ReferralStats.ActiveReferrals)
	assert.Equal(t, int64(0), stored.Prize.Current)
	assert.Equal(t, types.INR(5000), stored.ReferralStats.CommissionEarned)
}

func TestCycledReferralRequalifiesOnNextPayment(t *testing.T) {
	h := newHarness(t, tokenvault.WithMilestones([]referral.Milestone{{Target: 1, Reward: 100}}))
	ctx := context.Background()
	p := h.plan(t, 100, 0)
	referrer := h.subscribed(t, "host@example.com", p)

	friend := referAndPay(t, h, referrer.ReferralCode, "friend@example.com", p)

	stored, err := h.v.GetAccount(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), stored.Prize.Current)
	assert.Equal(t, account.ReferralCycled, stored.Referrals[0].Status)

	h.clock.Advance(24 * time.Hour)
	co := subscribe(t, h, friend.Email, p.ID)
	h.deliver(t, co.Reference, payment.StateCompleted)

	stored, err = h.v.GetAccount(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), stored.Prize.Current)
	assert.Equal(t, 0, stored.ReferralStats.ActiveReferrals)
	assert.Equal(t, account.ReferralCycled, stored.Referrals[0].Status)
	require.Len(t, stored.Milestones.Counters, 1)
	assert.Equal(t, 2, stored.Milestones.Counters[0].CyclesCompleted)
	assert.Equal(t, types.INR(10000), stored.ReferralStats.CommissionEarned)

	// Redelivering the same payment changes nothing.
	h.deliver(t, co.Reference, payment.StateCompleted)
	res, err := h.v.ProcessReferralActivation(ctx, friend.ID, referrer.ID)
	require.NoError(t, err)
	assert.False(t, res.Activated)
	assert.Equal(t, int64(200), h.balance(t, referrer).Prize)
}

func TestReferralMilestoneDeferredWhileReferrerLapsed(t *testing.T) {
	h := newHarness(t, tokenvault.WithMilestones([]referral.Milestone{{Target: 1, Reward: 700}}))
	ctx := context.Background()
	p := h.plan(t, 100, 0)
	referrer := h.account(t, "idle@example.com")

	friend := referAndPay(t, h, referrer.ReferralCode, "friend@example.com", p)

	stored, err := h.v.GetAccount(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Prize.Current)
	assert.Equal(t, 1, stored.ReferralStats.ActiveReferrals)

	_, err = h.v.Activate(ctx, referrer.ID, p.ID)
	require.NoError(t, err)

	res, err := h.v.ProcessReferralActivation(ctx, friend.ID, referrer.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Milestone)
	assert.Equal(t, 1, res.Milestone.Target)
	assert.Equal(t, int64(700), h.balance(t, referrer).Prize)
}

func TestProcessReferralActivationRejectsStranger(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, "a@example.com")
	b := h.account(t, "b@example.com")

	_, err := h.v.ProcessReferralActivation(context.Background(), a.ID, b.ID)
	assert.ErrorIs(t, err, tokenvault.ErrInvalidInput)
}
