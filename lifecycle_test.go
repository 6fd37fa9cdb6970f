package tokenvault_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tokenvault"
	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/txn"
)

const day = 24 * time.Hour

func TestActivateOpensWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.plan(t, 100, 500)
	a := h.account(t, "activate@example.com")

	act, err := h.v.Activate(ctx, a.ID, p.ID)
	require.NoError(t, err)
	assert.False(t, act.Renewal)
	assert.Equal(t, int64(500), act.BonusGranted)

	stored, err := h.v.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, stored.Subscription.IsActive)
	assert.Equal(t, h.clock.Now().Add(30*day), stored.Subscription.EndDate)
	assert.Equal(t, int64(100), stored.Daily.Current)
	assert.Equal(t, int64(500), stored.Bonus.Current)
	assert.Equal(t, int64(600), stored.LegacyTokens(h.clock.Now()))

	bonus, err := h.store.ListTransactions(ctx, txn.ListOpts{AccountID: a.ID, Type: txn.TypeBonus})
	require.NoError(t, err)
	require.Len(t, bonus, 1)
	assert.Equal(t, int64(500), bonus[0].TokenAmount)
	assert.Equal(t, int64(600), bonus[0].BalanceAfter)
}

func TestActivateUnknownPlan(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, "noplan@example.com")

	_, err := h.v.Activate(context.Background(), a.ID, h.pkg(t, 10).ID)
	assert.ErrorIs(t, err, tokenvault.ErrPlanNotFound)
}

func TestRenewRestartsWindowFromNow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.subscribed(t, "renew@example.com", h.plan(t, 100, 500))

	h.clock.Advance(45 * day)

	act, err := h.v.Renew(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, act.Renewal, "a lapsed window is a fresh activation")

	stored, err := h.v.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().Add(30*day), stored.Subscription.EndDate)
	assert.Equal(t, h.clock.Now(), stored.Subscription.StartDate)
	assert.Equal(t, int64(600), h.balance(t, a).Total)
}

func TestRenewWithoutPlan(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, "never@example.com")

	_, err := h.v.Renew(context.Background(), a.ID)
	assert.ErrorIs(t, err, tokenvault.ErrNoActiveSubscription)
}

func TestRenewCarryOverPolicies(t *testing.T) {
	tests := []struct {
		policy    account.CarryOver
		purchased int64
		bonus     int64
	}{
		{account.CarryOverNone, 0, 500},
		{account.CarryOverPurchased, 200, 500},
		{account.CarryOverAll, 200, 1000},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			h := newHarness(t, tokenvault.WithCarryOver(tt.policy))
			ctx := context.Background()
			a := h.subscribed(t, "carry@example.com", h.plan(t, 100, 500))

			_, err := h.v.AddPurchasedTokens(ctx, a.ID, 200, "")
			require.NoError(t, err)
			_, err = h.v.Deduct(ctx, a.ID, 100, "")
			require.NoError(t, err)

			h.clock.Advance(10 * day)
			act, err := h.v.Renew(ctx, a.ID)
			require.NoError(t, err)
			assert.True(t, act.Renewal)

			b := h.balance(t, a)
			assert.Equal(t, int64(100), b.Daily)
			assert.Equal(t, tt.purchased, b.Purchased)
			assert.Equal(t, tt.bonus, b.Bonus)
		})
	}
}

func TestRefreshDailyOncePerDay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.subscribed(t, "daily@example.com", h.plan(t, 100, 0))

	_, err := h.v.Deduct(ctx, a.ID, 60, "")
	require.NoError(t, err)

	n, err := h.v.RefreshDaily(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "activation already filled today's quota")
	assert.Equal(t, int64(40), h.balance(t, a).Daily)

	h.clock.Advance(day)

	n, err = h.v.RefreshDaily(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(100), h.balance(t, a).Daily)

	n, err = h.v.RefreshDaily(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRefreshDailyFollowsConfiguredZone(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	h := newHarness(t, tokenvault.WithLocation(ist))
	ctx := context.Background()

	// 18:00 UTC is 23:30 in IST.
	h.clock.Advance(9 * time.Hour)
	a := h.subscribed(t, "zone@example.com", h.plan(t, 100, 0))
	_, err := h.v.Deduct(ctx, a.ID, 100, "")
	require.NoError(t, err)

	// Same UTC day, next IST day.
	h.clock.Advance(time.Hour)

	n, err := h.v.RefreshDaily(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(100), h.balance(t, a).Daily)
}

func TestRefreshDailySkipsLapsedAccounts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.subscribed(t, "lapsed@example.com", h.plan(t, 100, 0))

	h.clock.Advance(31 * day)

	n, err := h.v.RefreshDaily(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(0), h.balance(t, a).Daily)
}

func TestExpireLapsedZeroesBuckets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.subscribed(t, "expire@example.com", h.plan(t, 100, 500))
	_, err := h.v.AddPurchasedTokens(ctx, a.ID, 200, "")
	require.NoError(t, err)

	n, err := h.v.ExpireLapsed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "open windows are left alone")

	h.clock.Advance(31 * day)
	assert.Equal(t, int64(0), h.balance(t, a).Total, "effective balance is zero before the sweep")

	n, err = h.v.ExpireLapsed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := h.v.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, stored.Subscription.IsActive)
	assert.Zero(t, stored.Daily.Current+stored.Purchased.Current+stored.Bonus.Current+stored.Prize.Current)
	assert.Equal(t, int64(200), stored.Purchased.Total, "lifetime totals survive expiry")

	expiries, err := h.store.ListTransactions(ctx, txn.ListOpts{AccountID: a.ID, Type: txn.TypeExpiry})
	require.NoError(t, err)
	require.Len(t, expiries, 1)
	assert.Equal(t, int64(800), expiries[0].TokenAmount)
	assert.Equal(t, int64(0), expiries[0].BalanceAfter)

	n, err = h.v.ExpireLapsed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestExpiryInvariantAcrossAccounts(t *testing.T) {
	h := newHarness(t, tokenvault.WithBatchSize(2))
	ctx := context.Background()
	p := h.plan(t, 10, 5)

	emails := []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com", "e@example.com"}
	for _, e := range emails {
		h.subscribed(t, e, p)
	}

	h.clock.Advance(40 * day)
	n, err := h.v.ExpireLapsed(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(emails), n)

	all, err := h.store.ListAccounts(ctx, account.ListOpts{})
	require.NoError(t, err)
	for _, a := range all {
		if a.Subscription.EndDate.Before(h.clock.Now()) {
			assert.Zero(t, a.Daily.Current+a.Purchased.Current+a.Bonus.Current+a.Prize.Current, a.Email)
		}
	}
}

func TestPrizeHistoryRetention(t *testing.T) {
	h := newHarness(t, tokenvault.WithPrizeHistoryRetention(7*day))
	ctx := context.Background()
	a := h.subscribed(t, "prize@example.com", h.plan(t, 100, 0))

	require.NoError(t, h.v.GrantPrizeTokens(ctx, a.ID, 50, "promo", "admin"))
	h.clock.Advance(8 * day)

	_, err := h.v.RefreshDaily(ctx)
	require.NoError(t, err)

	stored, err := h.v.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Prize.History)
	assert.Equal(t, int64(50), stored.Prize.Current, "pruning never touches the balance")
}
