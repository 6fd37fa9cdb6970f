package sqlstore_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tokenvault"
	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/order"
	"github.com/xraph/tokenvault/plan"
	"github.com/xraph/tokenvault/store"
	"github.com/xraph/tokenvault/store/sqlstore"
	"github.com/xraph/tokenvault/txn"
	"github.com/xraph/tokenvault/types"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testPlan() *plan.Plan {
	return &plan.Plan{
		Entity:             types.NewEntityAt(now),
		ID:                 id.NewPlanID(),
		Name:               "Starter",
		Slug:               "starter",
		Price:              types.INR(49900),
		DurationDays:       30,
		DailyTokenQuota:    100,
		BonusTokenAmount:   500,
		ReferralCommission: types.INR(5000),
		Status:             plan.StatusActive,
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := sqlstore.Open("oracle", "dsn")
	assert.Error(t, err)
}

func TestAccountRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	p := testPlan()
	require.NoError(t, s.CreatePlan(ctx, p))

	referrer := account.New("ref@example.com", "Ref", now)
	require.NoError(t, s.CreateAccount(ctx, referrer))

	a := account.New("Ana@Example.com", "Ana", now)
	a.ReferredBy = referrer.ID
	a.Activate(p, now, account.CarryOverNone)
	require.NoError(t, a.GrantPrize(40, "contest", "ops", now))
	a.AddReferral(id.NewAccountID(), now)
	require.NoError(t, s.CreateAccount(ctx, a))
	assert.Equal(t, int64(1), a.Version)

	got, err := s.GetAccountByEmail(ctx, "ANA@example.com")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, referrer.ID, got.ReferredBy)
	assert.Equal(t, p.ID, got.Subscription.PlanID)
	assert.True(t, got.Subscription.EndDate.Equal(a.Subscription.EndDate))
	assert.Equal(t, a.Breakdown(now), got.Breakdown(now))
	require.Len(t, got.Prize.History, 1)
	assert.Equal(t, "contest", got.Prize.History[0].PrizeType)
	require.Len(t, got.Referrals, 1)
	assert.Equal(t, account.ReferralPending, got.Referrals[0].Status)

	byCode, err := s.GetAccountByReferralCode(ctx, " "+got.ReferralCode+" ")
	require.NoError(t, err)
	assert.Equal(t, got.ID, byCode.ID)
}

func TestAccountUniqueEmail(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.CreateAccount(ctx, account.New("dup@example.com", "", now)))
	err := s.CreateAccount(ctx, account.New(" DUP@example.com", "", now))
	assert.ErrorIs(t, err, tokenvault.ErrAlreadyExists)
}

func TestUpdateAccountCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	a := account.New("cas@example.com", "", now)
	require.NoError(t, s.CreateAccount(ctx, a))

	first, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	second, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)

	first.Name = "first"
	require.NoError(t, s.UpdateAccount(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Name = "second"
	assert.ErrorIs(t, s.UpdateAccount(ctx, second), tokenvault.ErrConcurrentUpdate)

	missing := account.New("ghost@example.com", "", now)
	missing.Version = 1
	assert.ErrorIs(t, s.UpdateAccount(ctx, missing), tokenvault.ErrAccountNotFound)

	stored, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Name)
}

func TestRunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	boom := errors.New("boom")

	a := account.New("tx@example.com", "", now)
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.CreateAccount(ctx, a); err != nil {
			return err
		}
		// Nested units join the outer one.
		return tx.RunInTx(ctx, func(ctx context.Context, inner store.Store) error {
			o := order.New("razorpay", a.Email, id.NewPlanID(), types.INR(100), now)
			if err := inner.CreateOrder(ctx, o); err != nil {
				return err
			}
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetAccount(ctx, a.ID)
	assert.ErrorIs(t, err, tokenvault.ErrAccountNotFound)
	orders, err := s.ListOrders(ctx, order.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestProviderOrderIDUniqueness(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	// Orders not yet sent to a gateway carry no provider id and never collide.
	o1 := order.New("razorpay", "a@example.com", id.NewPlanID(), types.INR(100), now)
	o2 := order.New("razorpay", "b@example.com", id.NewPlanID(), types.INR(100), now)
	require.NoError(t, s.CreateOrder(ctx, o1))
	require.NoError(t, s.CreateOrder(ctx, o2))

	o1.ProviderOrderID = "order_1"
	require.NoError(t, s.UpdateOrder(ctx, o1))

	got, err := s.GetOrderByProviderOrderID(ctx, "razorpay", "order_1")
	require.NoError(t, err)
	assert.Equal(t, o1.ID, got.ID)

	o2.ProviderOrderID = "order_1"
	assert.ErrorIs(t, s.UpdateOrder(ctx, o2), tokenvault.ErrAlreadyExists)

	_, err = s.GetOrderByProviderOrderID(ctx, "phonepe", "order_1")
	assert.ErrorIs(t, err, tokenvault.ErrOrderNotFound)

	require.NoError(t, s.DeleteOrder(ctx, o1.ID))
	assert.ErrorIs(t, s.DeleteOrder(ctx, o1.ID), tokenvault.ErrOrderNotFound)
}

func TestTransactionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	accountID := id.NewAccountID()

	purchase := txn.NewPurchase(accountID, id.NewPackageID(), 200, types.INR(9900), "phonepe", now)
	purchase.ProviderOrderID = "PP-1"
	require.NoError(t, s.CreateTransaction(ctx, purchase))
	require.NoError(t, s.CreateTransaction(ctx, txn.NewSettled(accountID, txn.TypeBonus, 50, 0, 50, now.Add(time.Minute))))

	pending, err := s.ListTransactions(ctx, txn.ListOpts{
		Type:          txn.TypePurchase,
		Status:        txn.StatusPending,
		CreatedBefore: now.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	got := pending[0]
	require.NoError(t, got.Complete("pay_1", "UPI", 0, 200, now.AddDate(0, 0, 30), now))
	require.NoError(t, s.UpdateTransaction(ctx, got))

	stored, err := s.GetTransactionByProviderOrderID(ctx, "phonepe", "PP-1")
	require.NoError(t, err)
	assert.Equal(t, txn.StatusCompleted, stored.Status)
	assert.Equal(t, int64(200), stored.BalanceAfter)

	all, err := s.ListTransactions(ctx, txn.ListOpts{AccountID: accountID})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListAccountsLapsed(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	p := testPlan()

	lapsed := account.New("lapsed@example.com", "", now)
	lapsed.Activate(p, now.AddDate(0, 0, -40), account.CarryOverNone)
	active := account.New("active@example.com", "", now)
	active.Activate(p, now, account.CarryOverNone)
	never := account.New("never@example.com", "", now)

	for _, a := range []*account.Account{lapsed, active, never} {
		require.NoError(t, s.CreateAccount(ctx, a))
	}

	got, err := s.ListAccounts(ctx, account.ListOpts{LapsedAt: now})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, lapsed.ID, got[0].ID)

	got, err = s.ListAccounts(ctx, account.ListOpts{ActiveAt: now})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, active.ID, got[0].ID)
}

func TestVaultOnSQLite(t *testing.T) {
	ctx := context.Background()
	s, err := sqlstore.Open(sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)

	clock := now
	v := tokenvault.New(s,
		tokenvault.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		tokenvault.WithClock(func() time.Time { return clock }),
	)
	require.NoError(t, v.Start(ctx))
	defer v.Stop() //nolint:errcheck // test teardown

	p := &plan.Plan{
		Name:             "Pro",
		Price:            types.INR(99900),
		DurationDays:     30,
		DailyTokenQuota:  100,
		BonusTokenAmount: 500,
	}
	require.NoError(t, v.CreatePlan(ctx, p))

	a, err := v.CreateAccount(ctx, tokenvault.NewAccount{Email: "sql@example.com", Name: "Sql"})
	require.NoError(t, err)
	_, err = v.Activate(ctx, a.ID, p.ID)
	require.NoError(t, err)

	res, err := v.Deduct(ctx, a.ID, 150, "chat")
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Breakdown.Daily)
	assert.Equal(t, int64(50), res.Breakdown.Bonus)
	assert.Equal(t, int64(450), res.RemainingBalance)

	clock = clock.AddDate(0, 0, 31)
	n, err := v.ExpireLapsed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, err := v.Balance(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, b.Total)
}
