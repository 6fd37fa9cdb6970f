package account_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/plan"
	"github.com/xraph/tokenvault/types"
)

var t0 = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func testPlan(daily, bonus int64) *plan.Plan {
	return &plan.Plan{
		ID:               id.NewPlanID(),
		Name:             "Starter",
		Price:            types.INR(19900),
		DurationDays:     30,
		DailyTokenQuota:  daily,
		BonusTokenAmount: bonus,
		Status:           plan.StatusActive,
	}
}

func activeAccount(daily, bonus int64) *account.Account {
	a := account.New("User@Example.com ", "  User ", t0)
	a.Activate(testPlan(daily, bonus), t0, account.CarryOverNone)
	return a
}

func TestNew(t *testing.T) {
	a := account.New("User@Example.com ", "  User ", t0)
	if a.Email != "user@example.com" {
		t.Errorf("email = %q, want normalized", a.Email)
	}
	if a.Name != "User" {
		t.Errorf("name = %q, want trimmed", a.Name)
	}
	if len(a.ReferralCode) != 8 {
		t.Errorf("referral code %q should be 8 characters", a.ReferralCode)
	}
	if a.PlanActive(t0) {
		t.Error("new account should have no open window")
	}
}

func TestDeductOrder(t *testing.T) {
	tests := []struct {
		name      string
		daily     int64
		purchased int64
		bonus     int64
		prize     int64
		amount    int64
		want      account.Deduction
	}{
		{"daily only", 50, 0, 0, 0, 20, account.Deduction{Daily: 20}},
		{"spills into purchased", 5, 10, 0, 0, 8, account.Deduction{Daily: 5, Purchased: 3}},
		{"skips empty buckets", 0, 0, 10, 10, 15, account.Deduction{Bonus: 10, Prize: 5}},
		{"drains everything", 1, 2, 3, 4, 10, account.Deduction{Daily: 1, Purchased: 2, Bonus: 3, Prize: 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := activeAccount(tt.daily, tt.bonus)
			a.Purchased.Current = tt.purchased
			a.Prize.Current = tt.prize
			before := a.Total(t0)

			got, err := a.Deduct(tt.amount, t0)
			if err != nil {
				t.Fatalf("Deduct: %v", err)
			}
			if got != tt.want {
				t.Errorf("breakdown = %+v, want %+v", got, tt.want)
			}
			if got.Sum() != tt.amount {
				t.Errorf("sum = %d, want %d", got.Sum(), tt.amount)
			}
			if after := a.Total(t0); after != before-tt.amount {
				t.Errorf("total after = %d, want %d", after, before-tt.amount)
			}
			if a.Usage.TotalUsed != tt.amount {
				t.Errorf("usage = %d, want %d", a.Usage.TotalUsed, tt.amount)
			}
		})
	}
}

func TestDeductFailuresLeaveAccountUntouched(t *testing.T) {
	tests := []struct {
		name    string
		amount  int64
		at      time.Time
		wantErr error
	}{
		{"over request", 31, t0, account.ErrInsufficientTokens},
		{"zero", 0, t0, account.ErrInvalidAmount},
		{"lapsed", 1, t0.AddDate(0, 0, 31), account.ErrSubscriptionExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := activeAccount(10, 20)
			snapshot := a.Clone()

			if _, err := a.Deduct(tt.amount, tt.at); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if a.Daily != snapshot.Daily || a.Bonus != snapshot.Bonus || a.Usage != snapshot.Usage {
				t.Error("failed deduction changed the account")
			}
		})
	}
}

func TestBreakdownZeroAfterWindow(t *testing.T) {
	a := activeAccount(100, 500)
	a.Purchased.Current = 40

	if got := a.Breakdown(t0.AddDate(0, 0, 29)).Total; got != 640 {
		t.Errorf("total inside window = %d, want 640", got)
	}
	b := a.Breakdown(t0.AddDate(0, 0, 30))
	if b != (account.Breakdown{}) {
		t.Errorf("breakdown at window end = %+v, want zero", b)
	}
}

func TestCreditsNeedOpenWindow(t *testing.T) {
	a := account.New("c@example.com", "", t0)
	if err := a.AddPurchased(10, t0); !errors.Is(err, account.ErrNoActiveSubscription) {
		t.Errorf("AddPurchased err = %v", err)
	}

	a = activeAccount(0, 0)
	if err := a.AddPurchased(-1, t0); !errors.Is(err, account.ErrInvalidAmount) {
		t.Errorf("negative credit err = %v", err)
	}
	if err := a.AddPurchased(10, t0); err != nil {
		t.Fatal(err)
	}
	if !a.Purchased.ExpiresAt.Equal(a.Subscription.EndDate) {
		t.Error("purchased tokens must expire with the window")
	}
	if err := a.GrantPrize(5, "promo", "admin", t0); err != nil {
		t.Fatal(err)
	}
	if len(a.Prize.History) != 1 || a.Prize.History[0].GrantedBy != "admin" {
		t.Errorf("prize history = %+v", a.Prize.History)
	}
}

func TestActivateCarryOver(t *testing.T) {
	tests := []struct {
		policy        account.CarryOver
		wantPurchased int64
		wantPrize     int64
		wantBonus     int64
	}{
		{account.CarryOverNone, 0, 0, 500},
		{account.CarryOverPurchased, 70, 30, 500},
		{account.CarryOverAll, 70, 30, 700},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			a := activeAccount(100, 500)
			a.Purchased.Current = 70
			a.Prize.Current = 30
			a.Bonus.Current = 200

			renewAt := t0.AddDate(0, 0, 10)
			act := a.Activate(testPlan(100, 500), renewAt, tt.policy)

			if !act.Renewal {
				t.Error("expected renewal")
			}
			if got := a.Subscription.EndDate; !got.Equal(renewAt.AddDate(0, 0, 30)) {
				t.Errorf("end = %v, want window from renewal time", got)
			}
			if a.Purchased.Current != tt.wantPurchased || a.Prize.Current != tt.wantPrize || a.Bonus.Current != tt.wantBonus {
				t.Errorf("buckets = purchased %d prize %d bonus %d", a.Purchased.Current, a.Prize.Current, a.Bonus.Current)
			}
		})
	}
}

func TestActivateAfterLapseIgnoresCarryOver(t *testing.T) {
	a := activeAccount(100, 500)
	a.Purchased.Current = 70

	act := a.Activate(testPlan(100, 500), t0.AddDate(0, 2, 0), account.CarryOverAll)
	if act.Renewal {
		t.Error("a lapsed window is not a renewal")
	}
	if a.Purchased.Current != 0 || a.Bonus.Current != 500 {
		t.Errorf("purchased %d bonus %d", a.Purchased.Current, a.Bonus.Current)
	}
}

func TestParseCarryOver(t *testing.T) {
	for _, s := range []string{"", "none", "purchased", "all"} {
		if _, err := account.ParseCarryOver(s); err != nil {
			t.Errorf("ParseCarryOver(%q): %v", s, err)
		}
	}
	if _, err := account.ParseCarryOver("everything"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestRefreshDaily(t *testing.T) {
	a := activeAccount(100, 0)
	a.Daily.Current = 10
	a.Daily.UsedToday = 90

	if a.RefreshDaily(t0.Add(time.Hour), time.UTC) {
		t.Error("second refresh on the same day should be a no-op")
	}
	if !a.RefreshDaily(t0.AddDate(0, 0, 1), time.UTC) {
		t.Fatal("refresh on the next day should apply")
	}
	if a.Daily.Current != 100 || a.Daily.UsedToday != 0 {
		t.Errorf("daily = %+v", a.Daily)
	}
	if a.RefreshDaily(t0.AddDate(0, 0, 40), time.UTC) {
		t.Error("lapsed accounts are not refreshed")
	}
}

func TestSameDay(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	late := time.Date(2025, 1, 15, 18, 0, 0, 0, time.UTC) // 23:30 IST
	later := late.Add(time.Hour)                         // 00:30 IST next day

	if !account.SameDay(late, later, time.UTC) {
		t.Error("same UTC day")
	}
	if account.SameDay(late, later, ist) {
		t.Error("different IST days")
	}
	if account.SameDay(time.Time{}, late, nil) {
		t.Error("zero time never matches")
	}
}

func TestExpire(t *testing.T) {
	a := activeAccount(100, 500)
	a.Purchased.Current = 25
	a.Purchased.Total = 25

	if _, changed := a.Expire(t0.AddDate(0, 0, 5)); changed {
		t.Error("open window must not expire")
	}

	expired, changed := a.Expire(t0.AddDate(0, 0, 30))
	if !changed || expired != 625 {
		t.Fatalf("expired %d changed %v", expired, changed)
	}
	if a.Daily.Current+a.Purchased.Current+a.Bonus.Current+a.Prize.Current != 0 {
		t.Error("buckets not zeroed")
	}
	if a.Purchased.Total != 25 {
		t.Error("totals must survive expiry")
	}
	if a.Subscription.IsActive {
		t.Error("subscription still flagged active")
	}

	if _, changed := a.Expire(t0.AddDate(0, 0, 31)); changed {
		t.Error("second expiry should be a no-op")
	}
}

func TestPrunePrizeHistory(t *testing.T) {
	a := activeAccount(0, 0)
	for i := range 3 {
		if err := a.GrantPrize(10, "promo", "admin", t0.AddDate(0, 0, i*5)); err != nil {
			t.Fatal(err)
		}
	}

	if n := a.PrunePrizeHistory(t0.AddDate(0, 0, 6)); n != 2 {
		t.Errorf("pruned %d, want 2", n)
	}
	if len(a.Prize.History) != 1 || a.Prize.Current != 30 {
		t.Errorf("history %d current %d", len(a.Prize.History), a.Prize.Current)
	}
}

func TestReferralEntries(t *testing.T) {
	a := activeAccount(0, 0)
	friend := id.NewAccountID()

	a.AddReferral(friend, t0)
	a.AddReferral(friend, t0)
	if len(a.Referrals) != 1 || a.ReferralStats.TotalReferrals != 1 {
		t.Fatalf("referrals = %+v", a.Referrals)
	}

	ok, err := a.ActivateReferral(friend, t0, true)
	if err != nil || !ok {
		t.Fatalf("ActivateReferral = %v, %v", ok, err)
	}
	if ok, _ := a.ActivateReferral(friend, t0, true); ok {
		t.Error("second activation should report false")
	}
	if a.CountActiveReferrals() != 1 {
		t.Errorf("active = %d", a.CountActiveReferrals())
	}

	a.CycleActiveReferrals()
	if a.CountActiveReferrals() != 0 || a.Referrals[0].Status != account.ReferralCycled {
		t.Errorf("after cycle: %+v", a.Referrals[0])
	}
	if ok, _ := a.ActivateReferral(friend, t0, false); ok {
		t.Error("cycled entry reactivated without requalify")
	}
	if ok, _ := a.ActivateReferral(friend, t0, true); !ok || a.CountActiveReferrals() != 1 {
		t.Errorf("cycled entry should requalify: %+v", a.Referrals[0])
	}

	if _, err := a.ActivateReferral(id.NewAccountID(), t0, true); !errors.Is(err, account.ErrReferralNotFound) {
		t.Errorf("unknown referral err = %v", err)
	}
}

func TestPassword(t *testing.T) {
	a := account.New("p@example.com", "", t0)
	if a.CheckPassword("anything") {
		t.Error("account without a password must not authenticate")
	}
	if err := a.SetPassword("hunter22"); err != nil {
		t.Fatal(err)
	}
	if !a.CheckPassword("hunter22") || a.CheckPassword("hunter23") {
		t.Error("password check mismatch")
	}
}

func TestListOptsMatches(t *testing.T) {
	active := activeAccount(10, 0)
	lapsed := activeAccount(10, 0)
	lapsed.Subscription.EndDate = t0.Add(-time.Hour)
	never := account.New("n@example.com", "", t0)

	if !(account.ListOpts{ActiveAt: t0}).Matches(active) || (account.ListOpts{ActiveAt: t0}).Matches(lapsed) {
		t.Error("ActiveAt filter mismatch")
	}
	if !(account.ListOpts{LapsedAt: t0}).Matches(lapsed) || (account.ListOpts{LapsedAt: t0}).Matches(never) {
		t.Error("LapsedAt filter mismatch")
	}
}
