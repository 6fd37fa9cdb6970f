package account

import (
	"math"
	"time"
)

// Breakdown is the effective per-bucket balance at a point in time. Every
// field is zero once the subscription window has lapsed, whatever the
// stored values still say.
type Breakdown struct {
	Daily         int64 `json:"daily"`
	Purchased     int64 `json:"purchased"`
	Bonus         int64 `json:"bonus"`
	Prize         int64 `json:"prize"`
	Total         int64 `json:"total"`
	PlanActive    bool  `json:"plan_active"`
	DaysRemaining int   `json:"days_remaining"`
}

// Deduction is the amount taken from each bucket by one Deduct call.
type Deduction struct {
	Daily     int64 `json:"daily"`
	Purchased int64 `json:"purchased"`
	Bonus     int64 `json:"bonus"`
	Prize     int64 `json:"prize"`
}

// Sum returns the total amount deducted.
func (d Deduction) Sum() int64 {
	return d.Daily + d.Purchased + d.Bonus + d.Prize
}

// PlanActive reports whether the subscription window is open at now.
func (a *Account) PlanActive(now time.Time) bool {
	end := a.Subscription.EndDate
	return !end.IsZero() && now.Before(end)
}

// Breakdown reports the effective balance at now.
func (a *Account) Breakdown(now time.Time) Breakdown {
	if !a.PlanActive(now) {
		return Breakdown{}
	}

	b := Breakdown{
		Daily:      a.Daily.Current,
		Purchased:  a.Purchased.Current,
		Bonus:      a.Bonus.Current,
		Prize:      a.Prize.Current,
		PlanActive: true,
	}
	b.Total = b.Daily + b.Purchased + b.Bonus + b.Prize
	b.DaysRemaining = int(math.Ceil(a.Subscription.EndDate.Sub(now).Hours() / 24))
	return b
}

// Total is the effective spendable balance at now.
func (a *Account) Total(now time.Time) int64 {
	return a.Breakdown(now).Total
}

// LegacyTokens is the flat token count older clients read. It is always
// derived from the buckets and never written independently.
func (a *Account) LegacyTokens(now time.Time) int64 {
	return a.Total(now)
}

// Deduct removes amount tokens, draining daily, purchased, bonus and prize
// in that order. On error the account is left untouched.
func (a *Account) Deduct(amount int64, now time.Time) (Deduction, error) {
	if amount <= 0 {
		return Deduction{}, ErrInvalidAmount
	}
	if !a.PlanActive(now) {
		return Deduction{}, ErrSubscriptionExpired
	}
	if a.Total(now) < amount {
		return Deduction{}, ErrInsufficientTokens
	}

	remaining := amount
	var d Deduction

	d.Daily = take(&a.Daily.Current, &remaining)
	a.Daily.UsedToday += d.Daily

	d.Purchased = take(&a.Purchased.Current, &remaining)
	a.Purchased.Used += d.Purchased

	d.Bonus = take(&a.Bonus.Current, &remaining)
	a.Bonus.Used += d.Bonus

	d.Prize = take(&a.Prize.Current, &remaining)
	a.Prize.Used += d.Prize

	a.Usage.TotalUsed += amount
	a.Usage.LastUsedAt = now.UTC()
	a.TouchAt(now)

	return d, nil
}

// take moves min(*remaining, *current) out of current.
func take(current, remaining *int64) int64 {
	n := min(*current, *remaining)
	if n <= 0 {
		return 0
	}
	*current -= n
	*remaining -= n
	return n
}

// ──────────────────────────────────────────────────
// Credits
// ──────────────────────────────────────────────────

// AddPurchased credits tokens bought through a package. They expire with
// the current subscription window.
func (a *Account) AddPurchased(amount int64, now time.Time) error {
	if err := a.creditable(amount, now); err != nil {
		return err
	}

	a.Purchased.Current += amount
	a.Purchased.Total += amount
	a.Purchased.LastPurchasedAt = now.UTC()
	a.Purchased.ExpiresAt = a.Subscription.EndDate
	a.TouchAt(now)
	return nil
}

// GrantBonus adds bonus tokens on top of the current bonus bucket.
func (a *Account) GrantBonus(amount int64, now time.Time) error {
	if err := a.creditable(amount, now); err != nil {
		return err
	}

	a.Bonus.Current += amount
	a.Bonus.Initial += amount
	a.Bonus.GrantedAt = now.UTC()
	a.Bonus.ExpiresAt = a.Subscription.EndDate
	a.TouchAt(now)
	return nil
}

// GrantPrize adds prize tokens and appends a history entry.
func (a *Account) GrantPrize(amount int64, prizeType, grantedBy string, now time.Time) error {
	if err := a.creditable(amount, now); err != nil {
		return err
	}

	a.Prize.Current += amount
	a.Prize.GrantedAt = now.UTC()
	a.Prize.ExpiresAt = a.Subscription.EndDate
	a.Prize.PrizeType = prizeType
	a.Prize.GrantedBy = grantedBy
	a.Prize.History = append(a.Prize.History, PrizeGrant{
		Amount:    amount,
		PrizeType: prizeType,
		GrantedBy: grantedBy,
		GrantedAt: now.UTC(),
	})
	a.TouchAt(now)
	return nil
}

func (a *Account) creditable(amount int64, now time.Time) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if !a.PlanActive(now) {
		return ErrNoActiveSubscription
	}
	return nil
}
