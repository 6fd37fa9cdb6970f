package account

import (
	"fmt"
	"strings"
	"time"

	"github.com/xraph/tokenvault/plan"
)

// CarryOver decides which unused tokens survive an activation that lands
// while the previous window is still open.
type CarryOver string

const (
	// CarryOverNone resets purchased and prize to zero and replaces bonus.
	CarryOverNone CarryOver = "none"
	// CarryOverPurchased keeps unused purchased and prize tokens.
	CarryOverPurchased CarryOver = "purchased"
	// CarryOverAll keeps purchased, prize and unused bonus tokens.
	CarryOverAll CarryOver = "all"
)

// ParseCarryOver maps a config string to a policy. Empty means CarryOverNone.
func ParseCarryOver(s string) (CarryOver, error) {
	switch CarryOver(strings.ToLower(strings.TrimSpace(s))) {
	case "", CarryOverNone:
		return CarryOverNone, nil
	case CarryOverPurchased:
		return CarryOverPurchased, nil
	case CarryOverAll:
		return CarryOverAll, nil
	default:
		return "", fmt.Errorf("tokenvault: unknown carry-over policy %q", s)
	}
}

// Activation summarizes what an Activate call changed.
type Activation struct {
	Renewal      bool  `json:"renewal"`
	BonusGranted int64 `json:"bonus_granted"`
	// Forfeited is the effective balance discarded from the previous window.
	Forfeited int64 `json:"forfeited"`
}

// Activate starts a fresh window for p at now. It serves both first
// activation and renewal: the window always restarts from now, never from
// the previous end date.
func (a *Account) Activate(p *plan.Plan, now time.Time, policy CarryOver) Activation {
	now = now.UTC()
	wasActive := a.PlanActive(now)
	before := a.Breakdown(now)
	end := p.WindowEnd(now)

	act := Activation{Renewal: wasActive, BonusGranted: p.BonusTokenAmount}

	a.Subscription = Subscription{
		PlanID:          p.ID,
		StartDate:       now,
		EndDate:         end,
		DailyTokenQuota: p.DailyTokenQuota,
		IsActive:        true,
	}

	a.Daily.Current = p.DailyTokenQuota
	a.Daily.Limit = p.DailyTokenQuota
	a.Daily.UsedToday = 0
	a.Daily.LastRefreshedAt = now

	keepPurchased := wasActive && (policy == CarryOverPurchased || policy == CarryOverAll)
	keepBonus := wasActive && policy == CarryOverAll

	if !keepPurchased {
		act.Forfeited += before.Purchased + before.Prize
		a.Purchased.Current = 0
		a.Prize.Current = 0
	}
	a.Purchased.ExpiresAt = end
	a.Prize.ExpiresAt = end

	if keepBonus {
		a.Bonus.Current += p.BonusTokenAmount
	} else {
		act.Forfeited += before.Bonus
		a.Bonus.Current = p.BonusTokenAmount
	}
	a.Bonus.Initial = p.BonusTokenAmount
	a.Bonus.GrantedAt = now
	a.Bonus.ExpiresAt = end

	act.Forfeited += before.Daily
	a.TouchAt(now)
	return act
}

// RefreshDaily refills the daily bucket unless it was already refilled on
// the same calendar day in loc. It reports whether anything changed.
func (a *Account) RefreshDaily(now time.Time, loc *time.Location) bool {
	if !a.PlanActive(now) {
		return false
	}
	if SameDay(a.Daily.LastRefreshedAt, now, loc) {
		return false
	}

	a.Daily.Limit = a.Subscription.DailyTokenQuota
	a.Daily.Current = a.Daily.Limit
	a.Daily.UsedToday = 0
	a.Daily.LastRefreshedAt = now.UTC()
	a.TouchAt(now)
	return true
}

// Expire zeroes every bucket of a lapsed account while keeping the
// totals and used counters. It returns the number of stored tokens that
// died and whether the account changed.
func (a *Account) Expire(now time.Time) (int64, bool) {
	if a.PlanActive(now) {
		return 0, false
	}

	expired := a.Daily.Current + a.Purchased.Current + a.Bonus.Current + a.Prize.Current
	if expired == 0 && !a.Subscription.IsActive {
		return 0, false
	}

	a.Daily.Current = 0
	a.Purchased.Current = 0
	a.Bonus.Current = 0
	a.Prize.Current = 0
	a.Subscription.IsActive = false
	a.TouchAt(now)
	return expired, true
}

// PrunePrizeHistory drops history entries granted before cutoff and
// reports how many were removed.
func (a *Account) PrunePrizeHistory(cutoff time.Time) int {
	kept := a.Prize.History[:0]
	for _, g := range a.Prize.History {
		if !g.GrantedAt.Before(cutoff) {
			kept = append(kept, g)
		}
	}
	removed := len(a.Prize.History) - len(kept)
	a.Prize.History = kept
	return removed
}

// SameDay reports whether a and b fall on the same calendar day in loc.
// A zero a never matches.
func SameDay(a, b time.Time, loc *time.Location) bool {
	if a.IsZero() {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
