// Package referral runs the referral cycle engine: it activates referred
// accounts on their referrer and pays out prize tokens when the count of
// active referrals reaches a milestone.
package referral

import (
	"fmt"
	"sort"
	"time"

	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/types"
)

// PrizeType tags prize grants issued by the cycle engine.
const PrizeType = "referral_milestone"

// Milestone is a target count of active referrals and its prize.
type Milestone struct {
	Target int   `json:"target" mapstructure:"target" yaml:"target"`
	Reward int64 `json:"reward" mapstructure:"reward" yaml:"reward"`
}

// DefaultMilestones are the stock targets with their prize amounts.
func DefaultMilestones() []Milestone {
	return []Milestone{
		{Target: 8, Reward: 1000},
		{Target: 15, Reward: 2500},
		{Target: 25, Reward: 5000},
	}
}

// Normalize sorts milestones ascending and drops invalid entries.
func Normalize(ms []Milestone) []Milestone {
	out := make([]Milestone, 0, len(ms))
	for _, m := range ms {
		if m.Target > 0 && m.Reward > 0 {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// Result describes one activation.
type Result struct {
	// Activated is false when the entry was already active.
	Activated       bool       `json:"activated"`
	ActiveReferrals int        `json:"active_referrals"`
	Milestone       *Milestone `json:"milestone,omitempty"`
	// Deferred is set when a milestone was reached but the referrer had no
	// open window to receive the prize. The count is kept for a later call.
	Deferred bool `json:"deferred"`
}

// Activate runs on a completed payment of referred. It flips the entry to
// active on referrer and applies at most one milestone, the lowest target
// the active count satisfies. On payout the active entries move to cycled
// and the counter restarts from zero; a cycled entry re-qualifies on the
// next payment.
func Activate(referrer *account.Account, referred *account.Account, milestones []Milestone, commission types.Money, now time.Time) (Result, error) {
	return activate(referrer, referred, milestones, commission, now, true)
}

// Restore is Activate for manual corrections with no new payment behind
// them: a cycled entry stays cycled, so repeating the call pays nothing.
func Restore(referrer *account.Account, referred *account.Account, milestones []Milestone, commission types.Money, now time.Time) (Result, error) {
	return activate(referrer, referred, milestones, commission, now, false)
}

func activate(referrer *account.Account, referred *account.Account, milestones []Milestone, commission types.Money, now time.Time, requalify bool) (Result, error) {
	activated, err := referrer.ActivateReferral(referred.ID, now, requalify)
	if err != nil {
		return Result{}, err
	}

	res := Result{Activated: activated}
	if activated && commission.IsPositive() {
		earned := referrer.ReferralStats.CommissionEarned
		if earned.Currency == "" {
			earned = types.Zero(commission.Currency)
		}
		referrer.ReferralStats.CommissionEarned = earned.Add(commission)
	}

	active := referrer.CountActiveReferrals()
	referrer.ReferralStats.ActiveReferrals = active
	res.ActiveReferrals = active

	for _, m := range Normalize(milestones) {
		if active < m.Target {
			continue
		}
		if !referrer.PlanActive(now) {
			res.Deferred = true
			return res, nil
		}

		grantedBy := fmt.Sprintf("milestone:%d", m.Target)
		if err := referrer.GrantPrize(m.Reward, PrizeType, grantedBy, now); err != nil {
			return res, err
		}
		bump(referrer, m.Target, now)
		referrer.Milestones.TotalTokensEarned += m.Reward
		referrer.CycleActiveReferrals()

		hit := m
		res.Milestone = &hit
		res.ActiveReferrals = 0
		return res, nil
	}
	return res, nil
}

func bump(a *account.Account, target int, now time.Time) {
	for i := range a.Milestones.Counters {
		c := &a.Milestones.Counters[i]
		if c.Target == target {
			c.CyclesCompleted++
			c.LastResetAt = now.UTC()
			return
		}
	}
	a.Milestones.Counters = append(a.Milestones.Counters, account.MilestoneCounter{
		Target:          target,
		CyclesCompleted: 1,
		LastResetAt:     now.UTC(),
	})
}
