package account

import (
	"time"

	"github.com/xraph/tokenvault/id"
)

// AddReferral records referredID as a pending referral of a.
func (a *Account) AddReferral(referredID id.AccountID, now time.Time) {
	for _, r := range a.Referrals {
		if r.AccountID.String() == referredID.String() {
			return
		}
	}
	a.Referrals = append(a.Referrals, ReferralEntry{
		AccountID: referredID,
		JoinedAt:  now.UTC(),
		Status:    ReferralPending,
	})
	a.ReferralStats.TotalReferrals = len(a.Referrals)
	a.TouchAt(now)
}

// ActivateReferral flips the entry for referredID to active. Entries that
// are already active report false. A cycled entry, consumed by an earlier
// milestone, becomes active again only when requalify is set.
func (a *Account) ActivateReferral(referredID id.AccountID, now time.Time, requalify bool) (bool, error) {
	for i := range a.Referrals {
		r := &a.Referrals[i]
		if r.AccountID.String() != referredID.String() {
			continue
		}
		if r.Status == ReferralActive || (r.Status == ReferralCycled && !requalify) {
			return false, nil
		}
		r.Status = ReferralActive
		r.IsActive = true
		a.ReferralStats.ActiveReferrals = a.CountActiveReferrals()
		a.TouchAt(now)
		return true, nil
	}
	return false, ErrReferralNotFound
}

// CountActiveReferrals counts entries in the active state.
func (a *Account) CountActiveReferrals() int {
	n := 0
	for _, r := range a.Referrals {
		if r.Status == ReferralActive {
			n++
		}
	}
	return n
}

// CycleActiveReferrals moves every active entry to cycled and resets the
// active counter.
func (a *Account) CycleActiveReferrals() {
	for i := range a.Referrals {
		if a.Referrals[i].Status == ReferralActive {
			a.Referrals[i].Status = ReferralCycled
			a.Referrals[i].IsActive = false
		}
	}
	a.ReferralStats.ActiveReferrals = 0
}
