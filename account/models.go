// Package account models a tenant account and its four token buckets.
//
// Every method here is pure: it takes the current time explicitly and
// mutates only the receiver, so the engine can run it inside a store
// transaction and retry on a version conflict.
package account

import (
	"strings"
	"time"

	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/types"
)

// Account is a user of the platform together with its subscription window,
// token buckets and referral bookkeeping.
type Account struct {
	types.Entity
	ID           id.AccountID `json:"id"`
	Email        string       `json:"email"`
	Name         string       `json:"name"`
	PasswordHash string       `json:"-"`
	ReferralCode string       `json:"referral_code"`
	ReferredBy   id.AccountID `json:"referred_by,omitempty"`

	Subscription Subscription `json:"subscription"`
	Daily        Daily        `json:"daily"`
	Purchased    Purchased    `json:"purchased"`
	Bonus        Bonus        `json:"bonus"`
	Prize        Prize        `json:"prize"`
	Usage        Usage        `json:"usage"`

	Referrals     []ReferralEntry `json:"referrals,omitempty"`
	ReferralStats ReferralStats   `json:"referral_stats"`
	Milestones    Milestones      `json:"milestones"`

	// Version is bumped by the store on every successful update.
	Version int64 `json:"version"`
}

// Subscription is the plan window an account is entitled to.
type Subscription struct {
	PlanID          id.PlanID `json:"plan_id,omitempty"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	DailyTokenQuota int64     `json:"daily_token_quota"`
	IsActive        bool      `json:"is_active"`
}

// Daily is the quota bucket refilled once per calendar day.
type Daily struct {
	Current         int64     `json:"current"`
	Limit           int64     `json:"limit"`
	UsedToday       int64     `json:"used_today"`
	LastRefreshedAt time.Time `json:"last_refreshed_at"`
}

// Purchased holds tokens bought through token packages.
type Purchased struct {
	Current         int64     `json:"current"`
	Total           int64     `json:"total"`
	Used            int64     `json:"used"`
	LastPurchasedAt time.Time `json:"last_purchased_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Bonus holds the tokens granted with a plan activation.
type Bonus struct {
	Current   int64     `json:"current"`
	Initial   int64     `json:"initial"`
	Used      int64     `json:"used"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Prize holds tokens earned from referral milestones and promotions.
type Prize struct {
	Current   int64        `json:"current"`
	Used      int64        `json:"used"`
	GrantedAt time.Time    `json:"granted_at"`
	ExpiresAt time.Time    `json:"expires_at"`
	GrantedBy string       `json:"granted_by,omitempty"`
	PrizeType string       `json:"prize_type,omitempty"`
	History   []PrizeGrant `json:"history,omitempty"`
}

// PrizeGrant is one entry of the prize history.
type PrizeGrant struct {
	Amount    int64     `json:"amount"`
	PrizeType string    `json:"prize_type"`
	GrantedBy string    `json:"granted_by"`
	GrantedAt time.Time `json:"granted_at"`
}

// Usage is the lifetime consumption counter.
type Usage struct {
	TotalUsed  int64     `json:"total_used"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// ReferralStatus is the state of a referred account in its referrer's list.
type ReferralStatus string

const (
	ReferralPending ReferralStatus = "pending"
	ReferralActive  ReferralStatus = "active"
	ReferralExpired ReferralStatus = "expired"
	ReferralCycled  ReferralStatus = "cycled"
)

// ReferralEntry records one referred account on the referrer.
type ReferralEntry struct {
	AccountID id.AccountID   `json:"account_id"`
	JoinedAt  time.Time      `json:"joined_at"`
	IsActive  bool           `json:"is_active"`
	Status    ReferralStatus `json:"status"`
}

// ReferralStats aggregates the referral list.
type ReferralStats struct {
	TotalReferrals   int         `json:"total_referrals"`
	ActiveReferrals  int         `json:"active_referrals"`
	CommissionEarned types.Money `json:"commission_earned"`
}

// MilestoneCounter tracks how often a referral target has been reached.
type MilestoneCounter struct {
	Target          int       `json:"target"`
	CyclesCompleted int       `json:"cycles_completed"`
	LastResetAt     time.Time `json:"last_reset_at"`
}

// Milestones is the per-account milestone bookkeeping.
type Milestones struct {
	Counters          []MilestoneCounter `json:"counters,omitempty"`
	TotalTokensEarned int64              `json:"total_tokens_earned"`
}

// New builds an account with no subscription. The referral code is derived
// from the random tail of the generated ID.
func New(email, name string, now time.Time) *Account {
	accountID := id.NewAccountID()
	return &Account{
		Entity:       types.NewEntityAt(now),
		ID:           accountID,
		Email:        NormalizeEmail(email),
		Name:         strings.TrimSpace(name),
		ReferralCode: referralCode(accountID),
	}
}

// NormalizeEmail lowercases and trims an address so lookups are stable.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func referralCode(accountID id.ID) string {
	s := accountID.String()
	if len(s) < 8 {
		return strings.ToUpper(s)
	}
	return strings.ToUpper(s[len(s)-8:])
}

// Clone returns a deep copy. Stores hand out clones so callers can mutate
// freely before writing back.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Prize.History = append([]PrizeGrant(nil), a.Prize.History...)
	c.Referrals = append([]ReferralEntry(nil), a.Referrals...)
	c.Milestones.Counters = append([]MilestoneCounter(nil), a.Milestones.Counters...)
	return &c
}
