package account

import "errors"

// Balance and lifecycle errors. The root tokenvault package re-exports them.
var (
	ErrInsufficientTokens   = errors.New("tokenvault: insufficient tokens")
	ErrSubscriptionExpired  = errors.New("tokenvault: subscription is expired")
	ErrNoActiveSubscription = errors.New("tokenvault: no active subscription")
	ErrInvalidAmount        = errors.New("tokenvault: token amount must be positive")
	ErrReferralNotFound     = errors.New("tokenvault: referral entry not found")
)
