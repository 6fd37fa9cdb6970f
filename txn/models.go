// Package txn records token transactions: package purchases plus the
// bonus grants and expiries that change a balance outside a deduction.
package txn

import (
	"errors"
	"time"

	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/types"
)

// ErrTerminal is returned when a settled transaction is asked to
// transition again.
var ErrTerminal = errors.New("tokenvault: transaction already in a terminal state")

type Type string

const (
	TypePurchase Type = "purchase"
	TypeBonus    Type = "bonus"
	TypeRefund   Type = "refund"
	TypeExpiry   Type = "expiry"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"

	// StatusRefundRequired marks a purchase the gateway captured that could
	// not be credited. Settling it is left to an operator.
	StatusRefundRequired Status = "refund_required"
)

// Terminal reports whether the status is write-once.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRefunded, StatusRefundRequired:
		return true
	}
	return false
}

// Transaction is one token movement. For purchases ID is also the merchant
// order id handed to the gateway.
type Transaction struct {
	types.Entity
	ID                    id.TransactionID `json:"id"`
	AccountID             id.AccountID     `json:"account_id"`
	PackageID             id.PackageID     `json:"package_id,omitempty"`
	Type                  Type             `json:"type"`
	TokenAmount           int64            `json:"token_amount"`
	Amount                types.Money      `json:"amount"`
	Status                Status           `json:"status"`
	Provider              string           `json:"provider,omitempty"`
	ProviderOrderID       string           `json:"provider_order_id,omitempty"`
	ProviderTransactionID string           `json:"provider_transaction_id,omitempty"`
	PaymentMode           string           `json:"payment_mode,omitempty"`
	BalanceBefore         int64            `json:"balance_before"`
	BalanceAfter          int64            `json:"balance_after"`
	ExpiresAt             time.Time        `json:"expires_at,omitempty"`
	FailureReason         string           `json:"failure_reason,omitempty"`
	CompletedAt           time.Time        `json:"completed_at,omitempty"`
	Version               int64            `json:"version"`
}

// NewPurchase builds a pending purchase of pkgTokens tokens.
func NewPurchase(accountID id.AccountID, packageID id.PackageID, tokens int64, price types.Money, provider string, now time.Time) *Transaction {
	return &Transaction{
		Entity:      types.NewEntityAt(now),
		ID:          id.NewTransactionID(),
		AccountID:   accountID,
		PackageID:   packageID,
		Type:        TypePurchase,
		TokenAmount: tokens,
		Amount:      price,
		Status:      StatusPending,
		Provider:    provider,
	}
}

// NewSettled builds an already completed record for movements that need
// no payment, such as bonus grants and expiries.
func NewSettled(accountID id.AccountID, typ Type, tokens, before, after int64, now time.Time) *Transaction {
	return &Transaction{
		Entity:        types.NewEntityAt(now),
		ID:            id.NewTransactionID(),
		AccountID:     accountID,
		Type:          typ,
		TokenAmount:   tokens,
		Amount:        types.Zero(types.DefaultCurrency),
		Status:        StatusCompleted,
		BalanceBefore: before,
		BalanceAfter:  after,
		CompletedAt:   now.UTC(),
	}
}

// Complete settles a pending purchase and records the balance movement.
func (t *Transaction) Complete(providerTxnID, paymentMode string, before, after int64, expiresAt, now time.Time) error {
	if t.Status.Terminal() {
		return ErrTerminal
	}
	t.Status = StatusCompleted
	t.ProviderTransactionID = providerTxnID
	t.PaymentMode = paymentMode
	t.BalanceBefore = before
	t.BalanceAfter = after
	t.ExpiresAt = expiresAt
	t.CompletedAt = now.UTC()
	t.TouchAt(now)
	return nil
}

// Fail marks a pending purchase failed.
func (t *Transaction) Fail(reason string, now time.Time) error {
	if t.Status.Terminal() {
		return ErrTerminal
	}
	t.Status = StatusFailed
	t.FailureReason = reason
	t.TouchAt(now)
	return nil
}

// RequireRefund closes a captured purchase that credited nothing.
func (t *Transaction) RequireRefund(providerTxnID, paymentMode, reason string, now time.Time) error {
	if t.Status.Terminal() {
		return ErrTerminal
	}
	t.Status = StatusRefundRequired
	t.ProviderTransactionID = providerTxnID
	t.PaymentMode = paymentMode
	t.FailureReason = reason
	t.TouchAt(now)
	return nil
}

// Clone returns a copy safe to mutate.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
