// Package order tracks subscription checkouts from creation at the gateway
// to a terminal payment outcome.
package order

import (
	"errors"
	"time"

	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/types"
)

// ErrTerminal is returned when a completed, failed or cancelled order is
// asked to transition again.
var ErrTerminal = errors.New("tokenvault: order already in a terminal state")

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Type string

const (
	TypeSubscription Type = "subscription"
	TypeToken        Type = "token"
)

// Order is a subscription payment. ID doubles as the client order id sent
// to the gateway as the merchant reference.
type Order struct {
	types.Entity
	ID                    id.OrderID   `json:"id"`
	ProviderOrderID       string       `json:"provider_order_id,omitempty"`
	Provider              string       `json:"provider"`
	AccountEmail          string       `json:"account_email"`
	AccountName           string       `json:"account_name,omitempty"`
	AccountID             id.AccountID `json:"account_id,omitempty"`
	PlanID                id.PlanID    `json:"plan_id"`
	Amount                types.Money  `json:"amount"`
	Status                Status       `json:"status"`
	Type                  Type         `json:"type"`
	ProviderTransactionID string       `json:"provider_transaction_id,omitempty"`
	PaymentMode           string       `json:"payment_mode,omitempty"`
	FailureReason         string       `json:"failure_reason,omitempty"`
	CompletedAt           time.Time    `json:"completed_at,omitempty"`
	FailedAt              time.Time    `json:"failed_at,omitempty"`
	Version               int64        `json:"version"`
}

// New builds a pending subscription order.
func New(provider, email string, planID id.PlanID, amount types.Money, now time.Time) *Order {
	return &Order{
		Entity:       types.NewEntityAt(now),
		ID:           id.NewOrderID(),
		Provider:     provider,
		AccountEmail: email,
		PlanID:       planID,
		Amount:       amount,
		Status:       StatusPending,
		Type:         TypeSubscription,
	}
}

// Complete moves a pending order to completed. Terminal orders are sticky.
func (o *Order) Complete(providerTxnID, paymentMode string, now time.Time) error {
	if o.Status.Terminal() {
		return ErrTerminal
	}
	o.Status = StatusCompleted
	o.ProviderTransactionID = providerTxnID
	o.PaymentMode = paymentMode
	o.CompletedAt = now.UTC()
	o.TouchAt(now)
	return nil
}

// Fail moves a pending order to failed with reason.
func (o *Order) Fail(reason string, now time.Time) error {
	if o.Status.Terminal() {
		return ErrTerminal
	}
	o.Status = StatusFailed
	o.FailureReason = reason
	o.FailedAt = now.UTC()
	o.TouchAt(now)
	return nil
}

// Clone returns a copy safe to mutate.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}
