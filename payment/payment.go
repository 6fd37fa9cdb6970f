// Package payment defines the gateway contract and the canonical payment
// event every provider-specific payload is normalized into.
package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/xraph/tokenvault/types"
)

// Gateway errors.
var (
	ErrInvalidSignature = errors.New("tokenvault: invalid webhook signature")
	ErrMalformedPayload = errors.New("tokenvault: malformed webhook payload")
	ErrProvider         = errors.New("tokenvault: payment provider error")
)

// Provider names a payment gateway.
type Provider string

const (
	ProviderPhonePe  Provider = "phonepe"
	ProviderRazorpay Provider = "razorpay"
)

// State is the canonical payment outcome.
type State string

const (
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StatePending   State = "PENDING"
)

// Type routes an event to the subscription or token purchase handler.
type Type string

const (
	TypeSubscription Type = "subscription"
	TypeToken        Type = "token"
)

// Event is a normalized gateway notification or status poll result.
type Event struct {
	Provider Provider `json:"provider"`
	// MerchantOrderID is the reference we handed to the gateway.
	MerchantOrderID string `json:"merchant_order_id"`
	// ProviderOrderID is the gateway's own order reference.
	ProviderOrderID string      `json:"provider_order_id"`
	State           State       `json:"state"`
	Amount          types.Money `json:"amount"`
	TransactionID   string      `json:"transaction_id,omitempty"`
	PaymentMode     string      `json:"payment_mode,omitempty"`
	// InternalRefID is the local order or transaction id echoed back in
	// gateway metadata.
	InternalRefID string `json:"internal_ref_id,omitempty"`
	PaymentType   Type   `json:"payment_type,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	EventName     string `json:"event_name,omitempty"`
}

// Reference returns the best local reference carried by the event.
func (e *Event) Reference() string {
	if e.InternalRefID != "" {
		return e.InternalRefID
	}
	return e.MerchantOrderID
}

// OrderRequest asks a gateway to open a checkout.
type OrderRequest struct {
	// ReceiptID is the local order or transaction id.
	ReceiptID   string            `json:"receipt_id"`
	Amount      types.Money       `json:"amount"`
	PaymentType Type              `json:"payment_type"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// OrderResponse is what a client needs to finish checkout.
type OrderResponse struct {
	ProviderOrderID string `json:"provider_order_id"`
	RedirectURL     string `json:"redirect_url,omitempty"`
	State           State  `json:"state"`
	ExpiresAt       int64  `json:"expires_at,omitempty"`
}

// StatusQuery identifies an order to poll.
type StatusQuery struct {
	MerchantOrderID string
	ProviderOrderID string
}

// Gateway is implemented by each payment provider.
type Gateway interface {
	Provider() Provider
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	// VerifyWebhook authenticates a raw notification. signature is the
	// provider-specific header value.
	VerifyWebhook(payload []byte, signature string) error
	ParseWebhook(payload []byte) (*Event, error)
	CheckStatus(ctx context.Context, q StatusQuery) (*Event, error)
}

// NormalizeState maps provider state strings onto the canonical set.
// Unknown values are treated as pending so nothing is settled by accident.
func NormalizeState(s string) State {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "COMPLETED", "CAPTURED", "PAID", "SUCCESS":
		return StateCompleted
	case "FAILED", "FAILURE", "CANCELLED", "EXPIRED":
		return StateFailed
	default:
		return StatePending
	}
}
