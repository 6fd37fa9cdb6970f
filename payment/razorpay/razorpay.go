// Package razorpay implements payment.Gateway for Razorpay Orders.
//
// Two kinds of signed input are accepted. Checkout callbacks post
// razorpay_order_id, razorpay_payment_id and razorpay_signature, signed
// with the key secret over "order_id|payment_id". Server webhooks carry the
// raw body signed with the webhook secret in X-Razorpay-Signature.
package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/xraph/tokenvault/payment"
	"github.com/xraph/tokenvault/types"
)

const DefaultBaseURL = "https://api.razorpay.com"

// Config holds API keys.
type Config struct {
	BaseURL       string `json:"base_url" mapstructure:"base_url" yaml:"base_url"`
	KeyID         string `json:"key_id" mapstructure:"key_id" yaml:"key_id"`
	KeySecret     string `json:"key_secret" mapstructure:"key_secret" yaml:"key_secret"`
	WebhookSecret string `json:"webhook_secret" mapstructure:"webhook_secret" yaml:"webhook_secret"`
}

type Option func(*Gateway)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.http = c }
}

// Gateway talks to Razorpay.
type Gateway struct {
	cfg  Config
	http *http.Client
}

var _ payment.Gateway = (*Gateway)(nil)

func New(cfg Config, opts ...Option) *Gateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	g := &Gateway{cfg: cfg, http: payment.DefaultHTTPClient()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Provider() payment.Provider { return payment.ProviderRazorpay }

// Sign returns hex(HMAC-SHA256(message, secret)).
func Sign(message, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message)) //nolint:errcheck // hash writes never fail
	return hex.EncodeToString(mac.Sum(nil))
}

// CheckoutSignature is the signature Razorpay posts after checkout.
func CheckoutSignature(orderID, paymentID, keySecret string) string {
	return Sign(orderID+"|"+paymentID, keySecret)
}

func equalHex(a, b string) bool {
	return a != "" && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// VerifyWebhook accepts either shape. A non-empty signature is checked
// against the webhook secret over the raw body; otherwise the payload must
// be a checkout callback carrying its own razorpay_signature.
func (g *Gateway) VerifyWebhook(payload []byte, signature string) error {
	if signature != "" {
		if !equalHex(signature, Sign(string(payload), g.cfg.WebhookSecret)) {
			return payment.ErrInvalidSignature
		}
		return nil
	}

	var cb callback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return payment.ErrInvalidSignature
	}
	if cb.OrderID == "" || cb.PaymentID == "" {
		return payment.ErrInvalidSignature
	}
	if !equalHex(cb.Signature, CheckoutSignature(cb.OrderID, cb.PaymentID, g.cfg.KeySecret)) {
		return payment.ErrInvalidSignature
	}
	return nil
}

// ──────────────────────────────────────────────────
// Wire types
// ──────────────────────────────────────────────────

type callback struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

type notes struct {
	InternalRefID string `json:"internal_ref_id,omitempty"`
	PaymentType   string `json:"payment_type,omitempty"`
	Email         string `json:"email,omitempty"`
}

type paymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	ErrorCode        string `json:"error_code,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	Notes            notes  `json:"notes"`
}

type orderEntity struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
	Notes    notes  `json:"notes"`
}

type webhookBody struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment,omitempty"`
		Order *struct {
			Entity orderEntity `json:"entity"`
		} `json:"order,omitempty"`
	} `json:"payload"`
}

// paymentState maps a payment entity status. Authorized payments are not
// captured yet and stay pending.
func paymentState(status string) payment.State {
	switch status {
	case "captured":
		return payment.StateCompleted
	case "failed":
		return payment.StateFailed
	default:
		return payment.StatePending
	}
}

func money(amount int64, currency string) types.Money {
	if currency == "" {
		return types.INR(amount)
	}
	return types.Money{Amount: amount, Currency: strings.ToLower(currency)}
}

// ParseWebhook decodes either a server webhook or a checkout callback.
func (g *Gateway) ParseWebhook(payload []byte) (*payment.Event, error) {
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %w", payment.ErrMalformedPayload, err)
	}

	if body.Event != "" {
		return parseServerWebhook(&body)
	}

	var cb callback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("%w: %w", payment.ErrMalformedPayload, err)
	}
	if cb.OrderID == "" {
		return nil, fmt.Errorf("%w: missing razorpay_order_id", payment.ErrMalformedPayload)
	}
	// A verified checkout callback means the payment went through. The
	// signature covers only the order and payment ids, so the record is
	// resolved by the gateway order id and nothing else in the body.
	return &payment.Event{
		Provider:        payment.ProviderRazorpay,
		ProviderOrderID: cb.OrderID,
		State:           payment.StateCompleted,
		TransactionID:   cb.PaymentID,
		EventName:       "checkout.callback",
	}, nil
}

func parseServerWebhook(body *webhookBody) (*payment.Event, error) {
	ev := &payment.Event{Provider: payment.ProviderRazorpay, EventName: body.Event}

	if p := body.Payload.Payment; p != nil {
		e := p.Entity
		ev.ProviderOrderID = e.OrderID
		ev.TransactionID = e.ID
		ev.PaymentMode = e.Method
		ev.Amount = money(e.Amount, e.Currency)
		ev.State = paymentState(e.Status)
		ev.InternalRefID = e.Notes.InternalRefID
		ev.PaymentType = payment.Type(e.Notes.PaymentType)
		if ev.State == payment.StateFailed {
			// One attempt failed; the order stays open for a retry.
			ev.State = payment.StatePending
			ev.FailureReason = firstNonEmpty(e.ErrorDescription, e.ErrorCode, "payment failed")
		}
	}
	if o := body.Payload.Order; o != nil {
		e := o.Entity
		if ev.ProviderOrderID == "" {
			ev.ProviderOrderID = e.ID
		}
		ev.MerchantOrderID = e.Receipt
		if ev.InternalRefID == "" {
			ev.InternalRefID = e.Notes.InternalRefID
		}
		if ev.PaymentType == "" {
			ev.PaymentType = payment.Type(e.Notes.PaymentType)
		}
		if e.Status == "paid" {
			ev.State = payment.StateCompleted
		}
		if ev.Amount.IsZero() {
			ev.Amount = money(e.Amount, e.Currency)
		}
	}
	if ev.State == "" {
		ev.State = payment.StatePending
	}
	if ev.ProviderOrderID == "" && ev.InternalRefID == "" {
		return nil, fmt.Errorf("%w: no order reference in %q", payment.ErrMalformedPayload, body.Event)
	}
	return ev, nil
}

// ──────────────────────────────────────────────────
// API calls
// ──────────────────────────────────────────────────

type createOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Notes    notes  `json:"notes"`
}

// CreateOrder opens a Razorpay order.
func (g *Gateway) CreateOrder(ctx context.Context, req payment.OrderRequest) (*payment.OrderResponse, error) {
	currency := req.Amount.Currency
	if currency == "" {
		currency = types.DefaultCurrency
	}
	body := createOrderRequest{
		Amount:   req.Amount.Amount,
		Currency: strings.ToUpper(currency),
		Receipt:  req.ReceiptID,
		Notes: notes{
			InternalRefID: req.ReceiptID,
			PaymentType:   string(req.PaymentType),
			Email:         req.Metadata["email"],
		},
	}

	var out orderEntity
	if err := g.call(ctx, http.MethodPost, "/v1/orders", body, &out); err != nil {
		return nil, err
	}
	return &payment.OrderResponse{ProviderOrderID: out.ID, State: payment.StatePending}, nil
}

// CheckStatus lists the payments of an order and reports the best outcome:
// any captured payment wins, otherwise the latest failure, otherwise
// pending.
func (g *Gateway) CheckStatus(ctx context.Context, q payment.StatusQuery) (*payment.Event, error) {
	if q.ProviderOrderID == "" {
		return nil, fmt.Errorf("razorpay: status query needs a provider order id")
	}

	var order orderEntity
	if err := g.call(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(q.ProviderOrderID), nil, &order); err != nil {
		return nil, err
	}
	var list struct {
		Items []paymentEntity `json:"items"`
	}
	if err := g.call(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(q.ProviderOrderID)+"/payments", nil, &list); err != nil {
		return nil, err
	}

	ev := &payment.Event{
		Provider:        payment.ProviderRazorpay,
		MerchantOrderID: firstNonEmpty(q.MerchantOrderID, order.Receipt),
		ProviderOrderID: order.ID,
		State:           payment.StatePending,
		Amount:          money(order.Amount, order.Currency),
		InternalRefID:   order.Notes.InternalRefID,
		PaymentType:     payment.Type(order.Notes.PaymentType),
		EventName:       "status_check",
	}
	for _, p := range list.Items {
		switch paymentState(p.Status) {
		case payment.StateCompleted:
			ev.State = payment.StateCompleted
			ev.TransactionID = p.ID
			ev.PaymentMode = p.Method
			ev.FailureReason = ""
			return ev, nil
		case payment.StateFailed:
			ev.State = payment.StateFailed
			ev.TransactionID = p.ID
			ev.FailureReason = firstNonEmpty(p.ErrorDescription, p.ErrorCode, "payment failed")
		}
	}
	return ev, nil
}

func (g *Gateway) call(ctx context.Context, method, path string, body, out any) error {
	req, err := payment.NewJSONRequest(ctx, method, g.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.cfg.KeyID, g.cfg.KeySecret)
	return payment.DoJSON(g.http, payment.ProviderRazorpay, req, out)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
