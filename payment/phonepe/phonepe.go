// Package phonepe implements payment.Gateway for PhonePe Standard Checkout.
package phonepe

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xraph/tokenvault/payment"
	"github.com/xraph/tokenvault/types"
)

const (
	SandboxBaseURL    = "https://api-preprod.phonepe.com/apis/pg-sandbox"
	ProductionBaseURL = "https://api.phonepe.com/apis/pg"

	defaultExpireAfter = 20 * time.Minute
)

// Config holds merchant credentials. WebhookUsername and WebhookPassword
// are the values configured on the PhonePe dashboard for callbacks.
type Config struct {
	BaseURL         string        `json:"base_url" mapstructure:"base_url" yaml:"base_url"`
	AuthURL         string        `json:"auth_url" mapstructure:"auth_url" yaml:"auth_url"`
	ClientID        string        `json:"client_id" mapstructure:"client_id" yaml:"client_id"`
	ClientSecret    string        `json:"client_secret" mapstructure:"client_secret" yaml:"client_secret"`
	ClientVersion   string        `json:"client_version" mapstructure:"client_version" yaml:"client_version"`
	WebhookUsername string        `json:"webhook_username" mapstructure:"webhook_username" yaml:"webhook_username"`
	WebhookPassword string        `json:"webhook_password" mapstructure:"webhook_password" yaml:"webhook_password"`
	RedirectURL     string        `json:"redirect_url" mapstructure:"redirect_url" yaml:"redirect_url"`
	ExpireAfter     time.Duration `json:"expire_after" mapstructure:"expire_after" yaml:"expire_after"`
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.http = c }
}

// WithTokenSource swaps the OAuth token source, mainly for tests.
func WithTokenSource(ts TokenSource) Option {
	return func(g *Gateway) { g.tokens = ts }
}

// Gateway talks to PhonePe.
type Gateway struct {
	cfg    Config
	http   *http.Client
	tokens TokenSource
	// expectedAuth is the precomputed webhook Authorization value.
	expectedAuth string
}

var _ payment.Gateway = (*Gateway)(nil)

// New builds a PhonePe gateway.
func New(cfg Config, opts ...Option) *Gateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxBaseURL
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = cfg.BaseURL
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "1"
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = defaultExpireAfter
	}

	g := &Gateway{
		cfg:          cfg,
		http:         payment.DefaultHTTPClient(),
		expectedAuth: WebhookAuthorization(cfg.WebhookUsername, cfg.WebhookPassword),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.tokens == nil {
		g.tokens = NewCachedTokenSource(cfg, g.http, DefaultTokenTTL)
	}
	return g
}

func (g *Gateway) Provider() payment.Provider { return payment.ProviderPhonePe }

// WebhookAuthorization computes hex(SHA256(base64(SHA256(username:password)))).
func WebhookAuthorization(username, password string) string {
	inner := sha256.Sum256([]byte(username + ":" + password))
	encoded := base64.StdEncoding.EncodeToString(inner[:])
	outer := sha256.Sum256([]byte(encoded))
	return hex.EncodeToString(outer[:])
}

// VerifyWebhook compares the Authorization header in constant time.
func (g *Gateway) VerifyWebhook(_ []byte, signature string) error {
	got := strings.ToLower(strings.TrimSpace(signature))
	got = strings.TrimPrefix(got, "sha256 ")
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(g.expectedAuth)) != 1 {
		return payment.ErrInvalidSignature
	}
	return nil
}

// ──────────────────────────────────────────────────
// Wire types
// ──────────────────────────────────────────────────

type metaInfo struct {
	UDF1          string `json:"udf1,omitempty"`
	UDF2          string `json:"udf2,omitempty"`
	UDF3          string `json:"udf3,omitempty"`
	InternalRefID string `json:"internalRefId,omitempty"`
	PaymentType   string `json:"paymentType,omitempty"`
}

func (m metaInfo) ref() string {
	if m.InternalRefID != "" {
		return m.InternalRefID
	}
	return m.UDF1
}

func (m metaInfo) paymentType() payment.Type {
	if m.PaymentType != "" {
		return payment.Type(m.PaymentType)
	}
	return payment.Type(m.UDF2)
}

type paymentDetail struct {
	TransactionID     string `json:"transactionId"`
	PaymentMode       string `json:"paymentMode"`
	Timestamp         int64  `json:"timestamp"`
	Amount            int64  `json:"amount"`
	State             string `json:"state"`
	ErrorCode         string `json:"errorCode,omitempty"`
	DetailedErrorCode string `json:"detailedErrorCode,omitempty"`
}

type orderStatus struct {
	OrderID         string          `json:"orderId"`
	MerchantOrderID string          `json:"merchantOrderId"`
	State           string          `json:"state"`
	Amount          int64           `json:"amount"`
	ExpireAt        int64           `json:"expireAt"`
	ErrorCode       string          `json:"errorCode,omitempty"`
	MetaInfo        metaInfo        `json:"metaInfo"`
	PaymentDetails  []paymentDetail `json:"paymentDetails"`
}

type webhookBody struct {
	Event   string      `json:"event"`
	Payload orderStatus `json:"payload"`
}

func (s *orderStatus) toEvent(eventName string) *payment.Event {
	ev := &payment.Event{
		Provider:        payment.ProviderPhonePe,
		MerchantOrderID: s.MerchantOrderID,
		ProviderOrderID: s.OrderID,
		State:           payment.NormalizeState(s.State),
		Amount:          types.INR(s.Amount),
		InternalRefID:   s.MetaInfo.ref(),
		PaymentType:     s.MetaInfo.paymentType(),
		EventName:       eventName,
	}
	if n := len(s.PaymentDetails); n > 0 {
		last := s.PaymentDetails[n-1]
		ev.TransactionID = last.TransactionID
		ev.PaymentMode = last.PaymentMode
		if ev.State == payment.StateFailed {
			ev.FailureReason = firstNonEmpty(last.DetailedErrorCode, last.ErrorCode)
		}
	}
	if ev.State == payment.StateFailed && ev.FailureReason == "" {
		ev.FailureReason = firstNonEmpty(s.ErrorCode, "payment failed")
	}
	return ev
}

// ParseWebhook decodes a callback body into the canonical event.
func (g *Gateway) ParseWebhook(payload []byte) (*payment.Event, error) {
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %w", payment.ErrMalformedPayload, err)
	}
	if body.Payload.MerchantOrderID == "" && body.Payload.MetaInfo.ref() == "" {
		return nil, fmt.Errorf("%w: missing merchantOrderId", payment.ErrMalformedPayload)
	}
	return body.Payload.toEvent(body.Event), nil
}

// ──────────────────────────────────────────────────
// API calls
// ──────────────────────────────────────────────────

type payRequest struct {
	MerchantOrderID string      `json:"merchantOrderId"`
	Amount          int64       `json:"amount"`
	ExpireAfter     int64       `json:"expireAfter"`
	MetaInfo        metaInfo    `json:"metaInfo"`
	PaymentFlow     paymentFlow `json:"paymentFlow"`
}

type paymentFlow struct {
	Type         string       `json:"type"`
	Message      string       `json:"message,omitempty"`
	MerchantURLs merchantURLs `json:"merchantUrls"`
}

type merchantURLs struct {
	RedirectURL string `json:"redirectUrl"`
}

type payResponse struct {
	OrderID     string `json:"orderId"`
	State       string `json:"state"`
	ExpireAt    int64  `json:"expireAt"`
	RedirectURL string `json:"redirectUrl"`
}

// CreateOrder opens a PG checkout for req.
func (g *Gateway) CreateOrder(ctx context.Context, req payment.OrderRequest) (*payment.OrderResponse, error) {
	redirect := req.RedirectURL
	if redirect == "" {
		redirect = g.cfg.RedirectURL
	}
	body := payRequest{
		MerchantOrderID: req.ReceiptID,
		Amount:          req.Amount.Amount,
		ExpireAfter:     int64(g.cfg.ExpireAfter / time.Second),
		MetaInfo: metaInfo{
			UDF1: req.ReceiptID,
			UDF2: string(req.PaymentType),
			UDF3: req.Metadata["email"],
		},
		PaymentFlow: paymentFlow{
			Type:         "PG_CHECKOUT",
			MerchantURLs: merchantURLs{RedirectURL: redirect},
		},
	}

	var out payResponse
	if err := g.authorized(ctx, http.MethodPost, g.cfg.BaseURL+"/checkout/v2/pay", body, &out); err != nil {
		return nil, err
	}
	return &payment.OrderResponse{
		ProviderOrderID: out.OrderID,
		RedirectURL:     out.RedirectURL,
		State:           payment.NormalizeState(out.State),
		ExpiresAt:       out.ExpireAt,
	}, nil
}

// CheckStatus polls the order by merchant order id.
func (g *Gateway) CheckStatus(ctx context.Context, q payment.StatusQuery) (*payment.Event, error) {
	if q.MerchantOrderID == "" {
		return nil, fmt.Errorf("phonepe: status query needs a merchant order id")
	}
	endpoint := g.cfg.BaseURL + "/checkout/v2/order/" + url.PathEscape(q.MerchantOrderID) + "/status?details=false"

	var out orderStatus
	if err := g.authorized(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	if out.MerchantOrderID == "" {
		out.MerchantOrderID = q.MerchantOrderID
	}
	return out.toEvent("status_check"), nil
}

func (g *Gateway) authorized(ctx context.Context, method, endpoint string, body, out any) error {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return err
	}
	req, err := payment.NewJSONRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "O-Bearer "+token)
	return payment.DoJSON(g.http, payment.ProviderPhonePe, req, out)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
