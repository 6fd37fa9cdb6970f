// Package api exposes the vault over HTTP: gateway webhooks, checkout,
// payment verification and balance operations.
package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xraph/tokenvault"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/payment"
)

// maxWebhookBytes bounds a webhook body.
const maxWebhookBytes = 1 << 20

// DefaultSignatureHeaders maps providers to the header carrying their
// webhook signature.
var DefaultSignatureHeaders = map[payment.Provider]string{
	payment.ProviderPhonePe:  "Authorization",
	payment.ProviderRazorpay: "X-Razorpay-Signature",
}

// Handler serves the vault's HTTP routes.
type Handler struct {
	vault   *tokenvault.Vault
	logger  *slog.Logger
	headers map[payment.Provider]string
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(h *Handler) { h.logger = l } }

// WithSignatureHeader overrides the signature header for provider.
func WithSignatureHeader(provider payment.Provider, header string) Option {
	return func(h *Handler) { h.headers[provider] = header }
}

// New creates a Handler for v.
func New(v *tokenvault.Vault, opts ...Option) *Handler {
	h := &Handler{
		vault:   v,
		logger:  v.Logger(),
		headers: make(map[payment.Provider]string, len(DefaultSignatureHeaders)),
	}
	for p, hdr := range DefaultSignatureHeaders {
		h.headers[p] = hdr
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Health)
	r.POST("/webhooks/:provider", h.Webhook)
	r.POST("/checkout/subscription", h.CheckoutSubscription)
	r.POST("/checkout/tokens", h.CheckoutTokens)
	r.POST("/payments/:ref/verify", h.VerifyPayment)
	r.GET("/accounts/:id/balance", h.Balance)
	r.POST("/accounts/:id/deduct", h.Deduct)
}

// Router returns a gin engine with the routes mounted under basePath.
func (h *Handler) Router(basePath string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	h.Register(r.Group(basePath))
	return r
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
}

// Health reports whether the store is reachable.
func (h *Handler) Health(c *gin.Context) {
	if err := h.vault.Store().Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Webhook authenticates a gateway notification and acknowledges it. The
// gateway gets a 200 even for rejected payloads so it stops redelivering.
func (h *Handler) Webhook(c *gin.Context) {
	provider := payment.Provider(strings.ToLower(c.Param("provider")))

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}

	ack, err := h.vault.HandleWebhook(c.Request.Context(), provider, payload, c.GetHeader(h.headers[provider]))
	if err != nil {
		h.logger.Debug("webhook not accepted",
			"provider", string(provider),
			"error", err,
		)
	}
	c.JSON(ack.HTTPStatus, ack)
}

type subscriptionRequest struct {
	Provider    string `json:"provider" binding:"required"`
	Email       string `json:"email" binding:"required"`
	Name        string `json:"name"`
	PlanID      string `json:"plan_id" binding:"required"`
	RedirectURL string `json:"redirect_url"`
}

// CheckoutSubscription opens a subscription order at the gateway.
func (h *Handler) CheckoutSubscription(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	planID, err := id.ParsePlanID(req.PlanID)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid plan_id"})
		return
	}

	co, err := h.vault.CreateSubscriptionOrder(c.Request.Context(), tokenvault.SubscriptionCheckout{
		Provider:    payment.Provider(req.Provider),
		Email:       req.Email,
		Name:        req.Name,
		PlanID:      planID,
		RedirectURL: req.RedirectURL,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, co)
}

type tokenRequest struct {
	Provider    string `json:"provider" binding:"required"`
	AccountID   string `json:"account_id" binding:"required"`
	PackageID   string `json:"package_id" binding:"required"`
	RedirectURL string `json:"redirect_url"`
}

// CheckoutTokens opens a token package purchase at the gateway.
func (h *Handler) CheckoutTokens(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	accountID, err := id.ParseAccountID(req.AccountID)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid account_id"})
		return
	}
	packageID, err := id.ParsePackageID(req.PackageID)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid package_id"})
		return
	}

	co, err := h.vault.CreateTokenPurchase(c.Request.Context(), tokenvault.TokenCheckout{
		Provider:    payment.Provider(req.Provider),
		AccountID:   accountID,
		PackageID:   packageID,
		RedirectURL: req.RedirectURL,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, co)
}

// VerifyPayment polls the gateway for a pending order or purchase.
func (h *Handler) VerifyPayment(c *gin.Context) {
	out, err := h.vault.VerifyPayment(c.Request.Context(), c.Param("ref"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Balance returns the per-bucket balance of an account.
func (h *Handler) Balance(c *gin.Context) {
	accountID, ok := accountParam(c)
	if !ok {
		return
	}
	b, err := h.vault.Balance(c.Request.Context(), accountID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

type deductRequest struct {
	Amount int64  `json:"amount" binding:"required,gt=0"`
	Reason string `json:"reason"`
}

// Deduct consumes tokens from an account.
func (h *Handler) Deduct(c *gin.Context) {
	accountID, ok := accountParam(c)
	if !ok {
		return
	}
	var req deductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	res, err := h.vault.Deduct(c.Request.Context(), accountID, req.Amount, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func accountParam(c *gin.Context) (id.AccountID, bool) {
	accountID, err := id.ParseAccountID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid account id"})
		return id.Nil, false
	}
	return accountID, true
}

// fail maps engine errors onto HTTP statuses.
func (h *Handler) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"path", c.FullPath(),
			"error", err,
		)
	}
	c.JSON(status, errorResponse{Error: err.Error()})
}

// StatusFor returns the HTTP status for an engine error.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case tokenvault.IsNotFound(err), errors.Is(err, tokenvault.ErrUnknownReference):
		return http.StatusNotFound
	case errors.Is(err, tokenvault.ErrInvalidInput), errors.Is(err, tokenvault.ErrPlanNotPurchasable):
		return http.StatusBadRequest
	case errors.Is(err, tokenvault.ErrProviderNotFound):
		return http.StatusUnprocessableEntity
	case tokenvault.IsBalanceError(err):
		return http.StatusPaymentRequired
	case errors.Is(err, tokenvault.ErrConcurrentUpdate), errors.Is(err, tokenvault.ErrAlreadyExists),
		errors.Is(err, tokenvault.ErrReferenceMismatch):
		return http.StatusConflict
	case errors.Is(err, tokenvault.ErrPaymentProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
