package tokenvault

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/order"
	"github.com/xraph/tokenvault/payment"
	"github.com/xraph/tokenvault/txn"
	"github.com/xraph/tokenvault/types"
)

// SubscriptionCheckout asks for a subscription order. The email need not
// belong to an account yet: guest checkouts create the account when the
// payment completes.
type SubscriptionCheckout struct {
	Provider    payment.Provider
	Email       string
	Name        string
	PlanID      id.PlanID
	RedirectURL string
}

// TokenCheckout asks for a token package purchase.
type TokenCheckout struct {
	Provider    payment.Provider
	AccountID   id.AccountID
	PackageID   id.PackageID
	RedirectURL string
}

// Checkout is what the client needs to send the buyer to the gateway.
type Checkout struct {
	// Reference is the local order or transaction id, also the merchant
	// order id at the gateway.
	Reference       string           `json:"reference"`
	PaymentType     payment.Type     `json:"payment_type"`
	Provider        payment.Provider `json:"provider"`
	ProviderOrderID string           `json:"provider_order_id"`
	RedirectURL     string           `json:"redirect_url,omitempty"`
	Amount          types.Money      `json:"amount"`
}

// CreateSubscriptionOrder records a pending order and opens it at the
// gateway. When the gateway call fails the local order is removed again.
func (v *Vault) CreateSubscriptionOrder(ctx context.Context, in SubscriptionCheckout) (co *Checkout, err error) {
	ctx, span := v.startSpan(ctx, "CreateSubscriptionOrder",
		attribute.String("provider", string(in.Provider)),
		attribute.String("plan_id", in.PlanID.String()),
	)
	defer func() { endSpan(span, err) }()

	email := account.NormalizeEmail(in.Email)
	if !strings.Contains(email, "@") {
		return nil, ValidationError{Field: "email", Message: "must be a valid address"}
	}
	gw, err := v.gateway(in.Provider)
	if err != nil {
		return nil, err
	}

	p, err := v.store.GetPlan(ctx, in.PlanID)
	if err != nil {
		return nil, err
	}
	if !p.Purchasable() {
		return nil, ErrPlanNotPurchasable
	}

	o := order.New(string(in.Provider), email, p.ID, p.Price, v.clock())
	o.AccountName = strings.TrimSpace(in.Name)
	if existing, lookupErr := v.store.GetAccountByEmail(ctx, email); lookupErr == nil {
		o.AccountID = existing.ID
	} else if !errors.Is(lookupErr, ErrAccountNotFound) {
		return nil, lookupErr
	}

	if err := v.store.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	resp, err := gw.CreateOrder(ctx, payment.OrderRequest{
		ReceiptID:   o.ID.String(),
		Amount:      o.Amount,
		PaymentType: payment.TypeSubscription,
		RedirectURL: in.RedirectURL,
		Metadata: map[string]string{
			"email":   email,
			"plan_id": p.ID.String(),
		},
	})
	if err != nil {
		if delErr := v.store.DeleteOrder(ctx, o.ID); delErr != nil {
			v.logger.Error("failed to roll back order",
				"order_id", o.ID.String(),
				"error", delErr,
			)
		}
		return nil, providerError(in.Provider, err)
	}

	o.ProviderOrderID = resp.ProviderOrderID
	o.TouchAt(v.clock())
	if err := v.store.UpdateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("record provider order: %w", err)
	}

	v.logger.Info("subscription order created",
		"order_id", o.ID.String(),
		"provider", in.Provider,
		"provider_order_id", resp.ProviderOrderID,
		"amount", o.Amount.String(),
	)

	return &Checkout{
		Reference:       o.ID.String(),
		PaymentType:     payment.TypeSubscription,
		Provider:        in.Provider,
		ProviderOrderID: resp.ProviderOrderID,
		RedirectURL:     resp.RedirectURL,
		Amount:          o.Amount,
	}, nil
}

// CreateTokenPurchase records a pending purchase transaction and opens it
// at the gateway. Only accounts with an open window may buy tokens.
func (v *Vault) CreateTokenPurchase(ctx context.Context, in TokenCheckout) (co *Checkout, err error) {
	ctx, span := v.startSpan(ctx, "CreateTokenPurchase",
		attribute.String("provider", string(in.Provider)),
		attribute.String("account_id", in.AccountID.String()),
	)
	defer func() { endSpan(span, err) }()

	gw, err := v.gateway(in.Provider)
	if err != nil {
		return nil, err
	}

	a, err := v.store.GetAccount(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}
	if !a.PlanActive(v.clock()) {
		return nil, ErrNoActiveSubscription
	}

	pkg, err := v.store.GetPackage(ctx, in.PackageID)
	if err != nil {
		return nil, err
	}
	if !pkg.Purchasable() {
		return nil, ErrPlanNotPurchasable
	}

	t := txn.NewPurchase(a.ID, pkg.ID, pkg.Tokens, pkg.Price, string(in.Provider), v.clock())
	if err := v.store.CreateTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	resp, err := gw.CreateOrder(ctx, payment.OrderRequest{
		ReceiptID:   t.ID.String(),
		Amount:      t.Amount,
		PaymentType: payment.TypeToken,
		RedirectURL: in.RedirectURL,
		Metadata: map[string]string{
			"email":      a.Email,
			"package_id": pkg.ID.String(),
		},
	})
	if err != nil {
		if delErr := v.store.DeleteTransaction(ctx, t.ID); delErr != nil {
			v.logger.Error("failed to roll back transaction",
				"transaction_id", t.ID.String(),
				"error", delErr,
			)
		}
		return nil, providerError(in.Provider, err)
	}

	t.ProviderOrderID = resp.ProviderOrderID
	t.TouchAt(v.clock())
	if err := v.store.UpdateTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("record provider order: %w", err)
	}

	v.logger.Info("token purchase created",
		"transaction_id", t.ID.String(),
		"account_id", a.ID.String(),
		"provider", in.Provider,
		"tokens", t.TokenAmount,
	)

	return &Checkout{
		Reference:       t.ID.String(),
		PaymentType:     payment.TypeToken,
		Provider:        in.Provider,
		ProviderOrderID: resp.ProviderOrderID,
		RedirectURL:     resp.RedirectURL,
		Amount:          t.Amount,
	}, nil
}

// providerError makes sure gateway failures match ErrPaymentProvider.
func providerError(provider payment.Provider, err error) error {
	if errors.Is(err, ErrPaymentProvider) {
		return fmt.Errorf("%s: %w", provider, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrPaymentProvider, provider, err)
}
