// Package plugin lets integrations observe tokenvault without touching the
// engine. A plugin implements Plugin plus any of the hook interfaces below;
// the registry discovers them once at registration.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/payment"
	"github.com/xraph/tokenvault/plan"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. v is the *tokenvault.Vault.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, v any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Account and subscription hooks
// ──────────────────────────────────────────────────

type OnAccountCreated interface {
	Plugin
	OnAccountCreated(ctx context.Context, a *account.Account) error
}

// OnSubscriptionActivated fires after a committed activation or renewal.
type OnSubscriptionActivated interface {
	Plugin
	OnSubscriptionActivated(ctx context.Context, a *account.Account, p *plan.Plan, renewal bool) error
}

// OnSubscriptionExpired fires for each account zeroed by the expiry sweep.
type OnSubscriptionExpired interface {
	Plugin
	OnSubscriptionExpired(ctx context.Context, a *account.Account, expiredTokens int64) error
}

// OnDailyRefresh fires once per refresh run.
type OnDailyRefresh interface {
	Plugin
	OnDailyRefresh(ctx context.Context, refreshed int, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Balance hooks
// ──────────────────────────────────────────────────

type OnTokensDeducted interface {
	Plugin
	OnTokensDeducted(ctx context.Context, accountID id.AccountID, d account.Deduction, remaining int64) error
}

// OnTokensCredited fires for purchased, bonus and prize credits. bucket is
// one of "purchased", "bonus" or "prize".
type OnTokensCredited interface {
	Plugin
	OnTokensCredited(ctx context.Context, accountID id.AccountID, bucket string, amount int64) error
}

type OnMilestoneReached interface {
	Plugin
	OnMilestoneReached(ctx context.Context, referrerID id.AccountID, target int, reward int64) error
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

type OnPaymentCompleted interface {
	Plugin
	OnPaymentCompleted(ctx context.Context, ev *payment.Event) error
}

type OnPaymentFailed interface {
	Plugin
	OnPaymentFailed(ctx context.Context, ev *payment.Event) error
}

// OnWebhookReceived fires after a webhook passed signature verification.
type OnWebhookReceived interface {
	Plugin
	OnWebhookReceived(ctx context.Context, provider payment.Provider, payload []byte) error
}

// OnWebhookRejected fires when verification or parsing fails.
type OnWebhookRejected interface {
	Plugin
	OnWebhookRejected(ctx context.Context, provider payment.Provider, reason error) error
}
