// Package audithook bridges tokenvault lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/payment"
	"github.com/xraph/tokenvault/plan"
	"github.com/xraph/tokenvault/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                  = (*Extension)(nil)
	_ plugin.OnAccountCreated        = (*Extension)(nil)
	_ plugin.OnSubscriptionActivated = (*Extension)(nil)
	_ plugin.OnSubscriptionExpired   = (*Extension)(nil)
	_ plugin.OnDailyRefresh          = (*Extension)(nil)
	_ plugin.OnTokensDeducted        = (*Extension)(nil)
	_ plugin.OnTokensCredited        = (*Extension)(nil)
	_ plugin.OnMilestoneReached      = (*Extension)(nil)
	_ plugin.OnPaymentCompleted      = (*Extension)(nil)
	_ plugin.OnPaymentFailed         = (*Extension)(nil)
	_ plugin.OnWebhookReceived       = (*Extension)(nil)
	_ plugin.OnWebhookRejected       = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a backend-neutral audit record.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges tokenvault lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Account and subscription hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (e *Extension) OnAccountCreated(ctx context.Context, a *account.Account) error {
	kv := []any{"email", a.Email}
	if !a.ReferredBy.IsNil() {
		kv = append(kv, "referred_by", a.ReferredBy.String())
	}
	return e.record(ctx, ActionAccountCreated, SeverityInfo, OutcomeSuccess,
		ResourceAccount, a.ID.String(), CategoryAccount, nil,
		kv...,
	)
}

// OnSubscriptionActivated implements plugin.OnSubscriptionActivated.
func (e *Extension) OnSubscriptionActivated(ctx context.Context, a *account.Account, p *plan.Plan, renewal bool) error {
	action := ActionSubscriptionActivated
	if renewal {
		action = ActionSubscriptionRenewed
	}
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, a.ID.String(), CategorySubscription, nil,
		"plan_id", p.ID.String(),
		"plan", p.Slug,
		"end_date", a.Subscription.EndDate.Format(time.RFC3339),
	)
}

// OnSubscriptionExpired implements plugin.OnSubscriptionExpired.
func (e *Extension) OnSubscriptionExpired(ctx context.Context, a *account.Account, expiredTokens int64) error {
	return e.record(ctx, ActionSubscriptionExpired, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, a.ID.String(), CategorySubscription, nil,
		"expired_tokens", expiredTokens,
	)
}

// OnDailyRefresh implements plugin.OnDailyRefresh.
func (e *Extension) OnDailyRefresh(ctx context.Context, refreshed int, elapsed time.Duration) error {
	return e.record(ctx, ActionDailyRefresh, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, "", CategorySubscription, nil,
		"refreshed", refreshed,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Balance and referral hooks
// ──────────────────────────────────────────────────

// OnTokensDeducted implements plugin.OnTokensDeducted.
func (e *Extension) OnTokensDeducted(ctx context.Context, accountID id.AccountID, d account.Deduction, remaining int64) error {
	return e.record(ctx, ActionTokensDeducted, SeverityInfo, OutcomeSuccess,
		ResourceBalance, accountID.String(), CategoryUsage, nil,
		"daily", d.Daily,
		"purchased", d.Purchased,
		"bonus", d.Bonus,
		"prize", d.Prize,
		"remaining", remaining,
	)
}

// OnTokensCredited implements plugin.OnTokensCredited.
func (e *Extension) OnTokensCredited(ctx context.Context, accountID id.AccountID, bucket string, amount int64) error {
	return e.record(ctx, ActionTokensCredited, SeverityInfo, OutcomeSuccess,
		ResourceBalance, accountID.String(), CategoryUsage, nil,
		"bucket", bucket,
		"amount", amount,
	)
}

// OnMilestoneReached implements plugin.OnMilestoneReached.
func (e *Extension) OnMilestoneReached(ctx context.Context, referrerID id.AccountID, target int, reward int64) error {
	return e.record(ctx, ActionMilestoneReached, SeverityInfo, OutcomeSuccess,
		ResourceReferral, referrerID.String(), CategoryReferral, nil,
		"target", target,
		"reward", reward,
	)
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentCompleted implements plugin.OnPaymentCompleted.
func (e *Extension) OnPaymentCompleted(ctx context.Context, ev *payment.Event) error {
	return e.record(ctx, ActionPaymentCompleted, SeverityInfo, OutcomeSuccess,
		ResourcePayment, ev.Reference(), CategoryPayment, nil,
		paymentMeta(ev)...,
	)
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (e *Extension) OnPaymentFailed(ctx context.Context, ev *payment.Event) error {
	var err error
	if ev.FailureReason != "" {
		err = fmt.Errorf("%s", ev.FailureReason)
	}
	return e.record(ctx, ActionPaymentFailed, SeverityWarning, OutcomeFailure,
		ResourcePayment, ev.Reference(), CategoryPayment, err,
		paymentMeta(ev)...,
	)
}

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (e *Extension) OnWebhookReceived(ctx context.Context, provider payment.Provider, payload []byte) error {
	return e.record(ctx, ActionWebhookReceived, SeverityInfo, OutcomeSuccess,
		ResourceWebhook, "", CategoryIntegration, nil,
		"provider", string(provider),
		"bytes", len(payload),
	)
}

// OnWebhookRejected implements plugin.OnWebhookRejected.
func (e *Extension) OnWebhookRejected(ctx context.Context, provider payment.Provider, reason error) error {
	return e.record(ctx, ActionWebhookRejected, SeverityCritical, OutcomeFailure,
		ResourceWebhook, "", CategoryIntegration, reason,
		"provider", string(provider),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func paymentMeta(ev *payment.Event) []any {
	return []any{
		"provider", string(ev.Provider),
		"provider_order_id", ev.ProviderOrderID,
		"transaction_id", ev.TransactionID,
		"payment_type", string(ev.PaymentType),
		"amount", ev.Amount.String(),
	}
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
