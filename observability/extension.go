// Package observability provides a metrics extension for tokenvault that
// records lifecycle event counts through a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/payment"
	"github.com/xraph/tokenvault/plan"
	"github.com/xraph/tokenvault/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                  = (*MetricsExtension)(nil)
	_ plugin.OnAccountCreated        = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionActivated = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionExpired   = (*MetricsExtension)(nil)
	_ plugin.OnDailyRefresh          = (*MetricsExtension)(nil)
	_ plugin.OnTokensDeducted        = (*MetricsExtension)(nil)
	_ plugin.OnTokensCredited        = (*MetricsExtension)(nil)
	_ plugin.OnMilestoneReached      = (*MetricsExtension)(nil)
	_ plugin.OnPaymentCompleted      = (*MetricsExtension)(nil)
	_ plugin.OnPaymentFailed         = (*MetricsExtension)(nil)
	_ plugin.OnWebhookReceived       = (*MetricsExtension)(nil)
	_ plugin.OnWebhookRejected       = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// Credit buckets tracked by TokensCredited.
var creditBuckets = []string{"daily", "purchased", "bonus", "prize"}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a tokenvault plugin to track token and payment metrics.
type MetricsExtension struct {
	// Account metrics
	AccountsCreated Counter

	// Subscription metrics
	SubscriptionActivated Counter
	SubscriptionRenewed   Counter
	SubscriptionExpired   Counter
	TokensExpired         Counter
	RefreshAccounts       Counter
	RefreshLatency        Histogram

	// Balance metrics
	Deductions      Counter
	TokensDeducted  Counter
	DeductionSize   Histogram
	TokensCredited  map[string]Counter
	MilestonesPaid  Counter
	MilestoneTokens Counter

	// Payment metrics
	PaymentCompleted Counter
	PaymentFailed    Counter
	PaymentAmount    Histogram
	WebhookReceived  Counter
	WebhookRejected  Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided
// MetricFactory. Use NewPrometheusFactory for a Prometheus registry.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	m := &MetricsExtension{
		AccountsCreated: factory.Counter("tokenvault.account.created"),

		SubscriptionActivated: factory.Counter("tokenvault.subscription.activated"),
		SubscriptionRenewed:   factory.Counter("tokenvault.subscription.renewed"),
		SubscriptionExpired:   factory.Counter("tokenvault.subscription.expired"),
		TokensExpired:         factory.Counter("tokenvault.subscription.expired_tokens"),
		RefreshAccounts:       factory.Counter("tokenvault.refresh.accounts"),
		RefreshLatency:        factory.Histogram("tokenvault.refresh.latency_ms"),

		Deductions:      factory.Counter("tokenvault.balance.deductions"),
		TokensDeducted:  factory.Counter("tokenvault.balance.deducted_tokens"),
		DeductionSize:   factory.Histogram("tokenvault.balance.deduction_size"),
		TokensCredited:  make(map[string]Counter, len(creditBuckets)),
		MilestonesPaid:  factory.Counter("tokenvault.referral.milestones"),
		MilestoneTokens: factory.Counter("tokenvault.referral.milestone_tokens"),

		PaymentCompleted: factory.Counter("tokenvault.payment.completed"),
		PaymentFailed:    factory.Counter("tokenvault.payment.failed"),
		PaymentAmount:    factory.Histogram("tokenvault.payment.amount_minor"),
		WebhookReceived:  factory.Counter("tokenvault.webhook.received"),
		WebhookRejected:  factory.Counter("tokenvault.webhook.rejected"),
	}
	for _, b := range creditBuckets {
		m.TokensCredited[b] = factory.Counter("tokenvault.balance.credited_" + b)
	}
	return m
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnAccountCreated implements plugin.OnAccountCreated.
func (m *MetricsExtension) OnAccountCreated(_ context.Context, _ *account.Account) error {
	m.AccountsCreated.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionActivated implements plugin.OnSubscriptionActivated.
func (m *MetricsExtension) OnSubscriptionActivated(_ context.Context, _ *account.Account, _ *plan.Plan, renewal bool) error {
	if renewal {
		m.SubscriptionRenewed.Inc()
	} else {
		m.SubscriptionActivated.Inc()
	}
	return nil
}

// OnSubscriptionExpired implements plugin.OnSubscriptionExpired.
func (m *MetricsExtension) OnSubscriptionExpired(_ context.Context, _ *account.Account, expiredTokens int64) error {
	m.SubscriptionExpired.Inc()
	m.TokensExpired.Add(float64(expiredTokens))
	return nil
}

// OnDailyRefresh implements plugin.OnDailyRefresh.
func (m *MetricsExtension) OnDailyRefresh(_ context.Context, refreshed int, elapsed time.Duration) error {
	m.RefreshAccounts.Add(float64(refreshed))
	m.RefreshLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// ──────────────────────────────────────────────────
// Balance hooks
// ──────────────────────────────────────────────────

// OnTokensDeducted implements plugin.OnTokensDeducted.
func (m *MetricsExtension) OnTokensDeducted(_ context.Context, _ id.AccountID, d account.Deduction, _ int64) error {
	sum := float64(d.Sum())
	m.Deductions.Inc()
	m.TokensDeducted.Add(sum)
	m.DeductionSize.Observe(sum)
	return nil
}

// OnTokensCredited implements plugin.OnTokensCredited. Unknown buckets are
// ignored.
func (m *MetricsExtension) OnTokensCredited(_ context.Context, _ id.AccountID, bucket string, amount int64) error {
	if c, ok := m.TokensCredited[bucket]; ok {
		c.Add(float64(amount))
	}
	return nil
}

// OnMilestoneReached implements plugin.OnMilestoneReached.
func (m *MetricsExtension) OnMilestoneReached(_ context.Context, _ id.AccountID, _ int, reward int64) error {
	m.MilestonesPaid.Inc()
	m.MilestoneTokens.Add(float64(reward))
	return nil
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentCompleted implements plugin.OnPaymentCompleted.
func (m *MetricsExtension) OnPaymentCompleted(_ context.Context, ev *payment.Event) error {
	m.PaymentCompleted.Inc()
	m.PaymentAmount.Observe(float64(ev.Amount.Amount))
	return nil
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (m *MetricsExtension) OnPaymentFailed(_ context.Context, _ *payment.Event) error {
	m.PaymentFailed.Inc()
	return nil
}

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (m *MetricsExtension) OnWebhookReceived(_ context.Context, _ payment.Provider, _ []byte) error {
	m.WebhookReceived.Inc()
	return nil
}

// OnWebhookRejected implements plugin.OnWebhookRejected.
func (m *MetricsExtension) OnWebhookRejected(_ context.Context, _ payment.Provider, _ error) error {
	m.WebhookRejected.Inc()
	return nil
}
