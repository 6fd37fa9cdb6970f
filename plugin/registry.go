package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/payment"
	"github.com/xraph/tokenvault/plan"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry holds registered plugins with their hook interfaces cached by
// type, so dispatch never needs a type assertion.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                  []OnInit
	onShutdown              []OnShutdown
	onAccountCreated        []OnAccountCreated
	onSubscriptionActivated []OnSubscriptionActivated
	onSubscriptionExpired   []OnSubscriptionExpired
	onDailyRefresh          []OnDailyRefresh
	onTokensDeducted        []OnTokensDeducted
	onTokensCredited        []OnTokensCredited
	onMilestoneReached      []OnMilestoneReached
	onPaymentCompleted      []OnPaymentCompleted
	onPaymentFailed         []OnPaymentFailed
	onWebhookReceived       []OnWebhookReceived
	onWebhookRejected       []OnWebhookRejected
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{logger: slog.Default(), timeout: DefaultTimeout}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin and caches the hooks it implements.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}
	r.plugins = append(r.plugins, p)

	var hooks []string

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnAccountCreated); ok {
		r.onAccountCreated = append(r.onAccountCreated, v)
		hooks = append(hooks, "OnAccountCreated")
	}
	if v, ok := p.(OnSubscriptionActivated); ok {
		r.onSubscriptionActivated = append(r.onSubscriptionActivated, v)
		hooks = append(hooks, "OnSubscriptionActivated")
	}
	if v, ok := p.(OnSubscriptionExpired); ok {
		r.onSubscriptionExpired = append(r.onSubscriptionExpired, v)
		hooks = append(hooks, "OnSubscriptionExpired")
	}
	if v, ok := p.(OnDailyRefresh); ok {
		r.onDailyRefresh = append(r.onDailyRefresh, v)
		hooks = append(hooks, "OnDailyRefresh")
	}
	if v, ok := p.(OnTokensDeducted); ok {
		r.onTokensDeducted = append(r.onTokensDeducted, v)
		hooks = append(hooks, "OnTokensDeducted")
	}
	if v, ok := p.(OnTokensCredited); ok {
		r.onTokensCredited = append(r.onTokensCredited, v)
		hooks = append(hooks, "OnTokensCredited")
	}
	if v, ok := p.(OnMilestoneReached); ok {
		r.onMilestoneReached = append(r.onMilestoneReached, v)
		hooks = append(hooks, "OnMilestoneReached")
	}
	if v, ok := p.(OnPaymentCompleted); ok {
		r.onPaymentCompleted = append(r.onPaymentCompleted, v)
		hooks = append(hooks, "OnPaymentCompleted")
	}
	if v, ok := p.(OnPaymentFailed); ok {
		r.onPaymentFailed = append(r.onPaymentFailed, v)
		hooks = append(hooks, "OnPaymentFailed")
	}
	if v, ok := p.(OnWebhookReceived); ok {
		r.onWebhookReceived = append(r.onWebhookReceived, v)
		hooks = append(hooks, "OnWebhookReceived")
	}
	if v, ok := p.(OnWebhookRejected); ok {
		r.onWebhookRejected = append(r.onWebhookRejected, v)
		hooks = append(hooks, "OnWebhookRejected")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"hooks", hooks,
	)
	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission
// ──────────────────────────────────────────────────

// emit calls fn for each plugin in a snapshot of list. Failures are
// logged and never reach the caller.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, list *[]T, fn func(T) error) {
	r.mu.RLock()
	plugins := *list
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin hook failed",
				"hook", hook,
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

func (r *Registry) EmitInit(ctx context.Context, v any) {
	emit(ctx, r, "OnInit", &r.onInit, func(p OnInit) error { return p.OnInit(ctx, v) })
}

func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", &r.onShutdown, func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

func (r *Registry) EmitAccountCreated(ctx context.Context, a *account.Account) {
	emit(ctx, r, "OnAccountCreated", &r.onAccountCreated, func(p OnAccountCreated) error {
		return p.OnAccountCreated(ctx, a)
	})
}

func (r *Registry) EmitSubscriptionActivated(ctx context.Context, a *account.Account, pl *plan.Plan, renewal bool) {
	emit(ctx, r, "OnSubscriptionActivated", &r.onSubscriptionActivated, func(p OnSubscriptionActivated) error {
		return p.OnSubscriptionActivated(ctx, a, pl, renewal)
	})
}

func (r *Registry) EmitSubscriptionExpired(ctx context.Context, a *account.Account, expiredTokens int64) {
	emit(ctx, r, "OnSubscriptionExpired", &r.onSubscriptionExpired, func(p OnSubscriptionExpired) error {
		return p.OnSubscriptionExpired(ctx, a, expiredTokens)
	})
}

func (r *Registry) EmitDailyRefresh(ctx context.Context, refreshed int, elapsed time.Duration) {
	emit(ctx, r, "OnDailyRefresh", &r.onDailyRefresh, func(p OnDailyRefresh) error {
		return p.OnDailyRefresh(ctx, refreshed, elapsed)
	})
}

func (r *Registry) EmitTokensDeducted(ctx context.Context, accountID id.AccountID, d account.Deduction, remaining int64) {
	emit(ctx, r, "OnTokensDeducted", &r.onTokensDeducted, func(p OnTokensDeducted) error {
		return p.OnTokensDeducted(ctx, accountID, d, remaining)
	})
}

func (r *Registry) EmitTokensCredited(ctx context.Context, accountID id.AccountID, bucket string, amount int64) {
	emit(ctx, r, "OnTokensCredited", &r.onTokensCredited, func(p OnTokensCredited) error {
		return p.OnTokensCredited(ctx, accountID, bucket, amount)
	})
}

func (r *Registry) EmitMilestoneReached(ctx context.Context, referrerID id.AccountID, target int, reward int64) {
	emit(ctx, r, "OnMilestoneReached", &r.onMilestoneReached, func(p OnMilestoneReached) error {
		return p.OnMilestoneReached(ctx, referrerID, target, reward)
	})
}

func (r *Registry) EmitPaymentCompleted(ctx context.Context, ev *payment.Event) {
	emit(ctx, r, "OnPaymentCompleted", &r.onPaymentCompleted, func(p OnPaymentCompleted) error {
		return p.OnPaymentCompleted(ctx, ev)
	})
}

func (r *Registry) EmitPaymentFailed(ctx context.Context, ev *payment.Event) {
	emit(ctx, r, "OnPaymentFailed", &r.onPaymentFailed, func(p OnPaymentFailed) error {
		return p.OnPaymentFailed(ctx, ev)
	})
}

func (r *Registry) EmitWebhookReceived(ctx context.Context, provider payment.Provider, payload []byte) {
	emit(ctx, r, "OnWebhookReceived", &r.onWebhookReceived, func(p OnWebhookReceived) error {
		return p.OnWebhookReceived(ctx, provider, payload)
	})
}

func (r *Registry) EmitWebhookRejected(ctx context.Context, provider payment.Provider, reason error) {
	emit(ctx, r, "OnWebhookRejected", &r.onWebhookRejected, func(p OnWebhookRejected) error {
		return p.OnWebhookRejected(ctx, provider, reason)
	})
}

// callWithTimeout runs fn on its own goroutine so a slow or panicking
// plugin cannot stall the caller.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("plugin panic: %s: %v", pluginName, rec)
			}
		}()
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
