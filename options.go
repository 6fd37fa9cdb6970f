package tokenvault

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/payment"
	"github.com/xraph/tokenvault/plugin"
	"github.com/xraph/tokenvault/referral"
)

// Option configures a Vault instance.
type Option func(*Vault)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Vault) {
		v.logger = logger
		v.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(v *Vault) {
		_ = v.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithGateway registers a payment gateway under its provider name.
func WithGateway(gw payment.Gateway) Option {
	return func(v *Vault) {
		v.gateways[gw.Provider()] = gw
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLocation sets the zone whose calendar day governs the daily refresh.
func WithLocation(loc *time.Location) Option {
	return func(v *Vault) {
		if loc != nil {
			v.location = loc
		}
	}
}

// WithCarryOver sets the renewal carry-over policy.
func WithCarryOver(policy account.CarryOver) Option {
	return func(v *Vault) {
		v.carryOver = policy
	}
}

// WithMilestones replaces the referral milestone table.
func WithMilestones(ms []referral.Milestone) Option {
	return func(v *Vault) {
		if norm := referral.Normalize(ms); len(norm) > 0 {
			v.milestones = norm
		}
	}
}

// WithRetry sets how often a conflicted unit is attempted and the first
// backoff interval.
func WithRetry(attempts uint, initial time.Duration) Option {
	return func(v *Vault) {
		if attempts > 0 {
			v.retryAttempts = attempts
		}
		if initial > 0 {
			v.retryInitial = initial
		}
	}
}

// WithPrizeHistoryRetention prunes prize history older than d during the
// daily refresh. Zero keeps everything.
func WithPrizeHistoryRetention(d time.Duration) Option {
	return func(v *Vault) {
		v.prizeHistoryRetention = d
	}
}

// WithWebhookTimeout bounds asynchronous webhook processing.
func WithWebhookTimeout(d time.Duration) Option {
	return func(v *Vault) {
		if d > 0 {
			v.webhookTimeout = d
		}
	}
}

// WithMaintenance starts a worker that runs the expiry sweep, the daily
// refresh and pending-payment reconciliation every interval.
func WithMaintenance(interval, reconcileAfter time.Duration) Option {
	return func(v *Vault) {
		v.maintenanceInterval = interval
		if reconcileAfter > 0 {
			v.reconcileAfter = reconcileAfter
		}
	}
}

// WithBatchSize sets the page size used by the batch jobs.
func WithBatchSize(n int) Option {
	return func(v *Vault) {
		if n > 0 {
			v.batchSize = n
		}
	}
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(v *Vault) {
		if t != nil {
			v.tracer = t
		}
	}
}

// WithoutMigrate skips store migration in Start.
func WithoutMigrate() Option {
	return func(v *Vault) {
		v.skipMigrate = true
	}
}
