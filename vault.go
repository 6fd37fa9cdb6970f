package tokenvault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/payment"
	"github.com/xraph/tokenvault/plugin"
	"github.com/xraph/tokenvault/referral"
	"github.com/xraph/tokenvault/store"
)

// TracerName is the instrumentation scope used for engine spans.
const TracerName = "github.com/xraph/tokenvault"

// Vault is the token ledger and subscription lifecycle engine.
type Vault struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	tracer   trace.Tracer
	gateways map[payment.Provider]payment.Gateway

	now        func() time.Time
	location   *time.Location
	carryOver  account.CarryOver
	milestones []referral.Milestone

	retryAttempts         uint
	retryInitial          time.Duration
	prizeHistoryRetention time.Duration
	webhookTimeout        time.Duration
	maintenanceInterval   time.Duration
	reconcileAfter        time.Duration
	batchSize             int
	skipMigrate           bool

	// Background workers
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	inflight sync.WaitGroup
}

// New creates a new Vault instance.
func New(s store.Store, opts ...Option) *Vault {
	v := &Vault{
		store:          s,
		plugins:        plugin.NewRegistry(),
		logger:         slog.Default(),
		tracer:         otel.Tracer(TracerName),
		gateways:       make(map[payment.Provider]payment.Gateway),
		now:            time.Now,
		location:       time.UTC,
		carryOver:      account.CarryOverNone,
		milestones:     referral.DefaultMilestones(),
		retryAttempts:  5,
		retryInitial:   10 * time.Millisecond,
		webhookTimeout: 30 * time.Second,
		reconcileAfter: 15 * time.Minute,
		batchSize:      500,
		stopChan:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Store returns the underlying store.
func (v *Vault) Store() store.Store { return v.store }

// Plugins returns the plugin registry.
func (v *Vault) Plugins() *plugin.Registry { return v.plugins }

// Logger returns the engine logger.
func (v *Vault) Logger() *slog.Logger { return v.logger }

// Start migrates the store, initializes plugins and, when a maintenance
// interval is configured, starts the background maintenance worker.
func (v *Vault) Start(ctx context.Context) error {
	if !v.skipMigrate {
		if err := v.store.Migrate(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
		}
	}

	v.plugins.EmitInit(ctx, v)

	if v.maintenanceInterval > 0 {
		v.wg.Add(1)
		go v.maintenanceWorker(context.WithoutCancel(ctx))
	}

	v.logger.Info("tokenvault started",
		"gateways", len(v.gateways),
		"carry_over", v.carryOver,
		"location", v.location.String(),
		"maintenance_interval", v.maintenanceInterval,
	)

	return nil
}

// Stop waits for background work and in-flight webhooks, then closes the
// store.
func (v *Vault) Stop() error {
	v.stopOnce.Do(func() { close(v.stopChan) })
	v.wg.Wait()
	v.inflight.Wait()

	v.plugins.EmitShutdown(context.Background())

	return v.store.Close()
}

// Wait blocks until every asynchronously dispatched webhook has finished.
func (v *Vault) Wait() {
	v.inflight.Wait()
}

// maintenanceWorker runs the expiry sweep, the daily refresh and the
// pending-payment poll on every tick.
func (v *Vault) maintenanceWorker(ctx context.Context) {
	defer v.wg.Done()

	ticker := time.NewTicker(v.maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-v.stopChan:
			return
		case <-ticker.C:
			v.runMaintenance(ctx)
		}
	}
}

func (v *Vault) runMaintenance(ctx context.Context) {
	if n, err := v.ExpireLapsed(ctx); err != nil {
		v.logger.Error("expiry sweep failed", "error", err, "expired", n)
	}
	if n, err := v.RefreshDaily(ctx); err != nil {
		v.logger.Error("daily refresh failed", "error", err, "refreshed", n)
	}
	if len(v.gateways) > 0 {
		if rep, err := v.ReconcilePending(ctx, v.reconcileAfter); err != nil {
			v.logger.Error("pending reconciliation failed", "error", err, "checked", rep.Checked)
		}
	}
}

// ──────────────────────────────────────────────────
// Atomic units
// ──────────────────────────────────────────────────

type txFunc func(ctx context.Context, tx store.Store) error

// atomic runs fn in one store transaction. Version conflicts, and any of
// the extra retryOn errors, restart the whole unit with backoff; every
// other error is returned as is.
func (v *Vault) atomic(ctx context.Context, op string, fn txFunc, retryOn ...error) error {
	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		err := v.store.RunInTx(ctx, fn)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, ErrConcurrentUpdate) || matchesAny(err, retryOn) {
			v.logger.Debug("retrying conflicted unit",
				"op", op,
				"attempt", attempt,
				"error", err,
			)
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = v.retryInitial
	b.MaxInterval = 50 * v.retryInitial

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(v.retryAttempts),
	)
	return err
}

func matchesAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// mutateAccount loads the account, applies fn and writes it back when fn
// reports a change. The result is the account as stored.
func (v *Vault) mutateAccount(ctx context.Context, op string, accountID id.AccountID, fn func(a *account.Account) (bool, error)) (*account.Account, bool, error) {
	var (
		out     *account.Account
		changed bool
	)
	err := v.atomic(ctx, op, func(ctx context.Context, tx store.Store) error {
		a, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		changed, err = fn(a)
		if err != nil {
			return err
		}
		if changed {
			if err := tx.UpdateAccount(ctx, a); err != nil {
				return err
			}
		}
		out = a
		return nil
	})
	return out, changed, err
}

// ──────────────────────────────────────────────────
// Tracing
// ──────────────────────────────────────────────────

func (v *Vault) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return v.tracer.Start(ctx, "tokenvault."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (v *Vault) gateway(provider payment.Provider) (payment.Gateway, error) {
	gw, ok := v.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, provider)
	}
	return gw, nil
}

func (v *Vault) clock() time.Time {
	return v.now().UTC()
}
