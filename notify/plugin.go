package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/plan"
	"github.com/xraph/tokenvault/plugin"
)

var (
	_ plugin.Plugin                  = (*Plugin)(nil)
	_ plugin.OnInit                  = (*Plugin)(nil)
	_ plugin.OnShutdown              = (*Plugin)(nil)
	_ plugin.OnAccountCreated        = (*Plugin)(nil)
	_ plugin.OnSubscriptionActivated = (*Plugin)(nil)
	_ plugin.OnSubscriptionExpired   = (*Plugin)(nil)
	_ plugin.OnMilestoneReached      = (*Plugin)(nil)
)

// AccountLookup resolves an account for events that only carry its id.
// *tokenvault.Vault satisfies it and is picked up in OnInit.
type AccountLookup interface {
	GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error)
}

// Plugin turns lifecycle events into messages and hands them to a Sender
// on background workers. A full queue drops the message.
type Plugin struct {
	sender       Sender
	logger       *slog.Logger
	lookup       AccountLookup
	workers      int
	sendTimeout  time.Duration
	maxTries     uint
	retryInitial time.Duration
	clock        func() time.Time

	mu      sync.RWMutex
	queue   chan *Message
	closed  bool
	started bool
	group   errgroup.Group
	dropped atomic.Int64
	sent    atomic.Int64
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Plugin) { p.logger = l } }

// WithQueueSize sets the buffered queue capacity.
func WithQueueSize(n int) Option {
	return func(p *Plugin) {
		if n > 0 {
			p.queue = make(chan *Message, n)
		}
	}
}

// WithWorkers sets the number of delivery goroutines.
func WithWorkers(n int) Option {
	return func(p *Plugin) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithRetry sets the delivery attempts per message and the first backoff
// interval.
func WithRetry(maxTries uint, initial time.Duration) Option {
	return func(p *Plugin) {
		p.maxTries = maxTries
		p.retryInitial = initial
	}
}

// WithSendTimeout bounds one Send call.
func WithSendTimeout(d time.Duration) Option { return func(p *Plugin) { p.sendTimeout = d } }

// WithAccountLookup sets the resolver for milestone recipients.
func WithAccountLookup(l AccountLookup) Option { return func(p *Plugin) { p.lookup = l } }

// New creates a notification plugin delivering through sender.
func New(sender Sender, opts ...Option) *Plugin {
	p := &Plugin{
		sender:       sender,
		logger:       slog.Default(),
		workers:      2,
		sendTimeout:  10 * time.Second,
		maxTries:     3,
		retryInitial: 500 * time.Millisecond,
		clock:        time.Now,
		queue:        make(chan *Message, 256),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return "notify" }

// Sent returns the number of messages delivered.
func (p *Plugin) Sent() int64 { return p.sent.Load() }

// Dropped returns the number of messages discarded because the queue was
// full, closed, or delivery kept failing.
func (p *Plugin) Dropped() int64 { return p.dropped.Load() }

// OnInit implements plugin.OnInit. It starts the delivery workers and picks
// up the engine as AccountLookup when none was configured.
func (p *Plugin) OnInit(_ context.Context, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lookup == nil {
		if l, ok := v.(AccountLookup); ok {
			p.lookup = l
		}
	}
	if p.started || p.closed {
		return nil
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.group.Go(func() error {
			p.work()
			return nil
		})
	}
	return nil
}

// OnShutdown implements plugin.OnShutdown. Queued messages are drained
// until ctx is done.
func (p *Plugin) OnShutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notify: drain: %w", ctx.Err())
	}
}

// ──────────────────────────────────────────────────
// Hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (p *Plugin) OnAccountCreated(_ context.Context, a *account.Account) error {
	p.enqueue(&Message{
		Kind:      KindWelcome,
		AccountID: a.ID,
		Email:     a.Email,
		Subject:   "Welcome",
		Body:      fmt.Sprintf("Your referral code is %s.", a.ReferralCode),
		Data:      map[string]any{"referral_code": a.ReferralCode},
	})
	return nil
}

// OnSubscriptionActivated implements plugin.OnSubscriptionActivated.
func (p *Plugin) OnSubscriptionActivated(_ context.Context, a *account.Account, pl *plan.Plan, renewal bool) error {
	kind, subject := KindSubscriptionActivated, "Your subscription is active"
	if renewal {
		kind, subject = KindSubscriptionRenewed, "Your subscription was renewed"
	}
	end := a.Subscription.EndDate
	p.enqueue(&Message{
		Kind:      kind,
		AccountID: a.ID,
		Email:     a.Email,
		Subject:   subject,
		Body: fmt.Sprintf("%s gives you %d tokens a day until %s.",
			pl.Name, pl.DailyTokenQuota, end.Format("2 Jan 2006")),
		Data: map[string]any{
			"plan":     pl.Slug,
			"end_date": end,
		},
	})
	return nil
}

// OnSubscriptionExpired implements plugin.OnSubscriptionExpired.
func (p *Plugin) OnSubscriptionExpired(_ context.Context, a *account.Account, expiredTokens int64) error {
	p.enqueue(&Message{
		Kind:      KindSubscriptionExpired,
		AccountID: a.ID,
		Email:     a.Email,
		Subject:   "Your subscription has ended",
		Body:      fmt.Sprintf("%d unused tokens expired with your plan.", expiredTokens),
		Data:      map[string]any{"expired_tokens": expiredTokens},
	})
	return nil
}

// OnMilestoneReached implements plugin.OnMilestoneReached. The recipient's
// email is resolved through the AccountLookup when one is set.
func (p *Plugin) OnMilestoneReached(ctx context.Context, referrerID id.AccountID, target int, reward int64) error {
	msg := &Message{
		Kind:      KindMilestoneReached,
		AccountID: referrerID,
		Subject:   "Referral milestone reached",
		Body:      fmt.Sprintf("%d friends joined. %d prize tokens were added to your balance.", target, reward),
		Data:      map[string]any{"target": target, "reward": reward},
	}
	if p.lookup != nil {
		a, err := p.lookup.GetAccount(ctx, referrerID)
		if err != nil {
			return fmt.Errorf("notify: resolve referrer %s: %w", referrerID, err)
		}
		msg.Email = a.Email
	}
	p.enqueue(msg)
	return nil
}

// ──────────────────────────────────────────────────
// Delivery
// ──────────────────────────────────────────────────

func (p *Plugin) enqueue(msg *Message) {
	msg.CreatedAt = p.clock().UTC()

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return
	}
	select {
	case p.queue <- msg:
	default:
		p.dropped.Add(1)
		p.logger.Warn("notify: queue full, dropping message",
			"kind", string(msg.Kind),
			"account_id", msg.AccountID.String(),
		)
	}
}

func (p *Plugin) work() {
	for msg := range p.queue {
		if err := p.deliver(msg); err != nil {
			p.dropped.Add(1)
			p.logger.Warn("notify: delivery failed",
				"kind", string(msg.Kind),
				"account_id", msg.AccountID.String(),
				"error", err,
			)
			continue
		}
		p.sent.Add(1)
	}
}

func (p *Plugin) deliver(msg *Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryInitial

	_, err := backoff.Retry(context.Background(), func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), p.sendTimeout)
		defer cancel()
		return struct{}{}, p.sender.Send(ctx, msg)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.maxTries))
	return err
}
