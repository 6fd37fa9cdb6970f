// Package notify delivers user-facing notifications for tokenvault events.
//
// The Plugin queues messages and delivers them on background workers, so a
// slow or failing Sender never holds up a deduction or a webhook ack.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/tokenvault/id"
)

// Kind identifies the event a message reports.
type Kind string

const (
	KindWelcome               Kind = "welcome"
	KindSubscriptionActivated Kind = "subscription.activated"
	KindSubscriptionRenewed   Kind = "subscription.renewed"
	KindSubscriptionExpired   Kind = "subscription.expired"
	KindMilestoneReached      Kind = "referral.milestone"
)

// Message is a rendered notification.
type Message struct {
	Kind      Kind           `json:"kind"`
	AccountID id.AccountID   `json:"account_id"`
	Email     string         `json:"email,omitempty"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Sender delivers one message to the account holder.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// SenderFunc is an adapter to use a plain function as a Sender.
type SenderFunc func(ctx context.Context, msg *Message) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// LogSender writes messages to a logger. Useful in development.
type LogSender struct {
	Logger *slog.Logger
}

// Send implements Sender.
func (s LogSender) Send(ctx context.Context, msg *Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notify: message",
		"kind", string(msg.Kind),
		"account_id", msg.AccountID.String(),
		"email", msg.Email,
		"subject", msg.Subject,
	)
	return nil
}
