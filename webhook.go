package tokenvault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/order"
	"github.com/xraph/tokenvault/payment"
	"github.com/xraph/tokenvault/txn"
)

// Ack is the response a webhook endpoint sends back to the gateway.
type Ack struct {
	HTTPStatus int  `json:"-"`
	Accepted   bool `json:"accepted"`
}

// HandleWebhook authenticates a raw gateway notification and acknowledges
// it at once. Processing happens asynchronously; failures there are
// logged and left for ReconcilePending. A payload that fails verification
// changes nothing and yields ErrInvalidSignature, still with a 200 so the
// gateway stops redelivering it.
func (v *Vault) HandleWebhook(ctx context.Context, provider payment.Provider, payload []byte, signature string) (ack *Ack, err error) {
	ctx, span := v.startSpan(ctx, "HandleWebhook",
		attribute.String("provider", string(provider)),
	)
	defer func() { endSpan(span, err) }()

	gw, err := v.gateway(provider)
	if err != nil {
		return &Ack{HTTPStatus: http.StatusNotFound}, err
	}

	if err := gw.VerifyWebhook(payload, signature); err != nil {
		v.reject(ctx, provider, err)
		return &Ack{HTTPStatus: http.StatusOK}, err
	}

	ev, err := gw.ParseWebhook(payload)
	if err != nil {
		v.reject(ctx, provider, err)
		return &Ack{HTTPStatus: http.StatusOK}, err
	}

	v.dispatch(ctx, provider, payload, ev)

	return &Ack{HTTPStatus: http.StatusOK, Accepted: true}, nil
}

func (v *Vault) reject(ctx context.Context, provider payment.Provider, reason error) {
	v.logger.Warn("webhook rejected",
		"provider", provider,
		"error", reason,
	)
	v.plugins.EmitWebhookRejected(ctx, provider, reason)
}

// dispatch processes ev in the background, detached from the request
// context but bounded by the webhook timeout.
func (v *Vault) dispatch(ctx context.Context, provider payment.Provider, payload []byte, ev *payment.Event) {
	v.inflight.Add(1)
	go func() {
		defer v.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				v.logger.Error("webhook processing panicked",
					"provider", provider,
					"reference", ev.Reference(),
					"panic", r,
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.webhookTimeout)
		defer cancel()

		v.plugins.EmitWebhookReceived(ctx, provider, payload)

		out, err := v.ProcessEvent(ctx, ev)
		if err != nil {
			v.logger.Error("webhook processing failed",
				"provider", provider,
				"reference", ev.Reference(),
				"state", ev.State,
				"error", err,
			)
			return
		}
		v.logger.Debug("webhook processed",
			"provider", provider,
			"reference", out.Reference,
			"state", out.State,
			"already_processed", out.AlreadyProcessed,
		)
	}()
}

// VerifyPayment polls the gateway for a local order or transaction
// reference and applies the result. It is the same reconciliation a
// webhook triggers, so racing with one settles the record only once.
func (v *Vault) VerifyPayment(ctx context.Context, ref string) (out *Outcome, err error) {
	ctx, span := v.startSpan(ctx, "VerifyPayment",
		attribute.String("reference", ref),
	)
	defer func() { endSpan(span, err) }()

	var (
		provider        payment.Provider
		providerOrderID string
		typ             payment.Type
		terminal        bool
		accountID       id.AccountID
	)

	switch id.PrefixOf(ref) {
	case id.PrefixOrder:
		oid, err := id.ParseOrderID(ref)
		if err != nil {
			return nil, ValidationError{Field: "reference", Message: err.Error()}
		}
		o, err := v.store.GetOrder(ctx, oid)
		if err != nil {
			return nil, err
		}
		provider, providerOrderID, typ = payment.Provider(o.Provider), o.ProviderOrderID, payment.TypeSubscription
		terminal, accountID = o.Status.Terminal(), o.AccountID
	case id.PrefixTransaction:
		tid, err := id.ParseTransactionID(ref)
		if err != nil {
			return nil, ValidationError{Field: "reference", Message: err.Error()}
		}
		t, err := v.store.GetTransaction(ctx, tid)
		if err != nil {
			return nil, err
		}
		provider, providerOrderID, typ = payment.Provider(t.Provider), t.ProviderOrderID, payment.TypeToken
		terminal, accountID = t.Status.Terminal(), t.AccountID
	default:
		return nil, ValidationError{Field: "reference", Message: "not an order or transaction id"}
	}

	if terminal {
		return &Outcome{
			Reference:        ref,
			PaymentType:      typ,
			AccountID:        accountID,
			AlreadyProcessed: true,
		}, nil
	}

	gw, err := v.gateway(provider)
	if err != nil {
		return nil, err
	}

	ev, err := gw.CheckStatus(ctx, payment.StatusQuery{
		MerchantOrderID: ref,
		ProviderOrderID: providerOrderID,
	})
	if err != nil {
		return nil, providerError(provider, err)
	}

	ev.Provider = provider
	ev.InternalRefID = ref
	ev.PaymentType = typ
	if ev.ProviderOrderID == "" {
		ev.ProviderOrderID = providerOrderID
	}

	return v.ProcessEvent(ctx, ev)
}

// ReconcileReport summarizes a ReconcilePending run.
type ReconcileReport struct {
	Checked        int `json:"checked"`
	Completed      int `json:"completed"`
	Failed         int `json:"failed"`
	Pending        int `json:"pending"`
	RefundRequired int `json:"refund_required"`
	Errors         int `json:"errors"`
}

// ReconcilePending polls the gateway for every pending order and token
// purchase created more than olderThan ago.
func (v *Vault) ReconcilePending(ctx context.Context, olderThan time.Duration) (rep ReconcileReport, err error) {
	ctx, span := v.startSpan(ctx, "ReconcilePending")
	defer func() { endSpan(span, err) }()

	cutoff := v.clock().Add(-olderThan)
	var refs []string

	orders, err := v.store.ListOrders(ctx, order.ListOpts{
		Status:        order.StatusPending,
		CreatedBefore: cutoff,
	})
	if err != nil {
		return rep, fmt.Errorf("list pending orders: %w", err)
	}
	for _, o := range orders {
		refs = append(refs, o.ID.String())
	}

	purchases, err := v.store.ListTransactions(ctx, txn.ListOpts{
		Type:          txn.TypePurchase,
		Status:        txn.StatusPending,
		CreatedBefore: cutoff,
	})
	if err != nil {
		return rep, fmt.Errorf("list pending transactions: %w", err)
	}
	for _, t := range purchases {
		refs = append(refs, t.ID.String())
	}

	var errs MultiError
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			errs.Add(err)
			break
		}
		rep.Checked++

		out, err := v.VerifyPayment(ctx, ref)
		if err != nil {
			rep.Errors++
			errs.Add(fmt.Errorf("verify %s: %w", ref, err))
			continue
		}
		switch {
		case out.AlreadyProcessed:
		case out.RefundRequired:
			rep.RefundRequired++
		case out.State == payment.StateCompleted:
			rep.Completed++
		case out.State == payment.StateFailed:
			rep.Failed++
		default:
			rep.Pending++
		}
	}

	v.logger.Info("pending payments reconciled",
		"checked", rep.Checked,
		"completed", rep.Completed,
		"failed", rep.Failed,
		"pending", rep.Pending,
		"refund_required", rep.RefundRequired,
		"errors", rep.Errors,
	)

	if errors.Is(errs.ErrOrNil(), context.Canceled) {
		return rep, context.Canceled
	}
	return rep, errs.ErrOrNil()
}
