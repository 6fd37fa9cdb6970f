package tokenvault_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tokenvault"
	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/order"
	"github.com/xraph/tokenvault/payment"
	"github.com/xraph/tokenvault/payment/razorpay"
	"github.com/xraph/tokenvault/txn"
	"github.com/xraph/tokenvault/types"
)

func subscribe(t *testing.T, h *harness, email string, planID id.PlanID) *tokenvault.Checkout {
	t.Helper()
	co, err := h.v.CreateSubscriptionOrder(context.Background(), tokenvault.SubscriptionCheckout{
		Provider: fakeProvider,
		Email:    email,
		Name:     "Buyer",
		PlanID:   planID,
	})
	require.NoError(t, err)
	return co
}

func getOrder(t *testing.T, h *harness, ref string) *order.Order {
	t.Helper()
	o, err := h.store.GetOrder(context.Background(), id.MustParse(ref))
	require.NoError(t, err)
	return o
}

func TestEndToEndGuestCheckout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.plan(t, 100, 500)

	co := subscribe(t, h, "guest@example.com", p.ID)
	assert.Equal(t, payment.TypeSubscription, co.PaymentType)
	assert.Equal(t, "fp_"+co.Reference, co.ProviderOrderID)
	assert.Equal(t, id.PrefixOrder, id.PrefixOf(co.Reference))

	ack := h.deliver(t, co.Reference, payment.StateCompleted)
	assert.Equal(t, http.StatusOK, ack.HTTPStatus)
	assert.True(t, ack.Accepted)

	a, err := h.v.GetAccountByEmail(ctx, "guest@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Buyer", a.Name)

	o := getOrder(t, h, co.Reference)
	assert.Equal(t, order.StatusCompleted, o.Status)
	assert.Equal(t, a.ID.String(), o.AccountID.String())
	assert.Equal(t, "fptxn_"+co.Reference, o.ProviderTransactionID)

	b := h.balance(t, a)
	assert.True(t, b.PlanActive)
	assert.Equal(t, int64(100), b.Daily)
	assert.Equal(t, int64(500), b.Bonus)
	assert.Equal(t, int64(600), b.Total)

	res, err := h.v.Deduct(ctx, a.ID, 150, "render")
	require.NoError(t, err)
	assert.Equal(t, account.Deduction{Daily: 100, Purchased: 0, Bonus: 50, Prize: 0}, res.Breakdown)
	assert.Equal(t, int64(450), res.RemainingBalance)
}

func TestCheckoutLinksExistingAccount(t *testing.T) {
	h := newHarness(t)
	existing := h.account(t, "known@example.com")

	co := subscribe(t, h, "Known@Example.com", h.plan(t, 100, 0).ID)
	assert.Equal(t, existing.ID.String(), getOrder(t, h, co.Reference).AccountID.String())

	h.deliver(t, co.Reference, payment.StateCompleted)
	assert.Equal(t, int64(100), h.balance(t, existing).Total)
}

func TestWebhookIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	co := subscribe(t, h, "twice@example.com", h.plan(t, 100, 500).ID)

	h.deliver(t, co.Reference, payment.StateCompleted)
	a, err := h.v.GetAccountByEmail(ctx, "twice@example.com")
	require.NoError(t, err)
	_, err = h.v.Deduct(ctx, a.ID, 10, "")
	require.NoError(t, err)
	after := h.balance(t, a)

	h.deliver(t, co.Reference, payment.StateCompleted)
	out, err := h.v.ProcessEvent(ctx, h.event(co.Reference, payment.StateCompleted))
	require.NoError(t, err)
	assert.True(t, out.AlreadyProcessed)
	assert.Equal(t, co.Reference, out.Reference)

	assert.Equal(t, after, h.balance(t, a))

	bonus, err := h.store.ListTransactions(ctx, txn.ListOpts{AccountID: a.ID, Type: txn.TypeBonus})
	require.NoError(t, err)
	assert.Len(t, bonus, 1)
}

func TestConcurrentDuplicateDeliveries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	co := subscribe(t, h, "burst@example.com", h.plan(t, 100, 500).ID)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		processed int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.v.ProcessEvent(ctx, h.event(co.Reference, payment.StateCompleted))
			if err != nil {
				return
			}
			if !out.AlreadyProcessed {
				mu.Lock()
				processed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, processed)

	a, err := h.v.GetAccountByEmail(ctx, "burst@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(600), h.balance(t, a).Total)
}

func TestWebhookInvalidSignature(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	co := subscribe(t, h, "forged@example.com", h.plan(t, 100, 0).ID)

	payload, err := json.Marshal(h.event(co.Reference, payment.StateCompleted))
	require.NoError(t, err)

	ack, err := h.v.HandleWebhook(ctx, fakeProvider, payload, "not-the-secret")
	require.ErrorIs(t, err, tokenvault.ErrInvalidSignature)
	assert.Equal(t, http.StatusOK, ack.HTTPStatus)
	assert.False(t, ack.Accepted)
	h.v.Wait()

	assert.Equal(t, order.StatusPending, getOrder(t, h, co.Reference).Status)
	_, err = h.v.GetAccountByEmail(ctx, "forged@example.com")
	assert.ErrorIs(t, err, tokenvault.ErrAccountNotFound)
}

func TestWebhookUnknownProvider(t *testing.T) {
	h := newHarness(t)

	ack, err := h.v.HandleWebhook(context.Background(), payment.ProviderPhonePe, []byte(`{}`), "")
	assert.ErrorIs(t, err, tokenvault.ErrProviderNotFound)
	assert.Equal(t, http.StatusNotFound, ack.HTTPStatus)
}

func TestWebhookFailedPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	co := subscribe(t, h, "declined@example.com", h.plan(t, 100, 0).ID)

	ev := h.event(co.Reference, payment.StateFailed)
	ev.FailureReason = "card declined"
	out, err := h.v.ProcessEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, out.AlreadyProcessed)

	o := getOrder(t, h, co.Reference)
	assert.Equal(t, order.StatusFailed, o.Status)
	assert.Equal(t, "card declined", o.FailureReason)

	_, err = h.v.GetAccountByEmail(ctx, "declined@example.com")
	assert.ErrorIs(t, err, tokenvault.ErrAccountNotFound)

	out, err = h.v.ProcessEvent(ctx, h.event(co.Reference, payment.StateCompleted))
	require.NoError(t, err)
	assert.True(t, out.AlreadyProcessed, "a failed order is terminal")
}

func TestWebhookPendingIsNoop(t *testing.T) {
	h := newHarness(t)
	co := subscribe(t, h, "wait@example.com", h.plan(t, 100, 0).ID)

	out, err := h.v.ProcessEvent(context.Background(), h.event(co.Reference, payment.StatePending))
	require.NoError(t, err)
	assert.Equal(t, payment.StatePending, out.State)
	assert.Equal(t, order.StatusPending, getOrder(t, h, co.Reference).Status)
}

func TestProcessEventRoutesByProviderOrderID(t *testing.T) {
	h := newHarness(t)
	co := subscribe(t, h, "routed@example.com", h.plan(t, 100, 0).ID)

	out, err := h.v.ProcessEvent(context.Background(), &payment.Event{
		Provider:        fakeProvider,
		ProviderOrderID: co.ProviderOrderID,
		State:           payment.StateCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, co.Reference, out.Reference)
	assert.True(t, out.AccountCreated)
}

func TestProcessEventUnknownReference(t *testing.T) {
	h := newHarness(t)

	_, err := h.v.ProcessEvent(context.Background(), h.event(id.NewOrderID().String(), payment.StateCompleted))
	assert.ErrorIs(t, err, tokenvault.ErrUnknownReference)

	_, err = h.v.ProcessEvent(context.Background(), &payment.Event{Provider: fakeProvider, State: payment.StateCompleted})
	assert.ErrorIs(t, err, tokenvault.ErrUnknownReference)
}

func TestMissingPlanIsInternalInconsistency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o := order.New(string(fakeProvider), "orphan@example.com", id.NewPlanID(), types.INR(100), h.clock.Now())
	require.NoError(t, h.store.CreateOrder(ctx, o))

	_, err := h.v.ProcessEvent(ctx, h.event(o.ID.String(), payment.StateCompleted))
	require.ErrorIs(t, err, tokenvault.ErrInternalInconsistency)

	assert.Equal(t, order.StatusPending, getOrder(t, h, o.ID.String()).Status)
	_, err = h.v.GetAccountByEmail(ctx, "orphan@example.com")
	assert.ErrorIs(t, err, tokenvault.ErrAccountNotFound, "the unit rolled back")
}

func TestCheckoutRollsBackOnGatewayFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.plan(t, 100, 0)
	h.gw.createErr = fmt.Errorf("%w: upstream 502", payment.ErrProvider)

	_, err := h.v.CreateSubscriptionOrder(ctx, tokenvault.SubscriptionCheckout{
		Provider: fakeProvider,
		Email:    "rollback@example.com",
		PlanID:   p.ID,
	})
	require.ErrorIs(t, err, tokenvault.ErrPaymentProvider)

	orders, err := h.store.ListOrders(ctx, order.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestTokenPurchaseRollsBackOnGatewayFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.subscribed(t, "tokfail@example.com", h.plan(t, 100, 0))
	pkg := h.pkg(t, 500)
	h.gw.createErr = fmt.Errorf("connection refused")

	_, err := h.v.CreateTokenPurchase(ctx, tokenvault.TokenCheckout{Provider: fakeProvider, AccountID: a.ID, PackageID: pkg.ID})
	require.ErrorIs(t, err, tokenvault.ErrPaymentProvider)

	list, err := h.store.ListTransactions(ctx, txn.ListOpts{Type: txn.TypePurchase})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCheckoutValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.plan(t, 100, 0)

	_, err := h.v.CreateSubscriptionOrder(ctx, tokenvault.SubscriptionCheckout{Provider: fakeProvider, Email: "nope", PlanID: p.ID})
	assert.ErrorIs(t, err, tokenvault.ErrInvalidInput)

	_, err = h.v.CreateSubscriptionOrder(ctx, tokenvault.SubscriptionCheckout{Provider: payment.ProviderPhonePe, Email: "a@example.com", PlanID: p.ID})
	assert.ErrorIs(t, err, tokenvault.ErrProviderNotFound)

	require.NoError(t, h.v.ArchivePlan(ctx, p.ID))
	_, err = h.v.CreateSubscriptionOrder(ctx, tokenvault.SubscriptionCheckout{Provider: fakeProvider, Email: "a@example.com", PlanID: p.ID})
	assert.ErrorIs(t, err, tokenvault.ErrPlanNotPurchasable)
}

func TestTokenPurchaseCredits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.subscribed(t, "topup@example.com", h.plan(t, 100, 0))
	pkg := h.pkg(t, 500)

	co, err := h.v.CreateTokenPurchase(ctx, tokenvault.TokenCheckout{Provider: fakeProvider, AccountID: a.ID, PackageID: pkg.ID})
	require.NoError(t, err)
	assert.Equal(t, id.PrefixTransaction, id.PrefixOf(co.Reference))
	assert.Equal(t, payment.TypeToken, co.PaymentType)

	h.deliver(t, co.Reference, payment.StateCompleted)

	b := h.balance(t, a)
	assert.Equal(t, int64(500), b.Purchased)
	assert.Equal(t, int64(600), b.Total)

	stored, err := h.store.GetTransaction(ctx, id.MustParse(co.Reference))
	require.NoError(t, err)
	assert.Equal(t, txn.StatusCompleted, stored.Status)
	assert.Equal(t, int64(100), stored.BalanceBefore)
	assert.Equal(t, int64(600), stored.BalanceAfter)

	out, err := h.v.ProcessEvent(ctx, h.event(co.Reference, payment.StateCompleted))
	require.NoError(t, err)
	assert.True(t, out.AlreadyProcessed)
	assert.Equal(t, int64(600), h.balance(t, a).Total)
}

func TestTokenPurchaseRequiresActivePlan(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, "noplan@example.com")

	_, err := h.v.CreateTokenPurchase(context.Background(), tokenvault.TokenCheckout{
		Provider:  fakeProvider,
		AccountID: a.ID,
		PackageID: h.pkg(t, 100).ID,
	})
	assert.ErrorIs(t, err, tokenvault.ErrNoActiveSubscription)
}

func TestTokenPurchasePaidAfterLapseNeedsRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.subscribed(t, "late@example.com", h.plan(t, 100, 0))

	co, err := h.v.CreateTokenPurchase(ctx, tokenvault.TokenCheckout{Provider: fakeProvider, AccountID: a.ID, PackageID: h.pkg(t, 100).ID})
	require.NoError(t, err)

	h.clock.Advance(31 * day)

	out, err := h.v.ProcessEvent(ctx, h.event(co.Reference, payment.StateCompleted))
	require.NoError(t, err)
	assert.True(t, out.RefundRequired)
	assert.Zero(t, out.TokensCredited)

	stored, err := h.store.GetTransaction(ctx, id.MustParse(co.Reference))
	require.NoError(t, err)
	assert.Equal(t, txn.StatusRefundRequired, stored.Status)
	assert.Equal(t, "fptxn_"+co.Reference, stored.ProviderTransactionID)
	assert.NotEmpty(t, stored.FailureReason)
	assert.Equal(t, int64(0), h.balance(t, a).Purchased)

	out, err = h.v.ProcessEvent(ctx, h.event(co.Reference, payment.StateCompleted))
	require.NoError(t, err)
	assert.True(t, out.AlreadyProcessed)

	rep, err := h.v.ReconcilePending(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, rep.Checked, "closed purchases are not polled again")
}

func TestReconcileReportsRefundRequired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.subscribed(t, "lapsed@example.com", h.plan(t, 100, 0))

	co, err := h.v.CreateTokenPurchase(ctx, tokenvault.TokenCheckout{Provider: fakeProvider, AccountID: a.ID, PackageID: h.pkg(t, 100).ID})
	require.NoError(t, err)
	h.gw.setStatus(co.Reference, payment.StateCompleted)

	h.clock.Advance(31 * day)

	rep, err := h.v.ReconcilePending(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, tokenvault.ReconcileReport{Checked: 1, RefundRequired: 1}, rep)

	rep, err = h.v.ReconcilePending(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, rep.Checked)
}

func TestVerifyPaymentPolling(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	co := subscribe(t, h, "poll@example.com", h.plan(t, 100, 500).ID)

	out, err := h.v.VerifyPayment(ctx, co.Reference)
	require.NoError(t, err)
	assert.Equal(t, payment.StatePending, out.State)

	h.gw.setStatus(co.Reference, payment.StateCompleted)

	out, err = h.v.VerifyPayment(ctx, co.Reference)
	require.NoError(t, err)
	assert.Equal(t, payment.StateCompleted, out.State)
	assert.True(t, out.AccountCreated)

	out, err = h.v.VerifyPayment(ctx, co.Reference)
	require.NoError(t, err)
	assert.True(t, out.AlreadyProcessed)

	_, err = h.v.VerifyPayment(ctx, "pay_123")
	assert.ErrorIs(t, err, tokenvault.ErrInvalidInput)
}

func TestReconcilePending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.plan(t, 100, 0)

	paid := subscribe(t, h, "paid@example.com", p.ID)
	declined := subscribe(t, h, "declined@example.com", p.ID)
	waiting := subscribe(t, h, "waiting@example.com", p.ID)
	h.gw.setStatus(paid.Reference, payment.StateCompleted)
	h.gw.setStatus(declined.Reference, payment.StateFailed)

	rep, err := h.v.ReconcilePending(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Checked, "orders younger than the cutoff are skipped")

	h.clock.Advance(20 * time.Minute)
	fresh := subscribe(t, h, "fresh@example.com", p.ID)

	rep, err = h.v.ReconcilePending(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, tokenvault.ReconcileReport{Checked: 3, Completed: 1, Failed: 1, Pending: 1}, rep)

	assert.Equal(t, order.StatusCompleted, getOrder(t, h, paid.Reference).Status)
	assert.Equal(t, order.StatusFailed, getOrder(t, h, declined.Reference).Status)
	assert.Equal(t, order.StatusPending, getOrder(t, h, waiting.Reference).Status)
	assert.Equal(t, order.StatusPending, getOrder(t, h, fresh.Reference).Status)
}

func TestRazorpayWebhookSettlesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_key", user)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_RZP1","amount":49900,"currency":"INR","status":"created"}`))
	}))
	defer srv.Close()

	gw := razorpay.New(razorpay.Config{
		BaseURL:       srv.URL,
		KeyID:         "rzp_key",
		KeySecret:     "rzp_secret",
		WebhookSecret: "whsec",
	})
	h := newHarness(t, tokenvault.WithGateway(gw))
	ctx := context.Background()
	p := h.plan(t, 100, 500)

	co, err := h.v.CreateSubscriptionOrder(ctx, tokenvault.SubscriptionCheckout{
		Provider: payment.ProviderRazorpay,
		Email:    "rzp@example.com",
		PlanID:   p.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "order_RZP1", co.ProviderOrderID)

	body := fmt.Sprintf(`{
		"event": "payment.captured",
		"payload": {
			"payment": {
				"entity": {
					"id": "pay_RZP1",
					"order_id": "order_RZP1",
					"amount": 49900,
					"currency": "INR",
					"status": "captured",
					"method": "upi",
					"notes": {"internal_ref_id": %q, "payment_type": "subscription"}
				}
			}
		}
	}`, co.Reference)

	ack, err := h.v.HandleWebhook(ctx, payment.ProviderRazorpay, []byte(body), "deadbeef")
	require.ErrorIs(t, err, tokenvault.ErrInvalidSignature)
	assert.Equal(t, http.StatusOK, ack.HTTPStatus)

	ack, err = h.v.HandleWebhook(ctx, payment.ProviderRazorpay, []byte(body), razorpay.Sign(body, "whsec"))
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	h.v.Wait()

	o := getOrder(t, h, co.Reference)
	assert.Equal(t, order.StatusCompleted, o.Status)
	assert.Equal(t, "pay_RZP1", o.ProviderTransactionID)
	assert.Equal(t, "upi", o.PaymentMode)

	a, err := h.v.GetAccountByEmail(ctx, "rzp@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(600), h.balance(t, a).Total)
}

// razorpayHarness backs a vault with a Razorpay gateway whose API hands
// out order_RZP1, order_RZP2, ... in creation order.
func razorpayHarness(t *testing.T) *harness {
	t.Helper()
	var seq atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orders", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"id":"order_RZP%d","amount":49900,"currency":"INR","status":"created"}`, seq.Add(1))
	}))
	t.Cleanup(srv.Close)

	return newHarness(t, tokenvault.WithGateway(razorpay.New(razorpay.Config{
		BaseURL:       srv.URL,
		KeyID:         "rzp_key",
		KeySecret:     "rzp_secret",
		WebhookSecret: "whsec",
	})))
}

func razorpaySubscribe(t *testing.T, h *harness, email string, planID id.PlanID) *tokenvault.Checkout {
	t.Helper()
	co, err := h.v.CreateSubscriptionOrder(context.Background(), tokenvault.SubscriptionCheckout{
		Provider: payment.ProviderRazorpay,
		Email:    email,
		PlanID:   planID,
	})
	require.NoError(t, err)
	return co
}

func razorpayPaymentWebhook(t *testing.T, h *harness, event, status, paymentID string, co *tokenvault.Checkout) {
	t.Helper()
	body := fmt.Sprintf(`{"event": %q, "payload": {"payment": {"entity": {
		"id": %q, "order_id": %q, "amount": 49900, "currency": "INR", "status": %q,
		"method": "upi", "error_description": "declined by bank",
		"notes": {"internal_ref_id": %q, "payment_type": "subscription"}}}}}`,
		event, paymentID, co.ProviderOrderID, status, co.Reference)

	ack, err := h.v.HandleWebhook(context.Background(), payment.ProviderRazorpay, []byte(body), razorpay.Sign(body, "whsec"))
	require.NoError(t, err)
	require.True(t, ack.Accepted)
	h.v.Wait()
}

func TestRazorpayCallbackSettlesOnlyTheSignedOrder(t *testing.T) {
	h := razorpayHarness(t)
	ctx := context.Background()
	p := h.plan(t, 100, 0)

	signed := razorpaySubscribe(t, h, "payer@example.com", p.ID)
	other := razorpaySubscribe(t, h, "other@example.com", p.ID)
	require.Equal(t, "order_RZP1", signed.ProviderOrderID)
	require.Equal(t, "order_RZP2", other.ProviderOrderID)

	body := fmt.Sprintf(`{"razorpay_order_id":"order_RZP1","razorpay_payment_id":"pay_1","razorpay_signature":%q,"internal_ref_id":%q,"payment_type":"subscription"}`,
		razorpay.CheckoutSignature("order_RZP1", "pay_1", "rzp_secret"), other.Reference)

	ack, err := h.v.HandleWebhook(ctx, payment.ProviderRazorpay, []byte(body), "")
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	h.v.Wait()

	assert.Equal(t, order.StatusCompleted, getOrder(t, h, signed.Reference).Status)
	assert.Equal(t, order.StatusPending, getOrder(t, h, other.Reference).Status)
	_, err = h.v.GetAccountByEmail(ctx, "other@example.com")
	assert.ErrorIs(t, err, tokenvault.ErrAccountNotFound)
}

func TestProcessEventRejectsMismatchedRecord(t *testing.T) {
	h := razorpayHarness(t)
	ctx := context.Background()
	p := h.plan(t, 100, 0)

	co := razorpaySubscribe(t, h, "target@example.com", p.ID)

	_, err := h.v.ProcessEvent(ctx, &payment.Event{
		Provider:        payment.ProviderRazorpay,
		InternalRefID:   co.Reference,
		ProviderOrderID: "order_ELSEWHERE",
		State:           payment.StateCompleted,
		TransactionID:   "pay_x",
	})
	require.ErrorIs(t, err, tokenvault.ErrReferenceMismatch)

	_, err = h.v.ProcessEvent(ctx, &payment.Event{
		Provider:      payment.ProviderPhonePe,
		InternalRefID: co.Reference,
		State:         payment.StateCompleted,
	})
	require.ErrorIs(t, err, tokenvault.ErrReferenceMismatch)

	assert.Equal(t, order.StatusPending, getOrder(t, h, co.Reference).Status)
}

func TestTokenPurchaseRejectsForeignProvider(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.subscribed(t, "buyer@example.com", h.plan(t, 100, 0))

	co, err := h.v.CreateTokenPurchase(ctx, tokenvault.TokenCheckout{Provider: fakeProvider, AccountID: a.ID, PackageID: h.pkg(t, 300).ID})
	require.NoError(t, err)

	_, err = h.v.ProcessEvent(ctx, &payment.Event{
		Provider:      payment.ProviderRazorpay,
		InternalRefID: co.Reference,
		State:         payment.StateCompleted,
	})
	require.ErrorIs(t, err, tokenvault.ErrReferenceMismatch)
	assert.Equal(t, int64(0), h.balance(t, a).Purchased)
}

func TestRazorpayRetryAfterFailedAttempt(t *testing.T) {
	h := razorpayHarness(t)
	ctx := context.Background()
	p := h.plan(t, 100, 500)

	co := razorpaySubscribe(t, h, "retry@example.com", p.ID)

	razorpayPaymentWebhook(t, h, "payment.failed", "failed", "pay_1", co)
	assert.Equal(t, order.StatusPending, getOrder(t, h, co.Reference).Status)

	razorpayPaymentWebhook(t, h, "payment.captured", "captured", "pay_2", co)

	o := getOrder(t, h, co.Reference)
	assert.Equal(t, order.StatusCompleted, o.Status)
	assert.Equal(t, "pay_2", o.ProviderTransactionID)

	a, err := h.v.GetAccountByEmail(ctx, "retry@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(600), h.balance(t, a).Total)
}
