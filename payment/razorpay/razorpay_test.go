package razorpay_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tokenvault/payment"
	"github.com/xraph/tokenvault/payment/razorpay"
	"github.com/xraph/tokenvault/types"
)

func newGateway() *razorpay.Gateway {
	return razorpay.New(razorpay.Config{KeyID: "rzp_test", KeySecret: "key-secret", WebhookSecret: "hook-secret"})
}

func TestVerifyCheckoutCallback(t *testing.T) {
	g := newGateway()
	sig := razorpay.CheckoutSignature("order_A", "pay_B", "key-secret")

	good := fmt.Sprintf(`{"razorpay_order_id":"order_A","razorpay_payment_id":"pay_B","razorpay_signature":%q}`, sig)
	require.NoError(t, g.VerifyWebhook([]byte(good), ""))

	tampered := fmt.Sprintf(`{"razorpay_order_id":"order_A","razorpay_payment_id":"pay_C","razorpay_signature":%q}`, sig)
	assert.ErrorIs(t, g.VerifyWebhook([]byte(tampered), ""), payment.ErrInvalidSignature)

	assert.ErrorIs(t, g.VerifyWebhook([]byte(`{"razorpay_order_id":"order_A"}`), ""), payment.ErrInvalidSignature)
	assert.ErrorIs(t, g.VerifyWebhook([]byte(`garbage`), ""), payment.ErrInvalidSignature)
}

func TestVerifyServerWebhook(t *testing.T) {
	g := newGateway()
	body := []byte(`{"event":"payment.captured"}`)

	require.NoError(t, g.VerifyWebhook(body, razorpay.Sign(string(body), "hook-secret")))
	assert.ErrorIs(t, g.VerifyWebhook(body, razorpay.Sign(string(body), "key-secret")), payment.ErrInvalidSignature)
	assert.ErrorIs(t, g.VerifyWebhook([]byte(`{"event":"payment.failed"}`), razorpay.Sign(string(body), "hook-secret")), payment.ErrInvalidSignature)
}

func TestParseCapturedWebhook(t *testing.T) {
	g := newGateway()
	body := `{"event":"payment.captured","payload":{"payment":{"entity":{
	  "id":"pay_29QQoUBi66xm2f","order_id":"order_9A33XWu170gUtm","amount":19900,"currency":"INR",
	  "status":"captured","method":"upi","notes":{"internal_ref_id":"ttx_01","payment_type":"token"}}}}}`

	ev, err := g.ParseWebhook([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, payment.StateCompleted, ev.State)
	assert.Equal(t, "order_9A33XWu170gUtm", ev.ProviderOrderID)
	assert.Equal(t, "pay_29QQoUBi66xm2f", ev.TransactionID)
	assert.Equal(t, "ttx_01", ev.InternalRefID)
	assert.Equal(t, payment.TypeToken, ev.PaymentType)
	assert.Equal(t, types.INR(19900), ev.Amount)
	assert.Equal(t, "upi", ev.PaymentMode)
}

func TestParseFailedWebhook(t *testing.T) {
	g := newGateway()
	body := `{"event":"payment.failed","payload":{"payment":{"entity":{
	  "id":"pay_1","order_id":"order_1","amount":100,"currency":"INR","status":"failed",
	  "error_code":"BAD_REQUEST_ERROR","error_description":"Payment was cancelled by user"}}}}`

	ev, err := g.ParseWebhook([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, payment.StatePending, ev.State, "a failed attempt leaves the order open")
	assert.Equal(t, "Payment was cancelled by user", ev.FailureReason)
}

func TestParseCheckoutCallback(t *testing.T) {
	g := newGateway()
	body := `{"razorpay_order_id":"order_A","razorpay_payment_id":"pay_B","razorpay_signature":"x","internal_ref_id":"ord_1","payment_type":"subscription"}`

	ev, err := g.ParseWebhook([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, payment.StateCompleted, ev.State)
	assert.Equal(t, "order_A", ev.ProviderOrderID)
	assert.Empty(t, ev.Reference(), "unsigned fields are ignored")
	assert.Empty(t, ev.PaymentType)
}

func TestCreateOrderAndCheckStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_test", user)
		assert.Equal(t, "key-secret", pass)

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "INR", body["currency"])
		assert.Equal(t, "ord_1", body["receipt"])
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "order_X", "amount": 49900, "currency": "INR", "status": "created"})
	})
	mux.HandleFunc("/v1/orders/order_X", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "order_X", "amount": 49900, "currency": "INR", "receipt": "ord_1", "status": "paid",
			"notes": map[string]string{"internal_ref_id": "ord_1", "payment_type": "subscription"},
		})
	})
	mux.HandleFunc("/v1/orders/order_X/payments", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{
			{"id": "pay_fail", "status": "failed", "error_description": "declined"},
			{"id": "pay_ok", "status": "captured", "method": "card"},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := razorpay.New(razorpay.Config{BaseURL: srv.URL, KeyID: "rzp_test", KeySecret: "key-secret"},
		razorpay.WithHTTPClient(srv.Client()))
	ctx := context.Background()

	resp, err := g.CreateOrder(ctx, payment.OrderRequest{ReceiptID: "ord_1", Amount: types.INR(49900), PaymentType: payment.TypeSubscription})
	require.NoError(t, err)
	assert.Equal(t, "order_X", resp.ProviderOrderID)

	ev, err := g.CheckStatus(ctx, payment.StatusQuery{ProviderOrderID: "order_X"})
	require.NoError(t, err)
	assert.Equal(t, payment.StateCompleted, ev.State)
	assert.Equal(t, "pay_ok", ev.TransactionID)
	assert.Equal(t, "card", ev.PaymentMode)
	assert.Empty(t, ev.FailureReason)
	assert.Equal(t, "ord_1", ev.Reference())
}
