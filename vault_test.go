package tokenvault_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tokenvault"
	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/payment"
	"github.com/xraph/tokenvault/plan"
	"github.com/xraph/tokenvault/store/memory"
	"github.com/xraph/tokenvault/types"
)

const fakeProvider payment.Provider = "fakepay"

// ──────────────────────────────────────────────────
// Test doubles
// ──────────────────────────────────────────────────

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeGateway accepts webhooks signed with its secret whose body is a
// JSON-encoded payment.Event.
type fakeGateway struct {
	mu        sync.Mutex
	secret    string
	createErr error
	created   []payment.OrderRequest
	statuses  map[string]payment.State
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{secret: "s3cret", statuses: make(map[string]payment.State)}
}

func (g *fakeGateway) Provider() payment.Provider { return fakeProvider }

func (g *fakeGateway) CreateOrder(_ context.Context, req payment.OrderRequest) (*payment.OrderResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, req)
	return &payment.OrderResponse{
		ProviderOrderID: "fp_" + req.ReceiptID,
		RedirectURL:     "https://pay.example.com/" + req.ReceiptID,
		State:           payment.StatePending,
	}, nil
}

func (g *fakeGateway) VerifyWebhook(_ []byte, signature string) error {
	if signature != g.secret {
		return payment.ErrInvalidSignature
	}
	return nil
}

func (g *fakeGateway) ParseWebhook(payload []byte) (*payment.Event, error) {
	var ev payment.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %w", payment.ErrMalformedPayload, err)
	}
	return &ev, nil
}

func (g *fakeGateway) CheckStatus(_ context.Context, q payment.StatusQuery) (*payment.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.statuses[q.MerchantOrderID]
	if !ok {
		state = payment.StatePending
	}
	return &payment.Event{
		Provider:        fakeProvider,
		MerchantOrderID: q.MerchantOrderID,
		ProviderOrderID: q.ProviderOrderID,
		State:           state,
		TransactionID:   "fptxn_" + q.MerchantOrderID,
	}, nil
}

func (g *fakeGateway) setStatus(ref string, state payment.State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[ref] = state
}

// ──────────────────────────────────────────────────
// Harness
// ──────────────────────────────────────────────────

type harness struct {
	v     *tokenvault.Vault
	store *memory.Store
	clock *testClock
	gw    *fakeGateway
	plans int
}

func newHarness(t *testing.T, opts ...tokenvault.Option) *harness {
	t.Helper()

	h := &harness{
		store: memory.New(),
		clock: &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)},
		gw:    newFakeGateway(),
	}
	base := []tokenvault.Option{
		tokenvault.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		tokenvault.WithClock(h.clock.Now),
		tokenvault.WithGateway(h.gw),
		tokenvault.WithRetry(5, time.Millisecond),
	}
	h.v = tokenvault.New(h.store, append(base, opts...)...)

	require.NoError(t, h.v.Start(context.Background()))
	t.Cleanup(func() { _ = h.v.Stop() })
	return h
}

func (h *harness) plan(t *testing.T, daily, bonus int64) *plan.Plan {
	t.Helper()
	h.plans++
	p := &plan.Plan{
		Name:               fmt.Sprintf("Plan %d", h.plans),
		Price:              types.INR(49900),
		DurationDays:       30,
		DailyTokenQuota:    daily,
		BonusTokenAmount:   bonus,
		ReferralCommission: types.INR(5000),
	}
	require.NoError(t, h.v.CreatePlan(context.Background(), p))
	return p
}

func (h *harness) pkg(t *testing.T, tokens int64) *plan.Package {
	t.Helper()
	p := &plan.Package{Name: fmt.Sprintf("%d tokens", tokens), Tokens: tokens, Price: types.INR(tokens * 10)}
	require.NoError(t, h.v.CreatePackage(context.Background(), p))
	return p
}

func (h *harness) account(t *testing.T, email string) *account.Account {
	t.Helper()
	a, err := h.v.CreateAccount(context.Background(), tokenvault.NewAccount{Email: email, Name: "Test"})
	require.NoError(t, err)
	return a
}

func (h *harness) subscribed(t *testing.T, email string, p *plan.Plan) *account.Account {
	t.Helper()
	a := h.account(t, email)
	_, err := h.v.Activate(context.Background(), a.ID, p.ID)
	require.NoError(t, err)
	return a
}

func (h *harness) event(ref string, state payment.State) *payment.Event {
	return &payment.Event{
		Provider:      fakeProvider,
		InternalRefID: ref,
		State:         state,
		TransactionID: "fptxn_" + ref,
		PaymentMode:   "UPI",
	}
}

// deliver posts a signed webhook and waits for it to be processed.
func (h *harness) deliver(t *testing.T, ref string, state payment.State) *tokenvault.Ack {
	t.Helper()
	payload, err := json.Marshal(h.event(ref, state))
	require.NoError(t, err)

	ack, err := h.v.HandleWebhook(context.Background(), fakeProvider, payload, h.gw.secret)
	require.NoError(t, err)
	h.v.Wait()
	return ack
}

func (h *harness) balance(t *testing.T, a *account.Account) *account.Breakdown {
	t.Helper()
	b, err := h.v.Balance(context.Background(), a.ID)
	require.NoError(t, err)
	return b
}

// ──────────────────────────────────────────────────
// Engine
// ──────────────────────────────────────────────────

type countingPlugin struct {
	inits     atomic.Int32
	shutdowns atomic.Int32
}

func (p *countingPlugin) Name() string { return "counting" }

func (p *countingPlugin) OnInit(context.Context, any) error {
	p.inits.Add(1)
	return nil
}

func (p *countingPlugin) OnShutdown(context.Context) error {
	p.shutdowns.Add(1)
	return nil
}

func TestStartStop(t *testing.T) {
	p := &countingPlugin{}
	v := tokenvault.New(memory.New(),
		tokenvault.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		tokenvault.WithPlugin(p),
	)

	require.NoError(t, v.Start(context.Background()))
	require.NoError(t, v.Stop())

	assert.Equal(t, int32(1), p.inits.Load())
	assert.Equal(t, int32(1), p.shutdowns.Load())
	assert.ErrorIs(t, v.Store().Ping(context.Background()), tokenvault.ErrStoreClosed)
}

func TestMaintenanceWorkerExpiresLapsedAccounts(t *testing.T) {
	h := newHarness(t, tokenvault.WithMaintenance(10*time.Millisecond, time.Minute))
	a := h.subscribed(t, "worker@example.com", h.plan(t, 100, 0))

	h.clock.Advance(31 * 24 * time.Hour)

	assert.Eventually(t, func() bool {
		stored, err := h.v.GetAccount(context.Background(), a.ID)
		return err == nil && !stored.Subscription.IsActive && stored.Daily.Current == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreatePlanValidates(t *testing.T) {
	h := newHarness(t)

	err := h.v.CreatePlan(context.Background(), &plan.Plan{Name: "Broken", Price: types.INR(100)})
	require.Error(t, err)
	assert.ErrorIs(t, err, tokenvault.ErrInvalidInput)

	var verr tokenvault.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "plan", verr.Field)
}

func TestCreateAccountRejectsDuplicateEmail(t *testing.T) {
	h := newHarness(t)
	h.account(t, "dup@example.com")

	_, err := h.v.CreateAccount(context.Background(), tokenvault.NewAccount{Email: "DUP@example.com "})
	assert.ErrorIs(t, err, tokenvault.ErrAlreadyExists)
}

func TestAuthenticate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.v.CreateAccount(ctx, tokenvault.NewAccount{Email: "auth@example.com", Password: "correct horse"})
	require.NoError(t, err)

	a, err := h.v.Authenticate(ctx, "auth@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "auth@example.com", a.Email)

	_, err = h.v.Authenticate(ctx, "auth@example.com", "wrong")
	assert.ErrorIs(t, err, tokenvault.ErrInvalidCredentials)

	_, err = h.v.Authenticate(ctx, "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, tokenvault.ErrInvalidCredentials)
}
