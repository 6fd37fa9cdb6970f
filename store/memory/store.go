// Package memory is an in-process store for tests and single-node demos.
//
// Writes are serialized by a store-wide lock that RunInTx holds for the
// whole unit, and a failed unit restores a snapshot taken when it began.
// Readers outside a unit may observe its uncommitted writes.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/xraph/tokenvault"
	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/order"
	"github.com/xraph/tokenvault/plan"
	"github.com/xraph/tokenvault/store"
	"github.com/xraph/tokenvault/txn"
)

type Store struct {
	// txMu serializes write units; mu guards the maps.
	txMu sync.Mutex
	mu   sync.RWMutex

	accounts map[string]*account.Account
	emails   map[string]string // normalized email -> account id
	codes    map[string]string // referral code -> account id

	plans    map[string]*plan.Plan
	packages map[string]*plan.Package

	orders         map[string]*order.Order
	providerOrders map[string]string // provider|providerOrderID -> order id

	txns         map[string]*txn.Transaction
	providerTxns map[string]string // provider|providerOrderID -> txn id

	closed bool
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts:       make(map[string]*account.Account),
		emails:         make(map[string]string),
		codes:          make(map[string]string),
		plans:          make(map[string]*plan.Plan),
		packages:       make(map[string]*plan.Package),
		orders:         make(map[string]*order.Order),
		providerOrders: make(map[string]string),
		txns:           make(map[string]*txn.Transaction),
		providerTxns:   make(map[string]string),
	}
}

// ──────────────────────────────────────────────────
// Units of work
// ──────────────────────────────────────────────────

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// write runs fn under the map lock, taking the unit lock unless ctx already
// belongs to a unit of this store.
func (s *Store) write(ctx context.Context, fn func() error) error {
	if !s.inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return tokenvault.ErrStoreClosed
	}
	return fn()
}

type snapshot struct {
	accounts       map[string]*account.Account
	emails         map[string]string
	codes          map[string]string
	plans          map[string]*plan.Plan
	packages       map[string]*plan.Package
	orders         map[string]*order.Order
	providerOrders map[string]string
	txns           map[string]*txn.Transaction
	providerTxns   map[string]string
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Stored values are never mutated in place, so copying the maps is enough
// to capture a consistent image.
func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{
		accounts:       copyMap(s.accounts),
		emails:         copyMap(s.emails),
		codes:          copyMap(s.codes),
		plans:          copyMap(s.plans),
		packages:       copyMap(s.packages),
		orders:         copyMap(s.orders),
		providerOrders: copyMap(s.providerOrders),
		txns:           copyMap(s.txns),
		providerTxns:   copyMap(s.providerTxns),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = snap.accounts
	s.emails = snap.emails
	s.codes = snap.codes
	s.plans = snap.plans
	s.packages = snap.packages
	s.orders = snap.orders
	s.providerOrders = snap.providerOrders
	s.txns = snap.txns
	s.providerTxns = snap.providerTxns
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.inTx(ctx) {
		return fn(ctx, s)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	txCtx := context.WithValue(ctx, txKey{}, s)

	committed := false
	defer func() {
		if !committed {
			s.restore(snap)
		}
	}()

	if err := fn(txCtx, s); err != nil {
		return err
	}
	committed = true
	return nil
}

// ──────────────────────────────────────────────────
// Account methods
// ──────────────────────────────────────────────────

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	return s.write(ctx, func() error {
		key := a.ID.String()
		email := account.NormalizeEmail(a.Email)
		if _, exists := s.accounts[key]; exists {
			return tokenvault.ErrAlreadyExists
		}
		if _, taken := s.emails[email]; taken {
			return tokenvault.ErrAlreadyExists
		}
		if a.ReferralCode != "" {
			if _, taken := s.codes[a.ReferralCode]; taken {
				return tokenvault.ErrAlreadyExists
			}
			s.codes[a.ReferralCode] = key
		}
		a.Version = 1
		s.accounts[key] = a.Clone()
		s.emails[email] = key
		return nil
	})
}

func (s *Store) GetAccount(_ context.Context, accountID id.AccountID) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.accounts[accountID.String()]; ok {
		return a.Clone(), nil
	}
	return nil, tokenvault.ErrAccountNotFound
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*account.Account, error) {
	s.mu.RLock()
	key, ok := s.emails[account.NormalizeEmail(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, tokenvault.ErrAccountNotFound
	}
	return s.GetAccount(ctx, id.MustParse(key))
}

func (s *Store) GetAccountByReferralCode(ctx context.Context, code string) (*account.Account, error) {
	s.mu.RLock()
	key, ok := s.codes[strings.ToUpper(strings.TrimSpace(code))]
	s.mu.RUnlock()
	if !ok {
		return nil, tokenvault.ErrAccountNotFound
	}
	return s.GetAccount(ctx, id.MustParse(key))
}

func (s *Store) UpdateAccount(ctx context.Context, a *account.Account) error {
	return s.write(ctx, func() error {
		key := a.ID.String()
		stored, ok := s.accounts[key]
		if !ok {
			return tokenvault.ErrAccountNotFound
		}
		if stored.Version != a.Version {
			return tokenvault.ErrConcurrentUpdate
		}

		oldEmail := account.NormalizeEmail(stored.Email)
		newEmail := account.NormalizeEmail(a.Email)
		if oldEmail != newEmail {
			if _, taken := s.emails[newEmail]; taken {
				return tokenvault.ErrAlreadyExists
			}
			delete(s.emails, oldEmail)
			s.emails[newEmail] = key
		}

		a.Version++
		s.accounts[key] = a.Clone()
		return nil
	})
}

func (s *Store) ListAccounts(_ context.Context, opts account.ListOpts) ([]*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*account.Account, 0)
	for _, a := range s.accounts {
		if opts.Matches(a) {
			result = append(result, a.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID.String() < result[j].ID.String() })
	return page(result, opts.Limit, opts.Offset), nil
}

// ──────────────────────────────────────────────────
// Plan and package methods
// ──────────────────────────────────────────────────

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	return s.write(ctx, func() error {
		if _, exists := s.plans[p.ID.String()]; exists {
			return tokenvault.ErrAlreadyExists
		}
		for _, other := range s.plans {
			if p.Slug != "" && other.Slug == p.Slug {
				return tokenvault.ErrAlreadyExists
			}
		}
		c := *p
		s.plans[p.ID.String()] = &c
		return nil
	})
}

func (s *Store) GetPlan(_ context.Context, planID id.PlanID) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.plans[planID.String()]; ok {
		c := *p
		return &c, nil
	}
	return nil, tokenvault.ErrPlanNotFound
}

func (s *Store) GetPlanBySlug(_ context.Context, slug string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.Slug == slug {
			c := *p
			return &c, nil
		}
	}
	return nil, tokenvault.ErrPlanNotFound
}

func (s *Store) ListPlans(_ context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0)
	for _, p := range s.plans {
		if opts.Status == "" || p.Status == opts.Status {
			c := *p
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Price.Amount < result[j].Price.Amount })
	return page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	return s.write(ctx, func() error {
		if _, exists := s.plans[p.ID.String()]; !exists {
			return tokenvault.ErrPlanNotFound
		}
		c := *p
		s.plans[p.ID.String()] = &c
		return nil
	})
}

func (s *Store) CreatePackage(ctx context.Context, p *plan.Package) error {
	return s.write(ctx, func() error {
		if _, exists := s.packages[p.ID.String()]; exists {
			return tokenvault.ErrAlreadyExists
		}
		c := *p
		s.packages[p.ID.String()] = &c
		return nil
	})
}

func (s *Store) GetPackage(_ context.Context, packageID id.PackageID) (*plan.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.packages[packageID.String()]; ok {
		c := *p
		return &c, nil
	}
	return nil, tokenvault.ErrPackageNotFound
}

func (s *Store) ListPackages(_ context.Context, opts plan.ListOpts) ([]*plan.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Package, 0)
	for _, p := range s.packages {
		if opts.Status == "" || p.Status == opts.Status {
			c := *p
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Tokens < result[j].Tokens })
	return page(result, opts.Limit, opts.Offset), nil
}

// ──────────────────────────────────────────────────
// Order methods
// ──────────────────────────────────────────────────

func providerKey(provider, providerOrderID string) string {
	return provider + "|" + providerOrderID
}

func (s *Store) CreateOrder(ctx context.Context, o *order.Order) error {
	return s.write(ctx, func() error {
		key := o.ID.String()
		if _, exists := s.orders[key]; exists {
			return tokenvault.ErrAlreadyExists
		}
		if o.ProviderOrderID != "" {
			pk := providerKey(o.Provider, o.ProviderOrderID)
			if _, taken := s.providerOrders[pk]; taken {
				return tokenvault.ErrAlreadyExists
			}
			s.providerOrders[pk] = key
		}
		o.Version = 1
		s.orders[key] = o.Clone()
		return nil
	})
}

func (s *Store) GetOrder(_ context.Context, orderID id.OrderID) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if o, ok := s.orders[orderID.String()]; ok {
		return o.Clone(), nil
	}
	return nil, tokenvault.ErrOrderNotFound
}

func (s *Store) GetOrderByProviderOrderID(ctx context.Context, provider, providerOrderID string) (*order.Order, error) {
	s.mu.RLock()
	key, ok := s.providerOrders[providerKey(provider, providerOrderID)]
	s.mu.RUnlock()
	if !ok {
		return nil, tokenvault.ErrOrderNotFound
	}
	return s.GetOrder(ctx, id.MustParse(key))
}

func (s *Store) UpdateOrder(ctx context.Context, o *order.Order) error {
	return s.write(ctx, func() error {
		key := o.ID.String()
		stored, ok := s.orders[key]
		if !ok {
			return tokenvault.ErrOrderNotFound
		}
		if stored.Version != o.Version {
			return tokenvault.ErrConcurrentUpdate
		}
		if o.ProviderOrderID != stored.ProviderOrderID && o.ProviderOrderID != "" {
			pk := providerKey(o.Provider, o.ProviderOrderID)
			if owner, taken := s.providerOrders[pk]; taken && owner != key {
				return tokenvault.ErrAlreadyExists
			}
			s.providerOrders[pk] = key
		}
		o.Version++
		s.orders[key] = o.Clone()
		return nil
	})
}

func (s *Store) DeleteOrder(ctx context.Context, orderID id.OrderID) error {
	return s.write(ctx, func() error {
		key := orderID.String()
		o, ok := s.orders[key]
		if !ok {
			return tokenvault.ErrOrderNotFound
		}
		if o.ProviderOrderID != "" {
			delete(s.providerOrders, providerKey(o.Provider, o.ProviderOrderID))
		}
		delete(s.orders, key)
		return nil
	})
}

func (s *Store) ListOrders(_ context.Context, opts order.ListOpts) ([]*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*order.Order, 0)
	for _, o := range s.orders {
		if opts.Matches(o) {
			result = append(result, o.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return page(result, opts.Limit, opts.Offset), nil
}

// ──────────────────────────────────────────────────
// Transaction methods
// ──────────────────────────────────────────────────

func (s *Store) CreateTransaction(ctx context.Context, t *txn.Transaction) error {
	return s.write(ctx, func() error {
		key := t.ID.String()
		if _, exists := s.txns[key]; exists {
			return tokenvault.ErrAlreadyExists
		}
		if t.ProviderOrderID != "" {
			pk := providerKey(t.Provider, t.ProviderOrderID)
			if _, taken := s.providerTxns[pk]; taken {
				return tokenvault.ErrAlreadyExists
			}
			s.providerTxns[pk] = key
		}
		t.Version = 1
		s.txns[key] = t.Clone()
		return nil
	})
}

func (s *Store) GetTransaction(_ context.Context, txnID id.TransactionID) (*txn.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.txns[txnID.String()]; ok {
		return t.Clone(), nil
	}
	return nil, tokenvault.ErrTransactionNotFound
}

func (s *Store) GetTransactionByProviderOrderID(ctx context.Context, provider, providerOrderID string) (*txn.Transaction, error) {
	s.mu.RLock()
	key, ok := s.providerTxns[providerKey(provider, providerOrderID)]
	s.mu.RUnlock()
	if !ok {
		return nil, tokenvault.ErrTransactionNotFound
	}
	return s.GetTransaction(ctx, id.MustParse(key))
}

func (s *Store) UpdateTransaction(ctx context.Context, t *txn.Transaction) error {
	return s.write(ctx, func() error {
		key := t.ID.String()
		stored, ok := s.txns[key]
		if !ok {
			return tokenvault.ErrTransactionNotFound
		}
		if stored.Version != t.Version {
			return tokenvault.ErrConcurrentUpdate
		}
		if t.ProviderOrderID != stored.ProviderOrderID && t.ProviderOrderID != "" {
			pk := providerKey(t.Provider, t.ProviderOrderID)
			if owner, taken := s.providerTxns[pk]; taken && owner != key {
				return tokenvault.ErrAlreadyExists
			}
			s.providerTxns[pk] = key
		}
		t.Version++
		s.txns[key] = t.Clone()
		return nil
	})
}

func (s *Store) DeleteTransaction(ctx context.Context, txnID id.TransactionID) error {
	return s.write(ctx, func() error {
		key := txnID.String()
		t, ok := s.txns[key]
		if !ok {
			return tokenvault.ErrTransactionNotFound
		}
		if t.ProviderOrderID != "" {
			delete(s.providerTxns, providerKey(t.Provider, t.ProviderOrderID))
		}
		delete(s.txns, key)
		return nil
	})
}

func (s *Store) ListTransactions(_ context.Context, opts txn.ListOpts) ([]*txn.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*txn.Transaction, 0)
	for _, t := range s.txns {
		if opts.Matches(t) {
			result = append(result, t.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return page(result, opts.Limit, opts.Offset), nil
}

// ──────────────────────────────────────────────────
// Store management
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return tokenvault.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	start := min(offset, len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}
