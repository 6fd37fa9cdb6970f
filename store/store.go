// Package store defines the aggregate persistence contract for tokenvault.
package store

import (
	"context"

	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/order"
	"github.com/xraph/tokenvault/plan"
	"github.com/xraph/tokenvault/txn"
)

// Store is the unified storage interface for all tokenvault records.
// Methods are declared explicitly instead of embedding the per-package
// interfaces so their names do not collide.
//
// Update methods are compare-and-swap on the record's Version: they return
// tokenvault.ErrConcurrentUpdate when the stored version moved, and bump
// Version on success. Creates return tokenvault.ErrAlreadyExists on any
// unique-key violation (id, email, referral code, provider order id).
type Store interface {
	// Account methods
	CreateAccount(ctx context.Context, a *account.Account) error
	GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*account.Account, error)
	GetAccountByReferralCode(ctx context.Context, code string) (*account.Account, error)
	UpdateAccount(ctx context.Context, a *account.Account) error
	ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error)

	// Plan methods
	CreatePlan(ctx context.Context, p *plan.Plan) error
	GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error)
	GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error)
	ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error)
	UpdatePlan(ctx context.Context, p *plan.Plan) error

	// Package methods
	CreatePackage(ctx context.Context, p *plan.Package) error
	GetPackage(ctx context.Context, packageID id.PackageID) (*plan.Package, error)
	ListPackages(ctx context.Context, opts plan.ListOpts) ([]*plan.Package, error)

	// Order methods
	CreateOrder(ctx context.Context, o *order.Order) error
	GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error)
	GetOrderByProviderOrderID(ctx context.Context, provider, providerOrderID string) (*order.Order, error)
	UpdateOrder(ctx context.Context, o *order.Order) error
	DeleteOrder(ctx context.Context, orderID id.OrderID) error
	ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error)

	// Transaction methods
	CreateTransaction(ctx context.Context, t *txn.Transaction) error
	GetTransaction(ctx context.Context, txnID id.TransactionID) (*txn.Transaction, error)
	GetTransactionByProviderOrderID(ctx context.Context, provider, providerOrderID string) (*txn.Transaction, error)
	UpdateTransaction(ctx context.Context, t *txn.Transaction) error
	DeleteTransaction(ctx context.Context, txnID id.TransactionID) error
	ListTransactions(ctx context.Context, opts txn.ListOpts) ([]*txn.Transaction, error)

	// RunInTx runs fn with a Store bound to one all-or-nothing unit. Any
	// error returned by fn rolls every write back. Nested calls on the tx
	// Store join the outer unit.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
