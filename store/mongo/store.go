package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/tokenvault"
	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/order"
	"github.com/xraph/tokenvault/plan"
	"github.com/xraph/tokenvault/store"
	"github.com/xraph/tokenvault/txn"
)

// Collection name constants.
const (
	colAccounts     = "tokenvault_accounts"
	colPlans        = "tokenvault_plans"
	colPackages     = "tokenvault_packages"
	colOrders       = "tokenvault_orders"
	colTransactions = "tokenvault_transactions"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
//
// RunInTx opens a driver session and runs the unit inside
// Session.WithTransaction, so the backing deployment must be a replica set
// or sharded cluster.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all tokenvault collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("tokenvault/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunInTx runs fn inside a multi-document transaction. A ctx that already
// carries a session joins it.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx, s)
	}

	sess, err := s.mdb.Collection(colAccounts).Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("tokenvault/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
		return nil, fn(txCtx, s)
	})
	return err
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	m := toAccountModel(a)
	m.Version = 1
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		return writeErr("create account", err)
	}
	a.Version = 1
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return s.findAccount(ctx, "get account", bson.M{"_id": accountID.String()})
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*account.Account, error) {
	return s.findAccount(ctx, "get account by email", bson.M{"email": account.NormalizeEmail(email)})
}

func (s *Store) GetAccountByReferralCode(ctx context.Context, code string) (*account.Account, error) {
	return s.findAccount(ctx, "get account by referral code", bson.M{"referral_code": strings.ToUpper(strings.TrimSpace(code))})
}

func (s *Store) findAccount(ctx context.Context, op string, filter bson.M) (*account.Account, error) {
	var m accountModel
	if err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, tokenvault.ErrAccountNotFound
		}
		return nil, fmt.Errorf("tokenvault/mongo: %s: %w", op, err)
	}
	return fromAccountModel(&m)
}

func (s *Store) UpdateAccount(ctx context.Context, a *account.Account) error {
	m := toAccountModel(a)
	m.Version = a.Version + 1

	res, err := s.mdb.NewUpdate(m).
		Filter(versionFilter(m.ID, a.Version)).
		Exec(ctx)
	if err != nil {
		return writeErr("update account", err)
	}
	if res.MatchedCount() == 0 {
		return s.casMiss(ctx, colAccounts, m.ID, tokenvault.ErrAccountNotFound)
	}
	a.Version = m.Version
	return nil
}

func (s *Store) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	var models []accountModel

	q := s.mdb.NewFind(&models).
		Filter(accountListFilter(opts)).
		Sort(bson.D{{Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tokenvault/mongo: list accounts: %w", err)
	}

	result := make([]*account.Account, len(models))
	for i := range models {
		a, err := fromAccountModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if _, err := s.mdb.NewInsert(toPlanModel(p)).Exec(ctx); err != nil {
		return writeErr("create plan", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return s.findPlan(ctx, "get plan", bson.M{"_id": planID.String()})
}

func (s *Store) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	return s.findPlan(ctx, "get plan by slug", bson.M{"slug": slug})
}

func (s *Store) findPlan(ctx context.Context, op string, filter bson.M) (*plan.Plan, error) {
	var m planModel
	if err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, tokenvault.ErrPlanNotFound
		}
		return nil, fmt.Errorf("tokenvault/mongo: %s: %w", op, err)
	}
	return fromPlanModel(&m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel

	q := s.mdb.NewFind(&models).
		Filter(statusFilter(opts.Status)).
		Sort(bson.D{{Key: "price_cents", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tokenvault/mongo: list plans: %w", err)
	}

	result := make([]*plan.Plan, len(models))
	for i := range models {
		p, err := fromPlanModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	m := toPlanModel(p)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return writeErr("update plan", err)
	}
	if res.MatchedCount() == 0 {
		return tokenvault.ErrPlanNotFound
	}
	return nil
}

// ==================== Package Store ====================

func (s *Store) CreatePackage(ctx context.Context, p *plan.Package) error {
	if _, err := s.mdb.NewInsert(toPackageModel(p)).Exec(ctx); err != nil {
		return writeErr("create package", err)
	}
	return nil
}

func (s *Store) GetPackage(ctx context.Context, packageID id.PackageID) (*plan.Package, error) {
	var m packageModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": packageID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tokenvault.ErrPackageNotFound
		}
		return nil, fmt.Errorf("tokenvault/mongo: get package: %w", err)
	}
	return fromPackageModel(&m)
}

func (s *Store) ListPackages(ctx context.Context, opts plan.ListOpts) ([]*plan.Package, error) {
	var models []packageModel

	q := s.mdb.NewFind(&models).
		Filter(statusFilter(opts.Status)).
		Sort(bson.D{{Key: "tokens", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tokenvault/mongo: list packages: %w", err)
	}

	result := make([]*plan.Package, len(models))
	for i := range models {
		p, err := fromPackageModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

// ==================== Order Store ====================

func (s *Store) CreateOrder(ctx context.Context, o *order.Order) error {
	m := toOrderModel(o)
	m.Version = 1
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		return writeErr("create order", err)
	}
	o.Version = 1
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	return s.findOrder(ctx, "get order", bson.M{"_id": orderID.String()})
}

func (s *Store) GetOrderByProviderOrderID(ctx context.Context, provider, providerOrderID string) (*order.Order, error) {
	return s.findOrder(ctx, "get order by provider order id", bson.M{
		"provider":          provider,
		"provider_order_id": providerOrderID,
	})
}

func (s *Store) findOrder(ctx context.Context, op string, filter bson.M) (*order.Order, error) {
	var m orderModel
	if err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, tokenvault.ErrOrderNotFound
		}
		return nil, fmt.Errorf("tokenvault/mongo: %s: %w", op, err)
	}
	return fromOrderModel(&m)
}

func (s *Store) UpdateOrder(ctx context.Context, o *order.Order) error {
	m := toOrderModel(o)
	m.Version = o.Version + 1

	res, err := s.mdb.NewUpdate(m).
		Filter(versionFilter(m.ID, o.Version)).
		Exec(ctx)
	if err != nil {
		return writeErr("update order", err)
	}
	if res.MatchedCount() == 0 {
		return s.casMiss(ctx, colOrders, m.ID, tokenvault.ErrOrderNotFound)
	}
	o.Version = m.Version
	return nil
}

func (s *Store) DeleteOrder(ctx context.Context, orderID id.OrderID) error {
	res, err := s.mdb.NewDelete((*orderModel)(nil)).
		Filter(bson.M{"_id": orderID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tokenvault/mongo: delete order: %w", err)
	}
	if res.DeletedCount() == 0 {
		return tokenvault.ErrOrderNotFound
	}
	return nil
}

func (s *Store) ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error) {
	var models []orderModel

	q := s.mdb.NewFind(&models).
		Filter(orderListFilter(opts)).
		Sort(bson.D{{Key: "created_at", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tokenvault/mongo: list orders: %w", err)
	}

	result := make([]*order.Order, len(models))
	for i := range models {
		o, err := fromOrderModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = o
	}
	return result, nil
}

// ==================== Transaction Store ====================

func (s *Store) CreateTransaction(ctx context.Context, t *txn.Transaction) error {
	m := toTransactionModel(t)
	m.Version = 1
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		return writeErr("create transaction", err)
	}
	t.Version = 1
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, txnID id.TransactionID) (*txn.Transaction, error) {
	return s.findTransaction(ctx, "get transaction", bson.M{"_id": txnID.String()})
}

func (s *Store) GetTransactionByProviderOrderID(ctx context.Context, provider, providerOrderID string) (*txn.Transaction, error) {
	return s.findTransaction(ctx, "get transaction by provider order id", bson.M{
		"provider":          provider,
		"provider_order_id": providerOrderID,
	})
}

func (s *Store) findTransaction(ctx context.Context, op string, filter bson.M) (*txn.Transaction, error) {
	var m transactionModel
	if err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, tokenvault.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("tokenvault/mongo: %s: %w", op, err)
	}
	return fromTransactionModel(&m)
}

func (s *Store) UpdateTransaction(ctx context.Context, t *txn.Transaction) error {
	m := toTransactionModel(t)
	m.Version = t.Version + 1

	res, err := s.mdb.NewUpdate(m).
		Filter(versionFilter(m.ID, t.Version)).
		Exec(ctx)
	if err != nil {
		return writeErr("update transaction", err)
	}
	if res.MatchedCount() == 0 {
		return s.casMiss(ctx, colTransactions, m.ID, tokenvault.ErrTransactionNotFound)
	}
	t.Version = m.Version
	return nil
}

func (s *Store) DeleteTransaction(ctx context.Context, txnID id.TransactionID) error {
	res, err := s.mdb.NewDelete((*transactionModel)(nil)).
		Filter(bson.M{"_id": txnID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tokenvault/mongo: delete transaction: %w", err)
	}
	if res.DeletedCount() == 0 {
		return tokenvault.ErrTransactionNotFound
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, opts txn.ListOpts) ([]*txn.Transaction, error) {
	var models []transactionModel

	q := s.mdb.NewFind(&models).
		Filter(transactionListFilter(opts)).
		Sort(bson.D{{Key: "created_at", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tokenvault/mongo: list transactions: %w", err)
	}

	result := make([]*txn.Transaction, len(models))
	for i := range models {
		t, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// writeErr maps unique index violations to tokenvault.ErrAlreadyExists.
func writeErr(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("tokenvault/mongo: %s: %w", op, tokenvault.ErrAlreadyExists)
	}
	return fmt.Errorf("tokenvault/mongo: %s: %w", op, err)
}

// casMiss resolves a versioned update that matched nothing: the document
// is either gone or was written by someone else since it was read.
func (s *Store) casMiss(ctx context.Context, col, docID string, notFound error) error {
	n, err := s.mdb.Collection(col).CountDocuments(ctx, bson.M{"_id": docID})
	if err != nil {
		return fmt.Errorf("tokenvault/mongo: %s version check: %w", col, err)
	}
	return casOutcome(n, notFound)
}

// casOutcome maps the number of documents still carrying the id to the
// error a missed versioned update reports.
func casOutcome(remaining int64, notFound error) error {
	if remaining == 0 {
		return notFound
	}
	return tokenvault.ErrConcurrentUpdate
}

// versionFilter matches a document only at the version it was read at.
func versionFilter(docID string, version int64) bson.M {
	return bson.M{"_id": docID, "version": version}
}

func statusFilter(status plan.Status) bson.M {
	filter := bson.M{}
	if status != "" {
		filter["status"] = string(status)
	}
	return filter
}

// accountListFilter selects on subscription.end_date. LapsedAt skips
// accounts that never subscribed (zero end date).
func accountListFilter(opts account.ListOpts) bson.M {
	filter := bson.M{}
	end := bson.M{}
	if !opts.LapsedAt.IsZero() {
		end["$gt"] = time.Time{}
		end["$lte"] = opts.LapsedAt
	}
	if !opts.ActiveAt.IsZero() {
		end["$gt"] = opts.ActiveAt
	}
	if len(end) > 0 {
		filter["subscription.end_date"] = end
	}
	return filter
}

func orderListFilter(opts order.ListOpts) bson.M {
	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if !opts.AccountID.IsNil() {
		filter["account_id"] = opts.AccountID.String()
	}
	if !opts.CreatedBefore.IsZero() {
		filter["created_at"] = bson.M{"$lt": opts.CreatedBefore}
	}
	return filter
}

func transactionListFilter(opts txn.ListOpts) bson.M {
	filter := bson.M{}
	if !opts.AccountID.IsNil() {
		filter["account_id"] = opts.AccountID.String()
	}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if !opts.CreatedBefore.IsZero() {
		filter["created_at"] = bson.M{"$lt": opts.CreatedBefore}
	}
	return filter
}

// providerOrderIndex is unique per gateway, ignoring records that have not
// been assigned a provider order id yet.
func providerOrderIndex() mongo.IndexModel {
	return mongo.IndexModel{
		Keys: bson.D{{Key: "provider", Value: 1}, {Key: "provider_order_id", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"provider_order_id": bson.M{"$type": "string"}}),
	}
}

// migrationIndexes returns the index definitions for all tokenvault collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colAccounts: {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "referral_code", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "subscription.end_date", Value: 1}}},
		},
		colPlans: {
			{
				Keys:    bson.D{{Key: "slug", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "price_cents", Value: 1}}},
		},
		colPackages: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "tokens", Value: 1}}},
		},
		colOrders: {
			providerOrderIndex(),
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "account_id", Value: 1}}},
		},
		colTransactions: {
			providerOrderIndex(),
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "type", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}
}
