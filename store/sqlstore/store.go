// Package sqlstore implements store.Store on gorm for SQLite and PostgreSQL.
//
// Units of work map to database transactions. Versioned updates issue
// UPDATE ... WHERE id = ? AND version = ? and report a stale version as
// tokenvault.ErrConcurrentUpdate.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xraph/tokenvault"
	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/order"
	"github.com/xraph/tokenvault/plan"
	"github.com/xraph/tokenvault/store"
	"github.com/xraph/tokenvault/txn"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store on a gorm connection.
type Store struct {
	db   *gorm.DB
	inTx bool
}

// New wraps an open gorm connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects to driver at dsn. SQLite DSNs that carry no query string
// get WAL journaling, a busy timeout and immediate write locks so that
// concurrent units queue instead of failing with SQLITE_BUSY.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") && dsn != ":memory:" {
			dsn += "?_journal_mode=WAL&_busy_timeout=30000&_txlock=immediate"
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("tokenvault/sql: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("tokenvault/sql: open %s: %w", driver, err)
	}

	if driver == DriverSQLite && dsn == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			return nil, dbErr
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db), nil
}

// DB returns the underlying gorm connection.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Migrate creates or updates the tokenvault tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	err := s.conn(ctx).AutoMigrate(
		&accountRow{},
		&planRow{},
		&packageRow{},
		&orderRow{},
		&transactionRow{},
	)
	if err != nil {
		return fmt.Errorf("tokenvault/sql: migrate: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RunInTx runs fn inside a database transaction. Calls on a transaction
// Store join the open transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &Store{db: tx, inTx: true})
	})
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	row := toAccountRow(a)
	row.Version = 1
	if err := s.conn(ctx).Create(row).Error; err != nil {
		return s.writeErr("create account", err)
	}
	a.Version = 1
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return s.firstAccount(ctx, "get account", "id = ?", accountID.String())
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*account.Account, error) {
	return s.firstAccount(ctx, "get account by email", "email = ?", account.NormalizeEmail(email))
}

func (s *Store) GetAccountByReferralCode(ctx context.Context, code string) (*account.Account, error) {
	return s.firstAccount(ctx, "get account by referral code", "referral_code = ?", strings.ToUpper(strings.TrimSpace(code)))
}

func (s *Store) firstAccount(ctx context.Context, op, where string, arg any) (*account.Account, error) {
	var row accountRow
	if err := s.conn(ctx).Where(where, arg).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, tokenvault.ErrAccountNotFound
		}
		return nil, fmt.Errorf("tokenvault/sql: %s: %w", op, err)
	}
	return fromAccountRow(&row)
}

func (s *Store) UpdateAccount(ctx context.Context, a *account.Account) error {
	row := toAccountRow(a)
	row.Version = a.Version + 1
	if err := s.casUpdate(ctx, "update account", row, row.ID, a.Version, tokenvault.ErrAccountNotFound); err != nil {
		return err
	}
	a.Version = row.Version
	return nil
}

func (s *Store) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	q := s.conn(ctx).Model(&accountRow{})
	if !opts.LapsedAt.IsZero() {
		q = q.Where("end_date > ? AND end_date <= ?", time.Time{}, opts.LapsedAt)
	}
	if !opts.ActiveAt.IsZero() {
		q = q.Where("end_date > ?", opts.ActiveAt)
	}

	var rows []accountRow
	if err := paged(q.Order("id"), opts.Limit, opts.Offset).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("tokenvault/sql: list accounts: %w", err)
	}

	result := make([]*account.Account, len(rows))
	for i := range rows {
		a, err := fromAccountRow(&rows[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if err := s.conn(ctx).Create(toPlanRow(p)).Error; err != nil {
		return s.writeErr("create plan", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return s.firstPlan(ctx, "get plan", "id = ?", planID.String())
}

func (s *Store) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	return s.firstPlan(ctx, "get plan by slug", "slug = ?", slug)
}

func (s *Store) firstPlan(ctx context.Context, op, where string, arg any) (*plan.Plan, error) {
	var row planRow
	if err := s.conn(ctx).Where(where, arg).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, tokenvault.ErrPlanNotFound
		}
		return nil, fmt.Errorf("tokenvault/sql: %s: %w", op, err)
	}
	return fromPlanRow(&row)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	q := s.conn(ctx).Model(&planRow{})
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}

	var rows []planRow
	if err := paged(q.Order("price_cents"), opts.Limit, opts.Offset).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("tokenvault/sql: list plans: %w", err)
	}

	result := make([]*plan.Plan, len(rows))
	for i := range rows {
		p, err := fromPlanRow(&rows[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	res := s.conn(ctx).Model(&planRow{}).
		Where("id = ?", p.ID.String()).
		Select("*").
		Updates(toPlanRow(p))
	if res.Error != nil {
		return s.writeErr("update plan", res.Error)
	}
	if res.RowsAffected == 0 {
		return tokenvault.ErrPlanNotFound
	}
	return nil
}

// ==================== Package Store ====================

func (s *Store) CreatePackage(ctx context.Context, p *plan.Package) error {
	if err := s.conn(ctx).Create(toPackageRow(p)).Error; err != nil {
		return s.writeErr("create package", err)
	}
	return nil
}

func (s *Store) GetPackage(ctx context.Context, packageID id.PackageID) (*plan.Package, error) {
	var row packageRow
	if err := s.conn(ctx).Where("id = ?", packageID.String()).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, tokenvault.ErrPackageNotFound
		}
		return nil, fmt.Errorf("tokenvault/sql: get package: %w", err)
	}
	return fromPackageRow(&row)
}

func (s *Store) ListPackages(ctx context.Context, opts plan.ListOpts) ([]*plan.Package, error) {
	q := s.conn(ctx).Model(&packageRow{})
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}

	var rows []packageRow
	if err := paged(q.Order("tokens"), opts.Limit, opts.Offset).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("tokenvault/sql: list packages: %w", err)
	}

	result := make([]*plan.Package, len(rows))
	for i := range rows {
		p, err := fromPackageRow(&rows[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

// ==================== Order Store ====================

func (s *Store) CreateOrder(ctx context.Context, o *order.Order) error {
	row := toOrderRow(o)
	row.Version = 1
	if err := s.conn(ctx).Create(row).Error; err != nil {
		return s.writeErr("create order", err)
	}
	o.Version = 1
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	return s.firstOrder("get order", s.conn(ctx).Where("id = ?", orderID.String()))
}

func (s *Store) GetOrderByProviderOrderID(ctx context.Context, provider, providerOrderID string) (*order.Order, error) {
	return s.firstOrder("get order by provider order id",
		s.conn(ctx).Where("provider = ? AND provider_order_id = ?", provider, providerOrderID))
}

func (s *Store) firstOrder(op string, q *gorm.DB) (*order.Order, error) {
	var row orderRow
	if err := q.First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, tokenvault.ErrOrderNotFound
		}
		return nil, fmt.Errorf("tokenvault/sql: %s: %w", op, err)
	}
	return fromOrderRow(&row)
}

func (s *Store) UpdateOrder(ctx context.Context, o *order.Order) error {
	row := toOrderRow(o)
	row.Version = o.Version + 1
	if err := s.casUpdate(ctx, "update order", row, row.ID, o.Version, tokenvault.ErrOrderNotFound); err != nil {
		return err
	}
	o.Version = row.Version
	return nil
}

func (s *Store) DeleteOrder(ctx context.Context, orderID id.OrderID) error {
	res := s.conn(ctx).Where("id = ?", orderID.String()).Delete(&orderRow{})
	if res.Error != nil {
		return fmt.Errorf("tokenvault/sql: delete order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return tokenvault.ErrOrderNotFound
	}
	return nil
}

func (s *Store) ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error) {
	q := s.conn(ctx).Model(&orderRow{})
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if !opts.AccountID.IsNil() {
		q = q.Where("account_id = ?", opts.AccountID.String())
	}
	if !opts.CreatedBefore.IsZero() {
		q = q.Where("created_at < ?", opts.CreatedBefore)
	}

	var rows []orderRow
	if err := paged(q.Order("created_at"), opts.Limit, opts.Offset).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("tokenvault/sql: list orders: %w", err)
	}

	result := make([]*order.Order, len(rows))
	for i := range rows {
		o, err := fromOrderRow(&rows[i])
		if err != nil {
			return nil, err
		}
		result[i] = o
	}
	return result, nil
}

// ==================== Transaction Store ====================

func (s *Store) CreateTransaction(ctx context.Context, t *txn.Transaction) error {
	row := toTransactionRow(t)
	row.Version = 1
	if err := s.conn(ctx).Create(row).Error; err != nil {
		return s.writeErr("create transaction", err)
	}
	t.Version = 1
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, txnID id.TransactionID) (*txn.Transaction, error) {
	return s.firstTransaction("get transaction", s.conn(ctx).Where("id = ?", txnID.String()))
}

func (s *Store) GetTransactionByProviderOrderID(ctx context.Context, provider, providerOrderID string) (*txn.Transaction, error) {
	return s.firstTransaction("get transaction by provider order id",
		s.conn(ctx).Where("provider = ? AND provider_order_id = ?", provider, providerOrderID))
}

func (s *Store) firstTransaction(op string, q *gorm.DB) (*txn.Transaction, error) {
	var row transactionRow
	if err := q.First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, tokenvault.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("tokenvault/sql: %s: %w", op, err)
	}
	return fromTransactionRow(&row)
}

func (s *Store) UpdateTransaction(ctx context.Context, t *txn.Transaction) error {
	row := toTransactionRow(t)
	row.Version = t.Version + 1
	if err := s.casUpdate(ctx, "update transaction", row, row.ID, t.Version, tokenvault.ErrTransactionNotFound); err != nil {
		return err
	}
	t.Version = row.Version
	return nil
}

func (s *Store) DeleteTransaction(ctx context.Context, txnID id.TransactionID) error {
	res := s.conn(ctx).Where("id = ?", txnID.String()).Delete(&transactionRow{})
	if res.Error != nil {
		return fmt.Errorf("tokenvault/sql: delete transaction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return tokenvault.ErrTransactionNotFound
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, opts txn.ListOpts) ([]*txn.Transaction, error) {
	q := s.conn(ctx).Model(&transactionRow{})
	if !opts.AccountID.IsNil() {
		q = q.Where("account_id = ?", opts.AccountID.String())
	}
	if opts.Type != "" {
		q = q.Where("type = ?", string(opts.Type))
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if !opts.CreatedBefore.IsZero() {
		q = q.Where("created_at < ?", opts.CreatedBefore)
	}

	var rows []transactionRow
	if err := paged(q.Order("created_at"), opts.Limit, opts.Offset).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("tokenvault/sql: list transactions: %w", err)
	}

	result := make([]*txn.Transaction, len(rows))
	for i := range rows {
		t, err := fromTransactionRow(&rows[i])
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

// ==================== Helpers ====================

// casUpdate writes every column of row when the stored version still
// equals expected.
func (s *Store) casUpdate(ctx context.Context, op string, row any, rowID string, expected int64, notFound error) error {
	res := s.conn(ctx).Model(row).
		Where("id = ? AND version = ?", rowID, expected).
		Select("*").
		Updates(row)
	if res.Error != nil {
		return s.writeErr(op, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var n int64
	if err := s.conn(ctx).Model(row).Where("id = ?", rowID).Count(&n).Error; err != nil {
		return fmt.Errorf("tokenvault/sql: %s version check: %w", op, err)
	}
	if n == 0 {
		return notFound
	}
	return tokenvault.ErrConcurrentUpdate
}

// writeErr maps unique constraint violations to tokenvault.ErrAlreadyExists.
// Connections opened without TranslateError are translated here.
func (s *Store) writeErr(op string, err error) error {
	if t, ok := s.db.Dialector.(gorm.ErrorTranslator); ok && !errors.Is(err, gorm.ErrDuplicatedKey) {
		err = t.Translate(err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("tokenvault/sql: %s: %w", op, tokenvault.ErrAlreadyExists)
	}
	return fmt.Errorf("tokenvault/sql: %s: %w", op, err)
}

func paged(q *gorm.DB, limit, offset int) *gorm.DB {
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	return q
}
