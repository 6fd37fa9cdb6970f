package sqlstore

import (
	"time"

	"gorm.io/datatypes"

	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/order"
	"github.com/xraph/tokenvault/plan"
	"github.com/xraph/tokenvault/txn"
	"github.com/xraph/tokenvault/types"
)

// Timestamps come from the engine clock, so gorm's automatic time tracking
// is switched off on every row type.

// ==================== Account rows ====================

type accountRow struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	Name         string
	PasswordHash string
	ReferralCode string `gorm:"uniqueIndex;not null"`
	ReferredBy   string `gorm:"index"`

	PlanID     string
	StartDate  time.Time
	EndDate    time.Time `gorm:"index"`
	DailyQuota int64
	IsActive   bool

	Daily     account.Daily     `gorm:"embedded;embeddedPrefix:daily_"`
	Purchased account.Purchased `gorm:"embedded;embeddedPrefix:purchased_"`
	Bonus     account.Bonus     `gorm:"embedded;embeddedPrefix:bonus_"`
	Prize     prizeCols         `gorm:"embedded;embeddedPrefix:prize_"`
	Usage     account.Usage     `gorm:"embedded;embeddedPrefix:usage_"`

	Referrals          datatypes.JSONSlice[account.ReferralEntry]
	ReferralTotal      int
	ReferralActive     int
	CommissionCents    int64
	CommissionCurrency string
	Milestones         datatypes.JSONSlice[account.MilestoneCounter]
	TokensEarned       int64

	Version   int64
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (accountRow) TableName() string { return "tokenvault_accounts" }

type prizeCols struct {
	Current   int64
	Used      int64
	GrantedAt time.Time
	ExpiresAt time.Time
	GrantedBy string
	PrizeType string
	History   datatypes.JSONSlice[account.PrizeGrant]
}

func toAccountRow(a *account.Account) *accountRow {
	return &accountRow{
		ID:           a.ID.String(),
		Email:        account.NormalizeEmail(a.Email),
		Name:         a.Name,
		PasswordHash: a.PasswordHash,
		ReferralCode: a.ReferralCode,
		ReferredBy:   a.ReferredBy.String(),
		PlanID:       a.Subscription.PlanID.String(),
		StartDate:    a.Subscription.StartDate,
		EndDate:      a.Subscription.EndDate,
		DailyQuota:   a.Subscription.DailyTokenQuota,
		IsActive:     a.Subscription.IsActive,
		Daily:        a.Daily,
		Purchased:    a.Purchased,
		Bonus:        a.Bonus,
		Prize: prizeCols{
			Current:   a.Prize.Current,
			Used:      a.Prize.Used,
			GrantedAt: a.Prize.GrantedAt,
			ExpiresAt: a.Prize.ExpiresAt,
			GrantedBy: a.Prize.GrantedBy,
			PrizeType: a.Prize.PrizeType,
			History:   datatypes.NewJSONSlice(a.Prize.History),
		},
		Usage:              a.Usage,
		Referrals:          datatypes.NewJSONSlice(a.Referrals),
		ReferralTotal:      a.ReferralStats.TotalReferrals,
		ReferralActive:     a.ReferralStats.ActiveReferrals,
		CommissionCents:    a.ReferralStats.CommissionEarned.Amount,
		CommissionCurrency: a.ReferralStats.CommissionEarned.Currency,
		Milestones:         datatypes.NewJSONSlice(a.Milestones.Counters),
		TokensEarned:       a.Milestones.TotalTokensEarned,
		Version:            a.Version,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func fromAccountRow(r *accountRow) (*account.Account, error) {
	accountID, err := id.ParseAccountID(r.ID)
	if err != nil {
		return nil, err
	}
	referredBy, err := parseOptional(r.ReferredBy, id.ParseAccountID)
	if err != nil {
		return nil, err
	}
	planID, err := parseOptional(r.PlanID, id.ParsePlanID)
	if err != nil {
		return nil, err
	}

	return &account.Account{
		Entity:       types.Entity{CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC()},
		ID:           accountID,
		Email:        r.Email,
		Name:         r.Name,
		PasswordHash: r.PasswordHash,
		ReferralCode: r.ReferralCode,
		ReferredBy:   referredBy,
		Subscription: account.Subscription{
			PlanID:          planID,
			StartDate:       r.StartDate.UTC(),
			EndDate:         r.EndDate.UTC(),
			DailyTokenQuota: r.DailyQuota,
			IsActive:        r.IsActive,
		},
		Daily:     r.Daily,
		Purchased: r.Purchased,
		Bonus:     r.Bonus,
		Prize: account.Prize{
			Current:   r.Prize.Current,
			Used:      r.Prize.Used,
			GrantedAt: r.Prize.GrantedAt,
			ExpiresAt: r.Prize.ExpiresAt,
			GrantedBy: r.Prize.GrantedBy,
			PrizeType: r.Prize.PrizeType,
			History:   []account.PrizeGrant(r.Prize.History),
		},
		Usage:     r.Usage,
		Referrals: []account.ReferralEntry(r.Referrals),
		ReferralStats: account.ReferralStats{
			TotalReferrals:   r.ReferralTotal,
			ActiveReferrals:  r.ReferralActive,
			CommissionEarned: types.Money{Amount: r.CommissionCents, Currency: r.CommissionCurrency},
		},
		Milestones: account.Milestones{
			Counters:          []account.MilestoneCounter(r.Milestones),
			TotalTokensEarned: r.TokensEarned,
		},
		Version: r.Version,
	}, nil
}

// ==================== Plan rows ====================

type planRow struct {
	ID                 string `gorm:"primaryKey"`
	Name               string
	Slug               string `gorm:"uniqueIndex;not null"`
	Description        string
	PriceCents         int64
	Currency           string
	DurationDays       int
	DailyTokenQuota    int64
	BonusTokenAmount   int64
	CommissionCents    int64
	CommissionCurrency string
	Status             string    `gorm:"index"`
	CreatedAt          time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime:false"`
}

func (planRow) TableName() string { return "tokenvault_plans" }

func toPlanRow(p *plan.Plan) *planRow {
	return &planRow{
		ID:                 p.ID.String(),
		Name:               p.Name,
		Slug:               p.Slug,
		Description:        p.Description,
		PriceCents:         p.Price.Amount,
		Currency:           p.Price.Currency,
		DurationDays:       p.DurationDays,
		DailyTokenQuota:    p.DailyTokenQuota,
		BonusTokenAmount:   p.BonusTokenAmount,
		CommissionCents:    p.ReferralCommission.Amount,
		CommissionCurrency: p.ReferralCommission.Currency,
		Status:             string(p.Status),
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

func fromPlanRow(r *planRow) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(r.ID)
	if err != nil {
		return nil, err
	}
	return &plan.Plan{
		Entity:             types.Entity{CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC()},
		ID:                 planID,
		Name:               r.Name,
		Slug:               r.Slug,
		Description:        r.Description,
		Price:              types.Money{Amount: r.PriceCents, Currency: r.Currency},
		DurationDays:       r.DurationDays,
		DailyTokenQuota:    r.DailyTokenQuota,
		BonusTokenAmount:   r.BonusTokenAmount,
		ReferralCommission: types.Money{Amount: r.CommissionCents, Currency: r.CommissionCurrency},
		Status:             plan.Status(r.Status),
	}, nil
}

type packageRow struct {
	ID         string `gorm:"primaryKey"`
	Name       string
	Tokens     int64
	PriceCents int64
	Currency   string
	Status     string    `gorm:"index"`
	CreatedAt  time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime:false"`
}

func (packageRow) TableName() string { return "tokenvault_packages" }

func toPackageRow(p *plan.Package) *packageRow {
	return &packageRow{
		ID:         p.ID.String(),
		Name:       p.Name,
		Tokens:     p.Tokens,
		PriceCents: p.Price.Amount,
		Currency:   p.Price.Currency,
		Status:     string(p.Status),
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func fromPackageRow(r *packageRow) (*plan.Package, error) {
	pkgID, err := id.ParsePackageID(r.ID)
	if err != nil {
		return nil, err
	}
	return &plan.Package{
		Entity: types.Entity{CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC()},
		ID:     pkgID,
		Name:   r.Name,
		Tokens: r.Tokens,
		Price:  types.Money{Amount: r.PriceCents, Currency: r.Currency},
		Status: plan.Status(r.Status),
	}, nil
}

// ==================== Order rows ====================

// ProviderOrderID is NULL until the gateway assigns one, which keeps the
// composite unique index from colliding on unsent orders.
type orderRow struct {
	ID                    string  `gorm:"primaryKey"`
	Provider              string  `gorm:"uniqueIndex:idx_orders_provider_ref,priority:1"`
	ProviderOrderID       *string `gorm:"uniqueIndex:idx_orders_provider_ref,priority:2"`
	AccountEmail          string
	AccountName           string
	AccountID             string `gorm:"index"`
	PlanID                string
	AmountCents           int64
	Currency              string
	Status                string `gorm:"index:idx_orders_status_created,priority:1"`
	Type                  string
	ProviderTransactionID string
	PaymentMode           string
	FailureReason         string
	CompletedAt           time.Time
	FailedAt              time.Time
	Version               int64
	CreatedAt             time.Time `gorm:"autoCreateTime:false;index:idx_orders_status_created,priority:2"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime:false"`
}

func (orderRow) TableName() string { return "tokenvault_orders" }

func toOrderRow(o *order.Order) *orderRow {
	return &orderRow{
		ID:                    o.ID.String(),
		Provider:              o.Provider,
		ProviderOrderID:       nullable(o.ProviderOrderID),
		AccountEmail:          account.NormalizeEmail(o.AccountEmail),
		AccountName:           o.AccountName,
		AccountID:             o.AccountID.String(),
		PlanID:                o.PlanID.String(),
		AmountCents:           o.Amount.Amount,
		Currency:              o.Amount.Currency,
		Status:                string(o.Status),
		Type:                  string(o.Type),
		ProviderTransactionID: o.ProviderTransactionID,
		PaymentMode:           o.PaymentMode,
		FailureReason:         o.FailureReason,
		CompletedAt:           o.CompletedAt,
		FailedAt:              o.FailedAt,
		Version:               o.Version,
		CreatedAt:             o.CreatedAt,
		UpdatedAt:             o.UpdatedAt,
	}
}

func fromOrderRow(r *orderRow) (*order.Order, error) {
	orderID, err := id.ParseOrderID(r.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := parseOptional(r.AccountID, id.ParseAccountID)
	if err != nil {
		return nil, err
	}
	planID, err := parseOptional(r.PlanID, id.ParsePlanID)
	if err != nil {
		return nil, err
	}
	return &order.Order{
		Entity:                types.Entity{CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC()},
		ID:                    orderID,
		ProviderOrderID:       deref(r.ProviderOrderID),
		Provider:              r.Provider,
		AccountEmail:          r.AccountEmail,
		AccountName:           r.AccountName,
		AccountID:             accountID,
		PlanID:                planID,
		Amount:                types.Money{Amount: r.AmountCents, Currency: r.Currency},
		Status:                order.Status(r.Status),
		Type:                  order.Type(r.Type),
		ProviderTransactionID: r.ProviderTransactionID,
		PaymentMode:           r.PaymentMode,
		FailureReason:         r.FailureReason,
		CompletedAt:           r.CompletedAt.UTC(),
		FailedAt:              r.FailedAt.UTC(),
		Version:               r.Version,
	}, nil
}

// ==================== Transaction rows ====================

type transactionRow struct {
	ID                    string `gorm:"primaryKey"`
	AccountID             string `gorm:"index"`
	PackageID             string
	Type                  string `gorm:"index:idx_txns_status_type,priority:2"`
	TokenAmount           int64
	AmountCents           int64
	Currency              string
	Status                string  `gorm:"index:idx_txns_status_type,priority:1"`
	Provider              string  `gorm:"uniqueIndex:idx_txns_provider_ref,priority:1"`
	ProviderOrderID       *string `gorm:"uniqueIndex:idx_txns_provider_ref,priority:2"`
	ProviderTransactionID string
	PaymentMode           string
	BalanceBefore         int64
	BalanceAfter          int64
	ExpiresAt             time.Time
	FailureReason         string
	CompletedAt           time.Time
	Version               int64
	CreatedAt             time.Time `gorm:"autoCreateTime:false;index"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime:false"`
}

func (transactionRow) TableName() string { return "tokenvault_transactions" }

func toTransactionRow(t *txn.Transaction) *transactionRow {
	return &transactionRow{
		ID:                    t.ID.String(),
		AccountID:             t.AccountID.String(),
		PackageID:             t.PackageID.String(),
		Type:                  string(t.Type),
		TokenAmount:           t.TokenAmount,
		AmountCents:           t.Amount.Amount,
		Currency:              t.Amount.Currency,
		Status:                string(t.Status),
		Provider:              t.Provider,
		ProviderOrderID:       nullable(t.ProviderOrderID),
		ProviderTransactionID: t.ProviderTransactionID,
		PaymentMode:           t.PaymentMode,
		BalanceBefore:         t.BalanceBefore,
		BalanceAfter:          t.BalanceAfter,
		ExpiresAt:             t.ExpiresAt,
		FailureReason:         t.FailureReason,
		CompletedAt:           t.CompletedAt,
		Version:               t.Version,
		CreatedAt:             t.CreatedAt,
		UpdatedAt:             t.UpdatedAt,
	}
}

func fromTransactionRow(r *transactionRow) (*txn.Transaction, error) {
	txnID, err := id.ParseTransactionID(r.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := id.ParseAccountID(r.AccountID)
	if err != nil {
		return nil, err
	}
	packageID, err := parseOptional(r.PackageID, id.ParsePackageID)
	if err != nil {
		return nil, err
	}
	return &txn.Transaction{
		Entity:                types.Entity{CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC()},
		ID:                    txnID,
		AccountID:             accountID,
		PackageID:             packageID,
		Type:                  txn.Type(r.Type),
		TokenAmount:           r.TokenAmount,
		Amount:                types.Money{Amount: r.AmountCents, Currency: r.Currency},
		Status:                txn.Status(r.Status),
		Provider:              r.Provider,
		ProviderOrderID:       deref(r.ProviderOrderID),
		ProviderTransactionID: r.ProviderTransactionID,
		PaymentMode:           r.PaymentMode,
		BalanceBefore:         r.BalanceBefore,
		BalanceAfter:          r.BalanceAfter,
		ExpiresAt:             r.ExpiresAt.UTC(),
		FailureReason:         r.FailureReason,
		CompletedAt:           r.CompletedAt.UTC(),
		Version:               r.Version,
	}, nil
}

// ==================== Helpers ====================

func parseOptional(s string, parse func(string) (id.ID, error)) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return parse(s)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
