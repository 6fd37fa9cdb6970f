package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/order"
	"github.com/xraph/tokenvault/plan"
	"github.com/xraph/tokenvault/txn"
	"github.com/xraph/tokenvault/types"
)

// ==================== Account models ====================

type accountModel struct {
	grove.BaseModel `grove:"table:tokenvault_accounts"`

	ID            string           `grove:"id,pk"          bson:"_id"`
	Email         string           `grove:"email"          bson:"email"`
	Name          string           `grove:"name"           bson:"name"`
	PasswordHash  string           `grove:"password_hash"  bson:"password_hash,omitempty"`
	ReferralCode  string           `grove:"referral_code"  bson:"referral_code"`
	ReferredBy    string           `grove:"referred_by"    bson:"referred_by,omitempty"`
	Subscription  subscriptionDoc  `grove:"subscription"   bson:"subscription"`
	Daily         dailyDoc         `grove:"daily"          bson:"daily"`
	Purchased     purchasedDoc     `grove:"purchased"      bson:"purchased"`
	Bonus         bonusDoc         `grove:"bonus"          bson:"bonus"`
	Prize         prizeDoc         `grove:"prize"          bson:"prize"`
	Usage         usageDoc         `grove:"usage"          bson:"usage"`
	Referrals     []referralDoc    `grove:"referrals"      bson:"referrals,omitempty"`
	ReferralStats referralStatsDoc `grove:"referral_stats" bson:"referral_stats"`
	Milestones    []milestoneDoc   `grove:"milestones"     bson:"milestones,omitempty"`
	TokensEarned  int64            `grove:"tokens_earned"  bson:"tokens_earned"`
	Version       int64            `grove:"version"        bson:"version"`
	CreatedAt     time.Time        `grove:"created_at"     bson:"created_at"`
	UpdatedAt     time.Time        `grove:"updated_at"     bson:"updated_at"`
}

type subscriptionDoc struct {
	PlanID          string    `bson:"plan_id,omitempty"`
	StartDate       time.Time `bson:"start_date"`
	EndDate         time.Time `bson:"end_date"`
	DailyTokenQuota int64     `bson:"daily_token_quota"`
	IsActive        bool      `bson:"is_active"`
}

type dailyDoc struct {
	Current         int64     `bson:"current"`
	Limit           int64     `bson:"limit"`
	UsedToday       int64     `bson:"used_today"`
	LastRefreshedAt time.Time `bson:"last_refreshed_at"`
}

type purchasedDoc struct {
	Current         int64     `bson:"current"`
	Total           int64     `bson:"total"`
	Used            int64     `bson:"used"`
	LastPurchasedAt time.Time `bson:"last_purchased_at"`
	ExpiresAt       time.Time `bson:"expires_at"`
}

type bonusDoc struct {
	Current   int64     `bson:"current"`
	Initial   int64     `bson:"initial"`
	Used      int64     `bson:"used"`
	GrantedAt time.Time `bson:"granted_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

type prizeDoc struct {
	Current   int64           `bson:"current"`
	Used      int64           `bson:"used"`
	GrantedAt time.Time       `bson:"granted_at"`
	ExpiresAt time.Time       `bson:"expires_at"`
	GrantedBy string          `bson:"granted_by,omitempty"`
	PrizeType string          `bson:"prize_type,omitempty"`
	History   []prizeGrantDoc `bson:"history,omitempty"`
}

type prizeGrantDoc struct {
	Amount    int64     `bson:"amount"`
	PrizeType string    `bson:"prize_type"`
	GrantedBy string    `bson:"granted_by"`
	GrantedAt time.Time `bson:"granted_at"`
}

type usageDoc struct {
	TotalUsed  int64     `bson:"total_used"`
	LastUsedAt time.Time `bson:"last_used_at"`
}

type referralDoc struct {
	AccountID string    `bson:"account_id"`
	JoinedAt  time.Time `bson:"joined_at"`
	IsActive  bool      `bson:"is_active"`
	Status    string    `bson:"status"`
}

type referralStatsDoc struct {
	TotalReferrals     int    `bson:"total_referrals"`
	ActiveReferrals    int    `bson:"active_referrals"`
	CommissionCents    int64  `bson:"commission_cents"`
	CommissionCurrency string `bson:"commission_currency"`
}

type milestoneDoc struct {
	Target          int       `bson:"target"`
	CyclesCompleted int       `bson:"cycles_completed"`
	LastResetAt     time.Time `bson:"last_reset_at"`
}

func toAccountModel(a *account.Account) *accountModel {
	history := make([]prizeGrantDoc, len(a.Prize.History))
	for i, g := range a.Prize.History {
		history[i] = prizeGrantDoc(g)
	}
	referrals := make([]referralDoc, len(a.Referrals))
	for i, r := range a.Referrals {
		referrals[i] = referralDoc{
			AccountID: r.AccountID.String(),
			JoinedAt:  r.JoinedAt,
			IsActive:  r.IsActive,
			Status:    string(r.Status),
		}
	}
	milestones := make([]milestoneDoc, len(a.Milestones.Counters))
	for i, c := range a.Milestones.Counters {
		milestones[i] = milestoneDoc(c)
	}

	return &accountModel{
		ID:           a.ID.String(),
		Email:        account.NormalizeEmail(a.Email),
		Name:         a.Name,
		PasswordHash: a.PasswordHash,
		ReferralCode: a.ReferralCode,
		ReferredBy:   a.ReferredBy.String(),
		Subscription: subscriptionDoc{
			PlanID:          a.Subscription.PlanID.String(),
			StartDate:       a.Subscription.StartDate,
			EndDate:         a.Subscription.EndDate,
			DailyTokenQuota: a.Subscription.DailyTokenQuota,
			IsActive:        a.Subscription.IsActive,
		},
		Daily:     dailyDoc(a.Daily),
		Purchased: purchasedDoc(a.Purchased),
		Bonus:     bonusDoc(a.Bonus),
		Prize: prizeDoc{
			Current:   a.Prize.Current,
			Used:      a.Prize.Used,
			GrantedAt: a.Prize.GrantedAt,
			ExpiresAt: a.Prize.ExpiresAt,
			GrantedBy: a.Prize.GrantedBy,
			PrizeType: a.Prize.PrizeType,
			History:   history,
		},
		Usage:     usageDoc(a.Usage),
		Referrals: referrals,
		ReferralStats: referralStatsDoc{
			TotalReferrals:     a.ReferralStats.TotalReferrals,
			ActiveReferrals:    a.ReferralStats.ActiveReferrals,
			CommissionCents:    a.ReferralStats.CommissionEarned.Amount,
			CommissionCurrency: a.ReferralStats.CommissionEarned.Currency,
		},
		Milestones:   milestones,
		TokensEarned: a.Milestones.TotalTokensEarned,
		Version:      a.Version,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func fromAccountModel(m *accountModel) (*account.Account, error) {
	accountID, err := id.ParseAccountID(m.ID)
	if err != nil {
		return nil, err
	}
	referredBy, err := parseOptional(m.ReferredBy, id.ParseAccountID)
	if err != nil {
		return nil, fmt.Errorf("referred_by: %w", err)
	}
	planID, err := parseOptional(m.Subscription.PlanID, id.ParsePlanID)
	if err != nil {
		return nil, fmt.Errorf("subscription plan: %w", err)
	}

	var history []account.PrizeGrant
	for _, g := range m.Prize.History {
		history = append(history, account.PrizeGrant(g))
	}
	var referrals []account.ReferralEntry
	for _, r := range m.Referrals {
		referredID, parseErr := id.ParseAccountID(r.AccountID)
		if parseErr != nil {
			return nil, fmt.Errorf("referral entry %q: %w", r.AccountID, parseErr)
		}
		referrals = append(referrals, account.ReferralEntry{
			AccountID: referredID,
			JoinedAt:  r.JoinedAt,
			IsActive:  r.IsActive,
			Status:    account.ReferralStatus(r.Status),
		})
	}
	var counters []account.MilestoneCounter
	for _, c := range m.Milestones {
		counters = append(counters, account.MilestoneCounter(c))
	}

	return &account.Account{
		Entity:       types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:           accountID,
		Email:        m.Email,
		Name:         m.Name,
		PasswordHash: m.PasswordHash,
		ReferralCode: m.ReferralCode,
		ReferredBy:   referredBy,
		Subscription: account.Subscription{
			PlanID:          planID,
			StartDate:       m.Subscription.StartDate,
			EndDate:         m.Subscription.EndDate,
			DailyTokenQuota: m.Subscription.DailyTokenQuota,
			IsActive:        m.Subscription.IsActive,
		},
		Daily:     account.Daily(m.Daily),
		Purchased: account.Purchased(m.Purchased),
		Bonus:     account.Bonus(m.Bonus),
		Prize: account.Prize{
			Current:   m.Prize.Current,
			Used:      m.Prize.Used,
			GrantedAt: m.Prize.GrantedAt,
			ExpiresAt: m.Prize.ExpiresAt,
			GrantedBy: m.Prize.GrantedBy,
			PrizeType: m.Prize.PrizeType,
			History:   history,
		},
		Usage:     account.Usage(m.Usage),
		Referrals: referrals,
		ReferralStats: account.ReferralStats{
			TotalReferrals:   m.ReferralStats.TotalReferrals,
			ActiveReferrals:  m.ReferralStats.ActiveReferrals,
			CommissionEarned: types.Money{Amount: m.ReferralStats.CommissionCents, Currency: m.ReferralStats.CommissionCurrency},
		},
		Milestones: account.Milestones{
			Counters:          counters,
			TotalTokensEarned: m.TokensEarned,
		},
		Version: m.Version,
	}, nil
}

// ==================== Plan models ====================

type planModel struct {
	grove.BaseModel `grove:"table:tokenvault_plans"`

	ID                 string    `grove:"id,pk"               bson:"_id"`
	Name               string    `grove:"name"                bson:"name"`
	Slug               string    `grove:"slug"                bson:"slug"`
	Description        string    `grove:"description"         bson:"description"`
	PriceCents         int64     `grove:"price_cents"         bson:"price_cents"`
	Currency           string    `grove:"currency"            bson:"currency"`
	DurationDays       int       `grove:"duration_days"       bson:"duration_days"`
	DailyTokenQuota    int64     `grove:"daily_token_quota"   bson:"daily_token_quota"`
	BonusTokenAmount   int64     `grove:"bonus_token_amount"  bson:"bonus_token_amount"`
	CommissionCents    int64     `grove:"commission_cents"    bson:"commission_cents"`
	CommissionCurrency string    `grove:"commission_currency" bson:"commission_currency"`
	Status             string    `grove:"status"              bson:"status"`
	CreatedAt          time.Time `grove:"created_at"          bson:"created_at"`
	UpdatedAt          time.Time `grove:"updated_at"          bson:"updated_at"`
}

func toPlanModel(p *plan.Plan) *planModel {
	return &planModel{
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

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}
	return &plan.Plan{
		Entity:             types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                 planID,
		Name:               m.Name,
		Slug:               m.Slug,
		Description:        m.Description,
		Price:              types.Money{Amount: m.PriceCents, Currency: m.Currency},
		DurationDays:       m.DurationDays,
		DailyTokenQuota:    m.DailyTokenQuota,
		BonusTokenAmount:   m.BonusTokenAmount,
		ReferralCommission: types.Money{Amount: m.CommissionCents, Currency: m.CommissionCurrency},
		Status:             plan.Status(m.Status),
	}, nil
}

type packageModel struct {
	grove.BaseModel `grove:"table:tokenvault_packages"`

	ID         string    `grove:"id,pk"       bson:"_id"`
	Name       string    `grove:"name"        bson:"name"`
	Tokens     int64     `grove:"tokens"      bson:"tokens"`
	PriceCents int64     `grove:"price_cents" bson:"price_cents"`
	Currency   string    `grove:"currency"    bson:"currency"`
	Status     string    `grove:"status"      bson:"status"`
	CreatedAt  time.Time `grove:"created_at"  bson:"created_at"`
	UpdatedAt  time.Time `grove:"updated_at"  bson:"updated_at"`
}

func toPackageModel(p *plan.Package) *packageModel {
	return &packageModel{
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

func fromPackageModel(m *packageModel) (*plan.Package, error) {
	pkgID, err := id.ParsePackageID(m.ID)
	if err != nil {
		return nil, err
	}
	return &plan.Package{
		Entity: types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:     pkgID,
		Name:   m.Name,
		Tokens: m.Tokens,
		Price:  types.Money{Amount: m.PriceCents, Currency: m.Currency},
		Status: plan.Status(m.Status),
	}, nil
}

// ==================== Order models ====================

// ProviderOrderID is omitted while empty so the partial unique index on
// (provider, provider_order_id) ignores orders not yet sent to a gateway.
type orderModel struct {
	grove.BaseModel `grove:"table:tokenvault_orders"`

	ID                    string    `grove:"id,pk"                   bson:"_id"`
	ProviderOrderID       string    `grove:"provider_order_id"       bson:"provider_order_id,omitempty"`
	Provider              string    `grove:"provider"                bson:"provider"`
	AccountEmail          string    `grove:"account_email"           bson:"account_email"`
	AccountName           string    `grove:"account_name"            bson:"account_name,omitempty"`
	AccountID             string    `grove:"account_id"              bson:"account_id,omitempty"`
	PlanID                string    `grove:"plan_id"                 bson:"plan_id"`
	AmountCents           int64     `grove:"amount_cents"            bson:"amount_cents"`
	Currency              string    `grove:"currency"                bson:"currency"`
	Status                string    `grove:"status"                  bson:"status"`
	Type                  string    `grove:"type"                    bson:"type"`
	ProviderTransactionID string    `grove:"provider_transaction_id" bson:"provider_transaction_id,omitempty"`
	PaymentMode           string    `grove:"payment_mode"            bson:"payment_mode,omitempty"`
	FailureReason         string    `grove:"failure_reason"          bson:"failure_reason,omitempty"`
	CompletedAt           time.Time `grove:"completed_at"            bson:"completed_at,omitempty"`
	FailedAt              time.Time `grove:"failed_at"               bson:"failed_at,omitempty"`
	Version               int64     `grove:"version"                 bson:"version"`
	CreatedAt             time.Time `grove:"created_at"              bson:"created_at"`
	UpdatedAt             time.Time `grove:"updated_at"              bson:"updated_at"`
}

func toOrderModel(o *order.Order) *orderModel {
	return &orderModel{
		ID:                    o.ID.String(),
		ProviderOrderID:       o.ProviderOrderID,
		Provider:              o.Provider,
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

func fromOrderModel(m *orderModel) (*order.Order, error) {
	orderID, err := id.ParseOrderID(m.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := parseOptional(m.AccountID, id.ParseAccountID)
	if err != nil {
		return nil, err
	}
	planID, err := parseOptional(m.PlanID, id.ParsePlanID)
	if err != nil {
		return nil, err
	}
	return &order.Order{
		Entity:                types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                    orderID,
		ProviderOrderID:       m.ProviderOrderID,
		Provider:              m.Provider,
		AccountEmail:          m.AccountEmail,
		AccountName:           m.AccountName,
		AccountID:             accountID,
		PlanID:                planID,
		Amount:                types.Money{Amount: m.AmountCents, Currency: m.Currency},
		Status:                order.Status(m.Status),
		Type:                  order.Type(m.Type),
		ProviderTransactionID: m.ProviderTransactionID,
		PaymentMode:           m.PaymentMode,
		FailureReason:         m.FailureReason,
		CompletedAt:           m.CompletedAt,
		FailedAt:              m.FailedAt,
		Version:               m.Version,
	}, nil
}

// ==================== Transaction models ====================

type transactionModel struct {
	grove.BaseModel `grove:"table:tokenvault_transactions"`

	ID                    string    `grove:"id,pk"                   bson:"_id"`
	AccountID             string    `grove:"account_id"              bson:"account_id"`
	PackageID             string    `grove:"package_id"              bson:"package_id,omitempty"`
	Type                  string    `grove:"type"                    bson:"type"`
	TokenAmount           int64     `grove:"token_amount"            bson:"token_amount"`
	AmountCents           int64     `grove:"amount_cents"            bson:"amount_cents"`
	Currency              string    `grove:"currency"                bson:"currency"`
	Status                string    `grove:"status"                  bson:"status"`
	Provider              string    `grove:"provider"                bson:"provider,omitempty"`
	ProviderOrderID       string    `grove:"provider_order_id"       bson:"provider_order_id,omitempty"`
	ProviderTransactionID string    `grove:"provider_transaction_id" bson:"provider_transaction_id,omitempty"`
	PaymentMode           string    `grove:"payment_mode"            bson:"payment_mode,omitempty"`
	BalanceBefore         int64     `grove:"balance_before"          bson:"balance_before"`
	BalanceAfter          int64     `grove:"balance_after"           bson:"balance_after"`
	ExpiresAt             time.Time `grove:"expires_at"              bson:"expires_at,omitempty"`
	FailureReason         string    `grove:"failure_reason"          bson:"failure_reason,omitempty"`
	CompletedAt           time.Time `grove:"completed_at"            bson:"completed_at,omitempty"`
	Version               int64     `grove:"version"                 bson:"version"`
	CreatedAt             time.Time `grove:"created_at"              bson:"created_at"`
	UpdatedAt             time.Time `grove:"updated_at"              bson:"updated_at"`
}

func toTransactionModel(t *txn.Transaction) *transactionModel {
	return &transactionModel{
		ID:                    t.ID.String(),
		AccountID:             t.AccountID.String(),
		PackageID:             t.PackageID.String(),
		Type:                  string(t.Type),
		TokenAmount:           t.TokenAmount,
		AmountCents:           t.Amount.Amount,
		Currency:              t.Amount.Currency,
		Status:                string(t.Status),
		Provider:              t.Provider,
		ProviderOrderID:       t.ProviderOrderID,
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

func fromTransactionModel(m *transactionModel) (*txn.Transaction, error) {
	txnID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	packageID, err := parseOptional(m.PackageID, id.ParsePackageID)
	if err != nil {
		return nil, err
	}
	return &txn.Transaction{
		Entity:                types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                    txnID,
		AccountID:             accountID,
		PackageID:             packageID,
		Type:                  txn.Type(m.Type),
		TokenAmount:           m.TokenAmount,
		Amount:                types.Money{Amount: m.AmountCents, Currency: m.Currency},
		Status:                txn.Status(m.Status),
		Provider:              m.Provider,
		ProviderOrderID:       m.ProviderOrderID,
		ProviderTransactionID: m.ProviderTransactionID,
		PaymentMode:           m.PaymentMode,
		BalanceBefore:         m.BalanceBefore,
		BalanceAfter:          m.BalanceAfter,
		ExpiresAt:             m.ExpiresAt,
		FailureReason:         m.FailureReason,
		CompletedAt:           m.CompletedAt,
		Version:               m.Version,
	}, nil
}

// parseOptional parses s with parse, mapping the empty string to id.Nil.
func parseOptional(s string, parse func(string) (id.ID, error)) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return parse(s)
}
