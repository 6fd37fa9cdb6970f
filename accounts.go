package tokenvault

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/store"
)

// NewAccount is the input to CreateAccount.
type NewAccount struct {
	Email    string
	Name     string
	Password string
	// ReferralCode links the new account to the referrer owning the code.
	ReferralCode string
}

// CreateAccount registers an account. With a referral code the referrer
// gains a pending referral entry in the same unit.
func (v *Vault) CreateAccount(ctx context.Context, in NewAccount) (a *account.Account, err error) {
	ctx, span := v.startSpan(ctx, "CreateAccount")
	defer func() { endSpan(span, err) }()

	email := account.NormalizeEmail(in.Email)
	if !strings.Contains(email, "@") {
		return nil, ValidationError{Field: "email", Message: "must be a valid address"}
	}

	now := v.clock()
	a = account.New(email, in.Name, now)
	if in.Password != "" {
		if err := a.SetPassword(in.Password); err != nil {
			return nil, err
		}
	}

	err = v.atomic(ctx, "create_account", func(ctx context.Context, tx store.Store) error {
		if in.ReferralCode != "" {
			referrer, err := tx.GetAccountByReferralCode(ctx, strings.ToUpper(strings.TrimSpace(in.ReferralCode)))
			if err != nil {
				if IsNotFound(err) {
					return ValidationError{Field: "referral_code", Message: "unknown code"}
				}
				return err
			}
			a.ReferredBy = referrer.ID
			if err := tx.CreateAccount(ctx, a); err != nil {
				return err
			}
			referrer.AddReferral(a.ID, now)
			return tx.UpdateAccount(ctx, referrer)
		}
		return tx.CreateAccount(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("account_id", a.ID.String()))
	v.logger.Info("account created",
		"account_id", a.ID.String(),
		"referred", !a.ReferredBy.IsNil(),
	)
	v.plugins.EmitAccountCreated(ctx, a)

	return a, nil
}

// GetAccount retrieves an account by ID.
func (v *Vault) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return v.store.GetAccount(ctx, accountID)
}

// GetAccountByEmail retrieves an account by its normalized email.
func (v *Vault) GetAccountByEmail(ctx context.Context, email string) (*account.Account, error) {
	return v.store.GetAccountByEmail(ctx, account.NormalizeEmail(email))
}

// Authenticate returns the account when email and password match.
func (v *Vault) Authenticate(ctx context.Context, email, password string) (*account.Account, error) {
	a, err := v.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !a.CheckPassword(password) {
		return nil, ErrInvalidCredentials
	}
	return a, nil
}

// SetPassword replaces the account password.
func (v *Vault) SetPassword(ctx context.Context, accountID id.AccountID, password string) error {
	if len(password) < 8 {
		return ValidationError{Field: "password", Message: "must be at least 8 characters"}
	}
	_, _, err := v.mutateAccount(ctx, "set_password", accountID, func(a *account.Account) (bool, error) {
		if err := a.SetPassword(password); err != nil {
			return false, err
		}
		a.TouchAt(v.clock())
		return true, nil
	})
	return err
}
