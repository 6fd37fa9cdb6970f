package account

import (
	"context"
	"time"

	"github.com/xraph/tokenvault/id"
)

// Store persists accounts. Update is a compare-and-swap on Version: it
// fails with a concurrent-update error when the stored version differs,
// and bumps Version on success.
type Store interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, accountID id.AccountID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByReferralCode(ctx context.Context, code string) (*Account, error)
	Update(ctx context.Context, a *Account) error
	List(ctx context.Context, opts ListOpts) ([]*Account, error)
}

// ListOpts filters account scans used by the batch jobs.
type ListOpts struct {
	// ActiveAt keeps accounts whose window is open at this instant.
	ActiveAt time.Time
	// LapsedAt keeps accounts whose end date is set and not after this instant.
	LapsedAt time.Time
	Limit    int
	Offset   int
}

// Matches applies the filter in memory. Backends that cannot push the
// filter down use it after loading.
func (o ListOpts) Matches(a *Account) bool {
	if !o.ActiveAt.IsZero() && !a.PlanActive(o.ActiveAt) {
		return false
	}
	if !o.LapsedAt.IsZero() {
		end := a.Subscription.EndDate
		if end.IsZero() || end.After(o.LapsedAt) {
			return false
		}
	}
	return true
}
