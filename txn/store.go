package txn

import (
	"context"
	"time"

	"github.com/xraph/tokenvault/id"
)

type Store interface {
	Create(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, txnID id.TransactionID) (*Transaction, error)
	GetByProviderOrderID(ctx context.Context, provider, providerOrderID string) (*Transaction, error)
	// Update is a compare-and-swap on Version.
	Update(ctx context.Context, t *Transaction) error
	Delete(ctx context.Context, txnID id.TransactionID) error
	List(ctx context.Context, opts ListOpts) ([]*Transaction, error)
}

type ListOpts struct {
	AccountID     id.AccountID
	Type          Type
	Status        Status
	CreatedBefore time.Time
	Limit         int
	Offset        int
}

// Matches applies the filter in memory.
func (o ListOpts) Matches(t *Transaction) bool {
	if !o.AccountID.IsNil() && t.AccountID.String() != o.AccountID.String() {
		return false
	}
	if o.Type != "" && t.Type != o.Type {
		return false
	}
	if o.Status != "" && t.Status != o.Status {
		return false
	}
	if !o.CreatedBefore.IsZero() && !t.CreatedAt.Before(o.CreatedBefore) {
		return false
	}
	return true
}
