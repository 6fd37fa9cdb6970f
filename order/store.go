package order

import (
	"context"
	"time"

	"github.com/xraph/tokenvault/id"
)

type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, orderID id.OrderID) (*Order, error)
	GetByProviderOrderID(ctx context.Context, provider, providerOrderID string) (*Order, error)
	// Update is a compare-and-swap on Version.
	Update(ctx context.Context, o *Order) error
	Delete(ctx context.Context, orderID id.OrderID) error
	List(ctx context.Context, opts ListOpts) ([]*Order, error)
}

type ListOpts struct {
	Status        Status
	AccountID     id.AccountID
	CreatedBefore time.Time
	Limit         int
	Offset        int
}

// Matches applies the filter in memory.
func (o ListOpts) Matches(ord *Order) bool {
	if o.Status != "" && ord.Status != o.Status {
		return false
	}
	if !o.AccountID.IsNil() && ord.AccountID.String() != o.AccountID.String() {
		return false
	}
	if !o.CreatedBefore.IsZero() && !ord.CreatedAt.Before(o.CreatedBefore) {
		return false
	}
	return true
}
