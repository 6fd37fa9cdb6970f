package tokenvault

import (
	"github.com/xraph/tokenvault/account"
	"github.com/xraph/tokenvault/types"
)

// Re-export common types so callers do not need the sub-packages for the
// simple cases.

// Money is re-exported from the types package.
type Money = types.Money

// Entity is re-exported from the types package.
type Entity = types.Entity

// Breakdown is re-exported from the account package.
type Breakdown = account.Breakdown

// Deduction is re-exported from the account package.
type Deduction = account.Deduction

// CarryOver is re-exported from the account package.
type CarryOver = account.CarryOver

// Carry-over policies.
const (
	CarryOverNone      = account.CarryOverNone
	CarryOverPurchased = account.CarryOverPurchased
	CarryOverAll       = account.CarryOverAll
)

// Re-export Money constructors.
var (
	INR  = types.INR
	USD  = types.USD
	Zero = types.Zero
)
