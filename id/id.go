// Package id defines TypeID-based identity types for tokenvault records.
//
// Accounts, plans, token packages, orders and token transactions share a
// single ID struct. The prefix names the record kind, so an order reference
// arriving from a payment gateway can be routed without a lookup.
package id

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the record kind encoded in a TypeID.
type Prefix string

const (
	PrefixAccount     Prefix = "acct" // Tenant account holding token buckets
	PrefixPlan        Prefix = "plan" // Subscription plan
	PrefixPackage     Prefix = "pkg"  // Purchasable token package
	PrefixOrder       Prefix = "ord"  // Subscription payment order
	PrefixTransaction Prefix = "ttx"  // Token transaction (purchase, bonus, refund, expiry)
)

// ID wraps a TypeID in the format "prefix_suffix". The zero value is Nil.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates an ID with the given prefix. It panics on an invalid prefix.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string such as "acct_01h2xcejqtf2nbrexx3vqjhp41".
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and rejects it unless its prefix is expected.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// PrefixOf returns the prefix portion of a raw reference without fully
// parsing it. References that carry no underscore yield "".
func PrefixOf(ref string) Prefix {
	i := strings.LastIndexByte(ref, '_')
	if i <= 0 {
		return ""
	}

	return Prefix(ref[:i])
}

// ──────────────────────────────────────────────────
// Typed aliases
// ──────────────────────────────────────────────────

// AccountID identifies an account (prefix: "acct").
type AccountID = ID

// PlanID identifies a subscription plan (prefix: "plan").
type PlanID = ID

// PackageID identifies a token package (prefix: "pkg").
type PackageID = ID

// OrderID identifies a subscription order (prefix: "ord").
type OrderID = ID

// TransactionID identifies a token transaction (prefix: "ttx").
type TransactionID = ID

// ──────────────────────────────────────────────────
// Constructors and parsers
// ──────────────────────────────────────────────────

func NewAccountID() ID     { return New(PrefixAccount) }
func NewPlanID() ID        { return New(PrefixPlan) }
func NewPackageID() ID     { return New(PrefixPackage) }
func NewOrderID() ID       { return New(PrefixOrder) }
func NewTransactionID() ID { return New(PrefixTransaction) }

func ParseAccountID(s string) (ID, error)     { return ParseWithPrefix(s, PrefixAccount) }
func ParsePlanID(s string) (ID, error)        { return ParseWithPrefix(s, PrefixPlan) }
func ParsePackageID(s string) (ID, error)     { return ParseWithPrefix(s, PrefixPackage) }
func ParseOrderID(s string) (ID, error)       { return ParseWithPrefix(s, PrefixOrder) }
func ParseTransactionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixTransaction) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional foreign key columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
