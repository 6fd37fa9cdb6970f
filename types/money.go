package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Money is an amount in the smallest currency unit. Both gateways settle in
// paise, so arithmetic stays integral end to end.
//
//   - INR(49900) = ₹499.00
//   - USD(4900)  = $49.00
type Money struct {
	Amount   int64  `json:"amount"`   // Smallest unit (paise, cents)
	Currency string `json:"currency"` // ISO 4217 lowercase
}

// DefaultCurrency is used when a plan or package is created without one.
const DefaultCurrency = "inr"

// INR creates a Money value in Indian Rupees (paise).
func INR(paise int64) Money { return Money{Amount: paise, Currency: "inr"} }

// USD creates a Money value in US Dollars (cents).
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// Zero returns a zero amount in currency.
func Zero(currency string) Money { return Money{Currency: strings.ToLower(currency)} }

// Add adds two amounts. Panics if currencies differ.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Subtract subtracts other. Panics if currencies differ.
func (m Money) Subtract(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// Multiply scales the amount by qty.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

func (m Money) IsZero() bool     { return m.Amount == 0 }
func (m Money) IsPositive() bool { return m.Amount > 0 }

// Equal reports whether amount and currency both match.
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// FormatMajor renders the amount in major units, e.g. "499.00".
func (m Money) FormatMajor() string {
	negative := m.Amount < 0
	abs := m.Amount
	if negative {
		abs = -abs
	}

	out := fmt.Sprintf("%d.%02d", abs/100, abs%100)
	if negative {
		return "-" + out
	}
	return out
}

// String renders the amount with its currency symbol, e.g. "₹499.00".
func (m Money) String() string {
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON adds a display string next to the raw fields.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Display:  m.String(),
	})
}

func (m Money) assertSameCurrency(other Money) {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

func currencySymbol(currency string) string {
	switch strings.ToLower(currency) {
	case "inr":
		return "₹"
	case "usd":
		return "$"
	case "eur":
		return "€"
	case "gbp":
		return "£"
	default:
		return strings.ToUpper(currency) + " "
	}
}
