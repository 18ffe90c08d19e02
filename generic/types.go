/*
Package generic provides the domain-agnostic primitives of the billing engine.

PURPOSE:
  Calendar arithmetic, money and identifiers shared by the billing and
  indexation packages. Nothing in here knows what a contract or an index is.

KEY CONCEPTS:
  - Date:   a calendar day (UTC midnight), with month/year stepping
  - Period: an inclusive [Start, End] date range
  - Money:  a decimal pre-tax or tax-included amount
  - IDs:    type-safe identifiers for every persisted entity

DESIGN PRINCIPLES:
  1. Precision: Money uses decimal.Decimal, never float64
  2. Type Safety: distinct ID types prevent passing a SiteID as a ContractID
  3. Purity: every function here is side-effect free

SEE ALSO:
  - period.go: Period type
  - errors.go: Sentinel errors shared across packages
  - ../billing/store.go: Persistence interfaces
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount (EUR)
// =============================================================================

// CentsPlaces is the rounding precision of every billed amount.
const CentsPlaces = 2

type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value)}
}

func NewMoneyFromInt(value int64) Money {
	return Money{Value: decimal.NewFromInt(value)}
}

func MoneyOf(value decimal.Decimal) Money {
	return Money{Value: value}
}

// ParseMoney parses a decimal literal such as "1000.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Money{Value: d}, nil
}

// MustParseMoney is ParseMoney for literals known to be valid. It panics on
// malformed input.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func ZeroMoney() Money {
	return Money{Value: decimal.Zero}
}

func (m Money) Add(o Money) Money {
	return Money{Value: m.Value.Add(o.Value)}
}

func (m Money) Sub(o Money) Money {
	return Money{Value: m.Value.Sub(o.Value)}
}

func (m Money) Mul(s decimal.Decimal) Money {
	return Money{Value: m.Value.Mul(s)}
}

func (m Money) Div(s decimal.Decimal) Money {
	return Money{Value: m.Value.Div(s)}
}

func (m Money) Neg() Money {
	return Money{Value: m.Value.Neg()}
}

func (m Money) RoundCents() Money {
	return Money{Value: m.Value.Round(CentsPlaces)}
}

func (m Money) IsZero() bool {
	return m.Value.IsZero()
}

func (m Money) IsNegative() bool {
	return m.Value.IsNegative()
}

func (m Money) Equal(o Money) bool {
	return m.Value.Equal(o.Value)
}

func (m Money) GreaterThan(o Money) bool {
	return m.Value.GreaterThan(o.Value)
}

func (m Money) String() string {
	return m.Value.StringFixed(CentsPlaces)
}

func (m Money) Float64() float64 {
	f, _ := m.Value.Float64()
	return f
}

// Prorate returns m * num / den. Dividing last keeps 4000 * 1/12 exact
// until the final rounding.
func (m Money) Prorate(num, den decimal.Decimal) Money {
	if den.IsZero() {
		return ZeroMoney()
	}
	return Money{Value: m.Value.Mul(num).Div(den)}
}

// MarshalJSON renders money as a fixed two-decimal JSON number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Value.StringFixed(CentsPlaces)), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	return m.Value.UnmarshalJSON(b)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClientID string
type ContractID string
type SiteID string
type ActivityID string
type InvoiceID string
type IndexID string
