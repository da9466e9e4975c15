/*
money.go - Monetary values with an explicit "no funds" state

PURPOSE:
  Money wraps decimal.Decimal with a validity bit. An invalid Money is the
  "no funds" sentinel: the store has exhausted its balance. This is a
  distinct state from 0.00 (a store at exactly zero still has a number).

PARSING:
  ParseMoneyLoose accepts the forgiving pt-BR formats the import flow sees
  ("R$ 1.234,56", "1234.56", "SEM SALDO", blank). Strict API input goes
  through ValidateAmount instead, which enforces 2-decimal precision.
*/
package registry

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Money is a non-negative 2-decimal amount or the "no funds" sentinel.
type Money struct {
	Amount decimal.Decimal
	Valid  bool
}

// NoFunds returns the sentinel.
func NoFunds() Money { return Money{} }

// NewMoney returns a valid amount rounded to 2 decimals.
func NewMoney(d decimal.Decimal) Money {
	return Money{Amount: d.Round(2), Valid: true}
}

// NewMoneyFromFloat is a convenience for literals in tests and fixtures.
func NewMoneyFromFloat(f float64) Money {
	return NewMoney(decimal.NewFromFloat(f))
}

func (m Money) IsNoFunds() bool { return !m.Valid }

// Equal treats two sentinels as equal and compares amounts otherwise.
func (m Money) Equal(o Money) bool {
	if m.Valid != o.Valid {
		return false
	}
	if !m.Valid {
		return true
	}
	return m.Amount.Equal(o.Amount)
}

// Float64 returns the amount and whether it is numeric.
func (m Money) Float64() (float64, bool) {
	if !m.Valid {
		return 0, false
	}
	f, _ := m.Amount.Float64()
	return f, true
}

func (m Money) String() string {
	if !m.Valid {
		return "no funds"
	}
	return m.Amount.StringFixed(2)
}

// =============================================================================
// VALIDATION - strict API input
// =============================================================================

// ValidateAmount checks a client-submitted number: finite decimals only,
// non-negative, at most 2 fractional digits. Returns the canonical value.
func ValidateAmount(d decimal.Decimal) (decimal.Decimal, error) {
	if d.IsNegative() {
		return decimal.Decimal{}, &ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	if !d.Equal(d.Round(2)) {
		return decimal.Decimal{}, &ValidationError{Field: "amount", Reason: "at most 2 decimal places"}
	}
	return d.Round(2), nil
}

// =============================================================================
// LOOSE PARSING - import text and legacy payloads
// =============================================================================

// ParseKind discriminates ParseMoneyLoose results.
type ParseKind int

const (
	ParseNull ParseKind = iota // blank or an explicit "no funds" marker
	ParseNumber
	ParseInvalid
)

var (
	currencyPrefix = regexp.MustCompile(`(?i)R\$\s?`)
	looseNumber    = regexp.MustCompile(`^-?[0-9]*\.?[0-9]*$`)
)

// ParseMoneyLoose interprets human-entered money. Comma is the decimal
// separator when present ("1.234,56"); otherwise dot decimals are accepted.
// Negative values are invalid, not sentinel.
func ParseMoneyLoose(input string) (ParseKind, decimal.Decimal) {
	s := strings.TrimSpace(input)
	if s == "" {
		return ParseNull, decimal.Decimal{}
	}
	if strings.Contains(strings.ToUpper(s), "SEM SALDO") {
		return ParseNull, decimal.Decimal{}
	}

	s = currencyPrefix.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), "")

	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	if !looseNumber.MatchString(s) || s == "" || s == "." || s == "-" {
		return ParseInvalid, decimal.Decimal{}
	}

	v, err := decimal.NewFromString(s)
	if err != nil {
		return ParseInvalid, decimal.Decimal{}
	}
	if v.IsNegative() {
		return ParseInvalid, decimal.Decimal{}
	}
	return ParseNumber, v.Round(2)
}
