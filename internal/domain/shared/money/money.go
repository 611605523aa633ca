package money

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidCurrency  = errors.New("money: invalid currency code")
	ErrCurrencyMismatch = errors.New("money: currency mismatch")
	ErrTooPrecise       = errors.New("money: amount has more fraction digits than the currency allows")
	ErrOutOfRange       = errors.New("money: amount out of range")
)

// MinorUnitDigits is the number of fraction digits of every supported currency.
const MinorUnitDigits = 2

// Money keeps amounts in integer minor units (cents) to avoid floating point issues.
type Money struct {
	Amount   int64
	Currency string
}

// New constructs a Money value validating minimal invariants.
func New(amount int64, currency string) (Money, error) {
	if len(currency) != 3 {
		return Money{}, ErrInvalidCurrency
	}
	currency = strings.ToUpper(currency)
	return Money{Amount: amount, Currency: currency}, nil
}

// Must creates Money and panics if validation fails; useful in tests and fixtures.
func Must(amount int64, currency string) Money {
	m, err := New(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// FromMajor converts a major-unit amount (12.345 EUR) into minor units, rounding half away from
// zero to the nearest minor unit.
func FromMajor(major decimal.Decimal, currency string) (Money, error) {
	return fromMinor(major.Shift(MinorUnitDigits).Round(0), currency)
}

// FromMajorExact is FromMajor without rounding: amounts with sub-minor precision are rejected.
func FromMajorExact(major decimal.Decimal, currency string) (Money, error) {
	shifted := major.Shift(MinorUnitDigits)
	if !shifted.Equal(shifted.Truncate(0)) {
		return Money{}, ErrTooPrecise
	}
	return fromMinor(shifted, currency)
}

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// fromMinor converts an integral minor-unit decimal, rejecting values int64 cannot hold.
func fromMinor(minor decimal.Decimal, currency string) (Money, error) {
	if minor.Abs().GreaterThan(maxMinor) {
		return Money{}, ErrOutOfRange
	}
	return New(minor.IntPart(), currency)
}

// Major returns the amount expressed in major units.
func (m Money) Major() decimal.Decimal {
	return decimal.New(m.Amount, -MinorUnitDigits)
}

// String renders the major amount with a fixed number of fraction digits ("24.50 EUR").
func (m Money) String() string {
	return m.Major().StringFixed(MinorUnitDigits) + " " + m.Currency
}

// Add adds two money values ensuring currencies match.
func (m Money) Add(other Money) (Money, error) {
	if err := m.ensureSameCurrency(other); err != nil {
		return Money{}, err
	}
	sum := m.Amount + other.Amount
	if (other.Amount > 0 && sum < m.Amount) || (other.Amount < 0 && sum > m.Amount) {
		return Money{}, ErrOutOfRange
	}
	return Money{Amount: sum, Currency: m.Currency}, nil
}

// Sub subtracts other from the receiver.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.ensureSameCurrency(other); err != nil {
		return Money{}, err
	}
	diff := m.Amount - other.Amount
	if (other.Amount > 0 && diff > m.Amount) || (other.Amount < 0 && diff < m.Amount) {
		return Money{}, ErrOutOfRange
	}
	return Money{Amount: diff, Currency: m.Currency}, nil
}

// Neg returns the negated amount preserving currency.
func (m Money) Neg() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// LessThan reports whether the receiver is strictly smaller than other.
func (m Money) LessThan(other Money) (bool, error) {
	if err := m.ensureSameCurrency(other); err != nil {
		return false, err
	}
	return m.Amount < other.Amount, nil
}

// IsZero returns true if the amount equals zero.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// IsPositive returns true if the amount is strictly greater than zero.
func (m Money) IsPositive() bool {
	return m.Amount > 0
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Money {
	return Money{Currency: strings.ToUpper(currency)}
}

func (m Money) ensureSameCurrency(other Money) error {
	if m.Currency == "" || other.Currency == "" {
		return ErrInvalidCurrency
	}
	if m.Currency != other.Currency {
		return ErrCurrencyMismatch
	}
	return nil
}
