package policies

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"rentledger/internal/domain/shared/money"
)

var ErrInvalidFee = errors.New("policies: platform fee must be a non-negative amount with at most two decimals")

// FeeSchedule is the single platform fee shared by settlement and withdrawal. It is configured
// in major units and held in minor units.
type FeeSchedule struct {
	platformFee money.Money
}

// NewFeeSchedule converts a major-unit fee ("0.50") for the given currency.
func NewFeeSchedule(major decimal.Decimal, currency string) (FeeSchedule, error) {
	if major.IsNegative() {
		return FeeSchedule{}, ErrInvalidFee
	}
	fee, err := money.FromMajorExact(major, strings.ToUpper(currency))
	if err != nil {
		if errors.Is(err, money.ErrTooPrecise) {
			return FeeSchedule{}, ErrInvalidFee
		}
		return FeeSchedule{}, err
	}
	return FeeSchedule{platformFee: fee}, nil
}

// MustFeeSchedule is NewFeeSchedule for fixtures.
func MustFeeSchedule(minor int64, currency string) FeeSchedule {
	return FeeSchedule{platformFee: money.Must(minor, currency)}
}

func (f FeeSchedule) PlatformFee() money.Money {
	return f.platformFee
}

func (f FeeSchedule) Currency() string {
	return f.platformFee.Currency
}
