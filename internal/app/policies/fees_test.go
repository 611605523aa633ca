package policies

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFeeScheduleConvertsMajorUnits(t *testing.T) {
	fees, err := NewFeeSchedule(decimal.RequireFromString("0.50"), "eur")
	require.NoError(t, err)
	assert.Equal(t, int64(50), fees.PlatformFee().Amount)
	assert.Equal(t, "EUR", fees.Currency())
}

func TestNewFeeScheduleRejectsInvalidFees(t *testing.T) {
	_, err := NewFeeSchedule(decimal.RequireFromString("-1"), "EUR")
	assert.ErrorIs(t, err, ErrInvalidFee)

	_, err = NewFeeSchedule(decimal.RequireFromString("0.505"), "EUR")
	assert.ErrorIs(t, err, ErrInvalidFee)
}
