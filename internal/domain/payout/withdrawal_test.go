package payout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentledger/internal/domain/shared/money"
)

func newReservation(t *testing.T) *Withdrawal {
	t.Helper()
	w, err := NewReservation(ReserveParams{
		ID:          "w-1",
		UserID:      "u-1",
		Amount:      money.Must(1000, "EUR"),
		Fee:         money.Must(50, "EUR"),
		Total:       money.Must(1050, "EUR"),
		Destination: "acct_1",
		Now:         time.Now(),
	})
	require.NoError(t, err)
	return w
}

func TestNewReservationValidates(t *testing.T) {
	_, err := NewReservation(ReserveParams{UserID: "u", Destination: "a", Amount: money.Must(1, "EUR"), Total: money.Must(1, "EUR")})
	assert.ErrorIs(t, err, ErrIDRequired)
	_, err = NewReservation(ReserveParams{ID: "w", UserID: "u", Amount: money.Must(1, "EUR"), Total: money.Must(1, "EUR")})
	assert.ErrorIs(t, err, ErrDestinationRequired)
	_, err = NewReservation(ReserveParams{ID: "w", UserID: "u", Destination: "a", Amount: money.Zero("EUR"), Total: money.Must(1, "EUR")})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	w := newReservation(t)
	assert.True(t, w.IsReserved())
	require.Len(t, w.PendingEvents(), 1)
	assert.Equal(t, "withdrawal.reserved", w.PendingEvents()[0].EventName())
}

func TestCompleteIsIdempotentForSameTransfer(t *testing.T) {
	w := newReservation(t)
	require.NoError(t, w.Complete("tr_1", time.Now()))
	require.NoError(t, w.Complete("tr_1", time.Now()))
	assert.ErrorIs(t, w.Complete("tr_2", time.Now()), ErrInvalidState)
	assert.Equal(t, StateCompleted, w.State)
	assert.ErrorIs(t, w.Compensate("late", time.Now()), ErrInvalidState)
}

func TestCompensateOnlyFromReserved(t *testing.T) {
	w := newReservation(t)
	require.NoError(t, w.Compensate("card declined", time.Now()))
	assert.Equal(t, StateCompensated, w.State)
	assert.Equal(t, "card declined", w.FailureReason)
	assert.ErrorIs(t, w.Compensate("again", time.Now()), ErrInvalidState)
	assert.ErrorIs(t, w.Complete("tr_1", time.Now()), ErrInvalidState)
}
