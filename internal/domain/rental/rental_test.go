package rental

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentledger/internal/domain/shared/money"
)

func TestMarkPaidIsMonotonic(t *testing.T) {
	r := &Rental{ID: "r-1", OwnerID: "owner-1", PaymentStatus: StatusUnpaid}
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))

	require.NoError(t, r.MarkPaid("pi_1", money.Must(2000, "EUR"), now))
	assert.True(t, r.IsPaid())
	assert.Equal(t, "pi_1", r.PaymentIntentID)
	assert.Equal(t, time.UTC, r.PaidAt.Location())

	pending := r.PendingEvents()
	require.Len(t, pending, 1)
	assert.Equal(t, "rental.paid", pending[0].EventName())
	assert.Equal(t, "r-1", pending[0].AggregateID())

	err := r.MarkPaid("pi_2", money.Must(2000, "EUR"), now)
	assert.ErrorIs(t, err, ErrAlreadyPaid)
	assert.Equal(t, "pi_1", r.PaymentIntentID)
	assert.Len(t, r.PendingEvents(), 1)
}

func TestMarkPaidRejectsNonPositiveAmount(t *testing.T) {
	r := &Rental{ID: "r-1", OwnerID: "owner-1"}
	assert.ErrorIs(t, r.MarkPaid("pi", money.Zero("EUR"), time.Now()), ErrInvalidPayment)
	assert.False(t, r.IsPaid())
}

func TestOwner(t *testing.T) {
	_, err := (&Rental{ID: "r"}).Owner()
	assert.ErrorIs(t, err, ErrOwnerRequired)

	owner, err := (&Rental{ID: "r", OwnerID: " o-1 "}).Owner()
	require.NoError(t, err)
	assert.Equal(t, "o-1", owner)
}

func TestParseStatus(t *testing.T) {
	for raw, want := range map[string]PaymentStatus{"": StatusUnpaid, "unpaid": StatusUnpaid, "PAID": StatusPaid} {
		got, err := ParseStatus(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseStatus("refunded")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
