package user

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentledger/internal/domain/shared/money"
)

func eur(cents int64) money.Money { return money.Must(cents, "EUR") }

func TestApplySettlementCreditsNetOfFee(t *testing.T) {
	u := &User{ID: "owner", Balance: eur(500)}

	net, err := u.ApplySettlement("rental-1", eur(2000), eur(50), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1950), net.Amount)
	assert.Equal(t, int64(2450), u.Balance.Amount)

	evs := u.PendingEvents()
	require.Len(t, evs, 1)
	credited, ok := evs[0].(BalanceCredited)
	require.True(t, ok)
	assert.Equal(t, CreditSettlement, credited.Reason)
	assert.Equal(t, "rental-1", credited.Reference)
}

func TestReserveWithdrawalBoundaries(t *testing.T) {
	t.Run("exact balance minus fee empties the balance", func(t *testing.T) {
		u := &User{ID: "u", Balance: eur(1000)}
		total, err := u.ReserveWithdrawal("w-1", eur(950), eur(50), time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1000), total.Amount)
		assert.Equal(t, int64(0), u.Balance.Amount)
	})

	t.Run("one cent over leaves balance untouched", func(t *testing.T) {
		u := &User{ID: "u", Balance: eur(1000)}
		_, err := u.ReserveWithdrawal("w-1", eur(951), eur(50), time.Now())
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, int64(1000), u.Balance.Amount)
		assert.Empty(t, u.PendingEvents())
	})

	t.Run("non positive amount", func(t *testing.T) {
		u := &User{ID: "u", Balance: eur(1000)}
		_, err := u.ReserveWithdrawal("w-1", eur(0), eur(50), time.Now())
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestReleaseReservationRestoresBalance(t *testing.T) {
	u := &User{ID: "u", Balance: eur(2000)}
	total, err := u.ReserveWithdrawal("w-1", eur(1000), eur(50), time.Now())
	require.NoError(t, err)
	require.NoError(t, u.ReleaseReservation("w-1", total, time.Now()))
	assert.Equal(t, int64(2000), u.Balance.Amount)
}

func TestVerifyPayoutDestination(t *testing.T) {
	u := &User{ID: "u"}
	assert.ErrorIs(t, u.VerifyPayoutDestination("acct_1"), ErrPayoutAccountMissing)

	u.PayoutAccountID = "acct_1"
	assert.NoError(t, u.VerifyPayoutDestination("acct_1"))
	assert.ErrorIs(t, u.VerifyPayoutDestination("acct_evil"), ErrPayoutDestinationMismatch)
}

func TestLinkPayoutAccountOnce(t *testing.T) {
	u := &User{ID: "u"}

	linked, err := u.LinkPayoutAccount("acct_1", time.Now())
	require.NoError(t, err)
	assert.True(t, linked)

	linked, err = u.LinkPayoutAccount("acct_1", time.Now())
	require.NoError(t, err)
	assert.False(t, linked)

	_, err = u.LinkPayoutAccount("acct_2", time.Now())
	assert.ErrorIs(t, err, ErrPayoutAccountAlreadyLinked)
	assert.Equal(t, "acct_1", u.PayoutAccountID)
}

func TestSyncCapabilities(t *testing.T) {
	u := &User{ID: "u"}
	require.NoError(t, u.SyncCapabilities("acct_1", true, false, time.Now()))
	assert.Equal(t, "acct_1", u.PayoutAccountID)
	assert.True(t, u.PayoutsEnabled)
	assert.False(t, u.ChargesEnabled)

	require.NoError(t, u.SyncCapabilities("acct_1", false, true, time.Now()))
	assert.False(t, u.PayoutsEnabled)
	assert.True(t, u.ChargesEnabled)

	err := u.SyncCapabilities("acct_other", true, true, time.Now())
	assert.ErrorIs(t, err, ErrPayoutAccountAlreadyLinked)
	assert.False(t, u.PayoutsEnabled)
}
