package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentledger/internal/app/middleware"
	appoutbox "rentledger/internal/app/outbox"
	"rentledger/internal/app/uow"
	"rentledger/internal/domain/payout"
	"rentledger/internal/domain/shared/money"
	"rentledger/internal/domain/user"
)

func seededStore(balance int64) *Store {
	s := NewStore()
	s.PutUser(user.User{ID: "owner", PayoutAccountID: "acct_1", Balance: money.Must(balance, "EUR")})
	return s
}

func TestCommitAppliesStagedWrites(t *testing.T) {
	s := seededStore(500)
	ctx := context.Background()

	unit, err := s.Begin(ctx, uow.TxOptions{})
	require.NoError(t, err)
	u, err := unit.Users().ByID(ctx, "owner")
	require.NoError(t, err)
	u.Balance = money.Must(700, "EUR")
	require.NoError(t, unit.Users().Save(ctx, u))
	require.NoError(t, unit.Outbox().Add(ctx, appoutbox.EventRecord{ID: "e-1", Name: "user.balance_credited"}))

	committed, _ := s.User("owner")
	assert.Equal(t, int64(500), committed.Balance.Amount, "writes are invisible before commit")

	require.NoError(t, unit.Commit(ctx))
	committed, _ = s.User("owner")
	assert.Equal(t, int64(700), committed.Balance.Amount)
	assert.Equal(t, int64(2), committed.Version)
	require.Len(t, s.Events(), 1)
}

func TestCommitDetectsConflictingWrite(t *testing.T) {
	s := seededStore(500)
	ctx := context.Background()

	first, _ := s.Begin(ctx, uow.TxOptions{})
	second, _ := s.Begin(ctx, uow.TxOptions{})
	a, err := first.Users().ByID(ctx, "owner")
	require.NoError(t, err)
	b, err := second.Users().ByID(ctx, "owner")
	require.NoError(t, err)

	a.Balance = money.Must(100, "EUR")
	b.Balance = money.Must(200, "EUR")
	require.NoError(t, first.Users().Save(ctx, a))
	require.NoError(t, second.Users().Save(ctx, b))

	require.NoError(t, first.Commit(ctx))
	assert.ErrorIs(t, second.Commit(ctx), uow.ErrConflict)

	committed, _ := s.User("owner")
	assert.Equal(t, int64(100), committed.Balance.Amount)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	s := seededStore(500)
	ctx := context.Background()
	unit, _ := s.Begin(ctx, uow.TxOptions{})
	u, _ := unit.Users().ByID(ctx, "owner")
	u.Balance = money.Must(0, "EUR")
	require.NoError(t, unit.Users().Save(ctx, u))
	require.NoError(t, unit.Rollback(ctx))

	committed, _ := s.User("owner")
	assert.Equal(t, int64(500), committed.Balance.Amount)
}

func TestInboxRejectsKnownEvents(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	unit, _ := s.Begin(ctx, uow.TxOptions{})
	require.NoError(t, unit.Inbox().MarkProcessed(ctx, "evt_1", "payment_intent.succeeded"))
	assert.ErrorIs(t, unit.Inbox().MarkProcessed(ctx, "evt_1", "payment_intent.succeeded"), uow.ErrAlreadyProcessed)
	require.NoError(t, unit.Commit(ctx))

	next, _ := s.Begin(ctx, uow.TxOptions{})
	assert.ErrorIs(t, next.Inbox().MarkProcessed(ctx, "evt_1", "payment_intent.succeeded"), uow.ErrAlreadyProcessed)
}

func TestInsertOfExistingDocumentConflicts(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	w := func() *payout.Withdrawal {
		return &payout.Withdrawal{ID: "w-1", UserID: "owner", State: payout.StateReserved, UpdatedAt: time.Now()}
	}

	first, _ := s.Begin(ctx, uow.TxOptions{})
	second, _ := s.Begin(ctx, uow.TxOptions{})
	require.NoError(t, first.Withdrawals().Save(ctx, w()))
	require.NoError(t, second.Withdrawals().Save(ctx, w()))
	require.NoError(t, first.Commit(ctx))
	assert.ErrorIs(t, second.Commit(ctx), uow.ErrConflict)
}

func TestRunSerializesConcurrentIncrements(t *testing.T) {
	s := seededStore(0)
	ctx := context.Background()
	const workers = 20

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- uow.Run(ctx, s, uow.TxOptions{MaxAttempts: 100}, func(ctx context.Context, unit uow.UnitOfWork) error {
				u, err := unit.Users().ByID(ctx, "owner")
				if err != nil {
					return err
				}
				u.Balance, err = u.Balance.Add(money.Must(1, "EUR"))
				if err != nil {
					return err
				}
				return unit.Users().Save(ctx, u)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	committed, _ := s.User("owner")
	assert.Equal(t, int64(workers), committed.Balance.Amount)
}

func TestListReservedReturnsStaleReservationsOldestFirst(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	unit, _ := s.Begin(ctx, uow.TxOptions{})
	for i, state := range []payout.State{payout.StateReserved, payout.StateCompleted, payout.StateReserved} {
		w := &payout.Withdrawal{ID: payout.WithdrawalID([]string{"w-a", "w-b", "w-c"}[i]), State: state, UpdatedAt: base.Add(-time.Duration(i) * time.Hour)}
		require.NoError(t, unit.Withdrawals().Save(ctx, w))
	}
	require.NoError(t, unit.Commit(ctx))

	reader, _ := s.Begin(ctx, uow.TxOptions{ReadOnly: true})
	got, err := reader.Withdrawals().ListReserved(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, payout.WithdrawalID("w-c"), got[0].ID)
	assert.Equal(t, payout.WithdrawalID("w-a"), got[1].ID)
}

func TestClaimAndMarkSent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	unit, _ := s.Begin(ctx, uow.TxOptions{})
	require.NoError(t, unit.Outbox().Add(ctx, appoutbox.EventRecord{ID: "e-1", Name: "rental.paid"}))
	require.NoError(t, unit.Commit(ctx))

	claimed, err := s.Claim(ctx, "w")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "e-1", claimed.Record.ID)

	again, err := s.Claim(ctx, "w")
	require.NoError(t, err)
	assert.Nil(t, again, "claimed records are not handed out twice")

	require.NoError(t, s.MarkSent(ctx, "e-1"))
	again, _ = s.Claim(ctx, "w")
	assert.Nil(t, again)
}

func TestIdempotencyStoreExpiresRecords(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewIdempotencyStore(time.Hour)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Save(ctx, middleware.IdempotencyRecord{Key: "old", OccurredAt: now}))
	_, found, err := s.Get(ctx, "old")
	require.NoError(t, err)
	assert.True(t, found)

	now = now.Add(2 * time.Hour)
	_, found, err = s.Get(ctx, "old")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Save(ctx, middleware.IdempotencyRecord{Key: "new", OccurredAt: now}))
	assert.Len(t, s.items, 1)
}
