package uow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentledger/internal/app/outbox"
	"rentledger/internal/app/uow"
	"rentledger/internal/domain/payout"
	"rentledger/internal/domain/rental"
	"rentledger/internal/domain/user"
)

type fakeUnit struct {
	CommitFunc func() error
	commits    int
	rollbacks  int
}

func (u *fakeUnit) Rentals() rental.Repository     { return nil }
func (u *fakeUnit) Users() user.Repository         { return nil }
func (u *fakeUnit) Withdrawals() payout.Repository { return nil }
func (u *fakeUnit) Inbox() uow.Inbox               { return nil }
func (u *fakeUnit) Outbox() outbox.Outbox          { return nil }

func (u *fakeUnit) Commit(context.Context) error {
	u.commits++
	if u.CommitFunc != nil {
		return u.CommitFunc()
	}
	return nil
}

func (u *fakeUnit) Rollback(context.Context) error {
	u.rollbacks++
	return nil
}

type fakeFactory struct {
	units []*fakeUnit
	next  func() *fakeUnit
}

func (f *fakeFactory) Begin(context.Context, uow.TxOptions) (uow.UnitOfWork, error) {
	u := &fakeUnit{}
	if f.next != nil {
		u = f.next()
	}
	f.units = append(f.units, u)
	return u, nil
}

func TestRunCommitsAndBindsUnit(t *testing.T) {
	f := &fakeFactory{}
	err := uow.Run(context.Background(), f, uow.TxOptions{}, func(ctx context.Context, unit uow.UnitOfWork) error {
		bound, ok := uow.FromContext(ctx)
		require.True(t, ok)
		assert.Same(t, unit, bound)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, f.units, 1)
	assert.Equal(t, 1, f.units[0].commits)
	assert.Zero(t, f.units[0].rollbacks)
}

func TestRunRetriesConflicts(t *testing.T) {
	conflicts := 2
	f := &fakeFactory{next: func() *fakeUnit {
		return &fakeUnit{CommitFunc: func() error {
			if conflicts > 0 {
				conflicts--
				return uow.ErrConflict
			}
			return nil
		}}
	}}
	runs := 0
	err := uow.Run(context.Background(), f, uow.TxOptions{}, func(context.Context, uow.UnitOfWork) error {
		runs++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, runs)
	assert.Equal(t, 1, f.units[0].rollbacks, "a failed commit is rolled back")
}

func TestRunGivesUpAfterMaxAttempts(t *testing.T) {
	f := &fakeFactory{}
	runs := 0
	err := uow.Run(context.Background(), f, uow.TxOptions{MaxAttempts: 3}, func(context.Context, uow.UnitOfWork) error {
		runs++
		return uow.ErrConflict
	})
	assert.ErrorIs(t, err, uow.ErrConflict)
	assert.Equal(t, 3, runs)
}

func TestRunDoesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	f := &fakeFactory{}
	err := uow.Run(context.Background(), f, uow.TxOptions{}, func(context.Context, uow.UnitOfWork) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	require.Len(t, f.units, 1)
	assert.Zero(t, f.units[0].commits)
	assert.Equal(t, 1, f.units[0].rollbacks)
}

func TestRunReadOnlySkipsCommit(t *testing.T) {
	f := &fakeFactory{}
	require.NoError(t, uow.Run(context.Background(), f, uow.TxOptions{ReadOnly: true}, func(context.Context, uow.UnitOfWork) error {
		return nil
	}))
	assert.Zero(t, f.units[0].commits)
	assert.Equal(t, 1, f.units[0].rollbacks)
}
