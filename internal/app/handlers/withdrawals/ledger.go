package withdrawals

import (
	"context"
	"time"

	"rentledger/internal/app/outbox"
	"rentledger/internal/app/uow"
	"rentledger/internal/domain/payout"
	"rentledger/internal/domain/shared/events"
	"rentledger/internal/domain/user"
)

// ledger holds the unit-of-work steps shared by the withdrawal handler and the reconciler.
type ledger struct {
	factory     uow.UoWFactory
	encoder     outbox.EventEncoder
	maxAttempts int
}

func (l ledger) run(ctx context.Context, work uow.Work) error {
	return uow.Run(ctx, l.factory, uow.TxOptions{MaxAttempts: l.maxAttempts}, work)
}

// complete records the transfer on a reservation. Reservations that are no longer RESERVED are
// left untouched and reported through the returned state.
func (l ledger) complete(ctx context.Context, id payout.WithdrawalID, transferID string, now time.Time) (payout.State, error) {
	var state payout.State
	err := l.run(ctx, func(ctx context.Context, unit uow.UnitOfWork) error {
		w, err := unit.Withdrawals().ByID(ctx, id)
		if err != nil {
			return err
		}
		state = w.State
		if !w.IsReserved() {
			return nil
		}
		if err := w.Complete(transferID, now); err != nil {
			return err
		}
		if err := unit.Withdrawals().Save(ctx, w); err != nil {
			return err
		}
		state = w.State
		return outbox.Record(ctx, unit.Outbox(), l.encoder, w.Drain())
	})
	return state, err
}

// release credits the reserved total back to the user and closes the reservation in one unit.
// A reservation that was already completed or compensated is not released again.
func (l ledger) release(ctx context.Context, id payout.WithdrawalID, reason string, now time.Time) (released bool, err error) {
	err = l.run(ctx, func(ctx context.Context, unit uow.UnitOfWork) error {
		released = false
		w, err := unit.Withdrawals().ByID(ctx, id)
		if err != nil {
			return err
		}
		if !w.IsReserved() {
			return nil
		}
		u, err := unit.Users().ByID(ctx, user.ID(w.UserID))
		if err != nil {
			return err
		}
		if err := u.ReleaseReservation(string(w.ID), w.Total, now); err != nil {
			return err
		}
		if err := w.Compensate(reason, now); err != nil {
			return err
		}
		if err := unit.Users().Save(ctx, u); err != nil {
			return err
		}
		if err := unit.Withdrawals().Save(ctx, w); err != nil {
			return err
		}
		released = true
		evs := append([]events.DomainEvent{}, u.Drain()...)
		return outbox.Record(ctx, unit.Outbox(), l.encoder, append(evs, w.Drain()...))
	})
	return released, err
}
