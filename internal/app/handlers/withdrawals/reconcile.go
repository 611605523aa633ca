package withdrawals

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"rentledger/internal/app/handlers/support"
	"rentledger/internal/app/outbox"
	"rentledger/internal/app/policies"
	"rentledger/internal/app/uow"
	"rentledger/internal/domain/payout"
)

const (
	reconcileJobName      = "withdrawals.reconcile"
	defaultReconcileAfter = 5 * time.Minute
	defaultReconcileBatch = 50
)

// Reconciler settles reservations whose outcome was never recorded, for example because the
// process stopped between the debit and the transfer. It re-issues the transfer with the
// reservation's idempotency key, so a transfer that already happened is returned rather than
// repeated. Only a definite gateway rejection releases the reservation.
type Reconciler struct {
	UoWFactory  uow.UoWFactory
	Payouts     policies.PayoutGateway
	Encoder     outbox.EventEncoder
	After       time.Duration
	BatchSize   int
	Clock       func() time.Time
	Logger      *slog.Logger
	Outcomes    support.OutcomeCounter
	MaxAttempts int
}

func (r *Reconciler) Name() string { return reconcileJobName }

// RunOnce processes one batch of stale reservations.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	after := r.After
	if after <= 0 {
		after = defaultReconcileAfter
	}
	limit := r.BatchSize
	if limit <= 0 {
		limit = defaultReconcileBatch
	}
	cutoff := support.Now(r.Clock).Add(-after)
	stale, err := support.ReadOnly(ctx, r.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) ([]*payout.Withdrawal, error) {
		return unit.Withdrawals().ListReserved(ctx, cutoff, limit)
	})
	if err != nil {
		return err
	}
	var errs []error
	for _, w := range stale {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.settle(ctx, w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) settle(ctx context.Context, w *payout.Withdrawal) error {
	logger := support.Logger(r.Logger).With("withdrawal_id", w.ID, "user_id", w.UserID)
	l := ledger{factory: r.UoWFactory, encoder: r.Encoder, maxAttempts: r.MaxAttempts}
	tr, err := r.Payouts.CreateTransfer(ctx, transferRequest(w.ID, w.UserID, w.Destination, w.Amount))
	switch {
	case err == nil:
		state, err := l.complete(ctx, w.ID, tr.ID, support.Now(r.Clock))
		if err != nil {
			return err
		}
		if state == payout.StateCompleted {
			support.Count(r.Outcomes, "reconciled_completed")
			logger.Info("stale withdrawal completed", "transfer_id", tr.ID)
		}
		return nil
	case errors.Is(err, policies.ErrGatewayRejected):
		released, rerr := l.release(ctx, w.ID, err.Error(), support.Now(r.Clock))
		if rerr != nil {
			logger.Error("stale withdrawal release failed", "severity", "critical", "total", w.Total.String(), "transfer_error", err, "compensation_error", rerr)
			return rerr
		}
		if released {
			support.Count(r.Outcomes, "reconciled_released")
			logger.Warn("stale withdrawal released after rejected transfer", "total", w.Total.String(), "error", err)
		}
		return nil
	default:
		logger.Warn("stale withdrawal transfer retry failed", "error", err)
		return err
	}
}
