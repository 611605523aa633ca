package support

import (
	"context"
	"log/slog"
	"time"

	"rentledger/internal/app/uow"
)

// ReadOnly runs fn against a read-only unit, reusing the unit already bound to ctx if any.
func ReadOnly[T any](ctx context.Context, factory uow.UoWFactory, fn func(ctx context.Context, unit uow.UnitOfWork) (T, error)) (T, error) {
	if unit, ok := uow.FromContext(ctx); ok {
		return fn(ctx, unit)
	}
	var out T
	err := uow.Run(ctx, factory, uow.TxOptions{ReadOnly: true}, func(ctx context.Context, unit uow.UnitOfWork) error {
		var err error
		out, err = fn(ctx, unit)
		return err
	})
	return out, err
}

// OutcomeCounter counts handler outcomes ("applied", "duplicate", "payout_failed").
type OutcomeCounter interface {
	Inc(outcome string)
}

// Count is a nil-safe OutcomeCounter call.
func Count(c OutcomeCounter, outcome string) {
	if c != nil {
		c.Inc(outcome)
	}
}

// Now returns clock() or the wall clock when clock is nil.
func Now(clock func() time.Time) time.Time {
	if clock != nil {
		return clock().UTC()
	}
	return time.Now().UTC()
}

// Logger falls back to slog.Default.
func Logger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
