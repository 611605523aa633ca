package uow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const defaultMaxAttempts = 5

// Work is the body of a transaction. It may run more than once, so it must not call anything
// outside the unit (no gateway calls).
type Work func(ctx context.Context, unit UnitOfWork) error

// Run executes work inside a fresh unit of work and commits it. When the store reports a
// conflict, on any repository call or on commit, the whole unit is discarded and work runs again
// against freshly read state. After the last attempt the conflict is returned wrapped in
// ErrConflict.
func Run(ctx context.Context, factory UoWFactory, opts TxOptions, work Work) error {
	if factory == nil {
		return ErrUnitOfWorkMissing
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := runOnce(ctx, factory, opts, work)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, backoff(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", ErrConflict, attempts, lastErr)
}

func runOnce(ctx context.Context, factory UoWFactory, opts TxOptions, work Work) error {
	unit, err := factory.Begin(ctx, opts)
	if err != nil {
		return err
	}
	execCtx := Bind(ctx, unit)
	committed := false
	defer func() {
		if !committed {
			_ = unit.Rollback(execCtx)
		}
	}()
	if err := work(execCtx, unit); err != nil {
		return err
	}
	if opts.ReadOnly {
		return nil
	}
	if err := unit.Commit(execCtx); err != nil {
		return err
	}
	committed = true
	return nil
}

func backoff(attempt int) time.Duration {
	return time.Duration(attempt*attempt) * 5 * time.Millisecond
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
