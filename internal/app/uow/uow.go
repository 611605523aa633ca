package uow

import (
	"context"
	"errors"

	"rentledger/internal/app/outbox"
	"rentledger/internal/domain/payout"
	"rentledger/internal/domain/rental"
	"rentledger/internal/domain/user"
)

var (
	// ErrConflict reports that a concurrent transaction changed a document this unit read.
	// Work that fails with it can be retried from scratch.
	ErrConflict = errors.New("uow: concurrent update conflict")

	// ErrAlreadyProcessed is returned by Inbox.MarkProcessed for a known event id.
	ErrAlreadyProcessed = errors.New("uow: event already processed")

	ErrUnitOfWorkMissing = errors.New("uow: unit of work missing from context")
)

// Inbox remembers which gateway notifications were applied.
type Inbox interface {
	MarkProcessed(ctx context.Context, eventID, eventType string) error
}

// UnitOfWork coordinates repositories inside one atomic scope. Nothing written through it is
// visible to other units until Commit returns nil.
type UnitOfWork interface {
	Rentals() rental.Repository
	Users() user.Repository
	Withdrawals() payout.Repository
	Inbox() Inbox
	Outbox() outbox.Outbox

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// UoWFactory starts unit of work instances.
type UoWFactory interface {
	Begin(ctx context.Context, opts TxOptions) (UnitOfWork, error)
}

// TxOptions configure transaction boundaries.
type TxOptions struct {
	ReadOnly bool
	// MaxAttempts bounds how often Run re-executes work after ErrConflict. Zero means the
	// package default.
	MaxAttempts int
}
