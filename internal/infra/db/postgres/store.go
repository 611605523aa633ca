package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"rentledger/internal/app/outbox"
	"rentledger/internal/app/uow"
	"rentledger/internal/domain/payout"
	"rentledger/internal/domain/rental"
	"rentledger/internal/domain/user"
)

//go:embed schema.sql
var schema string

// Store is the Postgres ledger store. Rows read by a read-write unit are locked with
// SELECT ... FOR UPDATE until the unit ends; version columns catch anything that slips past.
type Store struct {
	Pool *pgxpool.Pool
	// Currency is assumed for users whose balance was never written by the ledger.
	Currency string
}

func New(ctx context.Context, dsn, currency string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &Store{Pool: pool, Currency: strings.ToUpper(currency)}, nil
}

// Migrate creates the ledger tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, schema)
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	txOpts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead}
	if opts.ReadOnly {
		txOpts.AccessMode = pgx.ReadOnly
	}
	tx, err := s.Pool.BeginTx(ctx, txOpts)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	return &Unit{tx: tx, lock: !opts.ReadOnly, currency: s.Currency}, nil
}

// Unit is one pgx transaction. Its repositories are bound to the transaction directly.
type Unit struct {
	tx       pgx.Tx
	lock     bool
	currency string
}

func (u *Unit) Rentals() rental.Repository     { return rentalRepo{u} }
func (u *Unit) Users() user.Repository         { return userRepo{u} }
func (u *Unit) Withdrawals() payout.Repository { return withdrawalRepo{u} }
func (u *Unit) Inbox() uow.Inbox               { return inbox{u} }
func (u *Unit) Outbox() outbox.Outbox          { return outboxWriter{u} }

func (u *Unit) Commit(ctx context.Context) error {
	if err := u.tx.Commit(ctx); err != nil {
		return mapErr(err)
	}
	return nil
}

func (u *Unit) Rollback(ctx context.Context) error {
	return u.tx.Rollback(ctx)
}

func (u *Unit) forUpdate() string {
	if u.lock {
		return " FOR UPDATE"
	}
	return ""
}

// SQLSTATE codes that mean the transaction lost a race and can be retried.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation:
			return fmt.Errorf("%w: %s", uow.ErrConflict, pgErr.Message)
		}
	}
	return err
}

var _ uow.UoWFactory = (*Store)(nil)
