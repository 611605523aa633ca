package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rentledger/internal/app/outbox"
	"rentledger/internal/app/uow"
	"rentledger/internal/domain/payout"
	"rentledger/internal/domain/rental"
	"rentledger/internal/domain/user"
)

var ErrUnitOfWorkNotConfigured = errors.New("mongo: unit of work factory missing database")

// Factory wires Mongo transactions into the generic UnitOfWork interface.
type Factory struct {
	DB     *mongo.Database
	Outbox outbox.Outbox

	rentals     *RentalRepository
	users       *UserRepository
	withdrawals *WithdrawalRepository
	inbox       *Inbox
}

// NewFactory creates the ledger collections' indexes and returns a ready factory.
func NewFactory(ctx context.Context, db *mongo.Database, box outbox.Outbox, currency string) (*Factory, error) {
	if db == nil {
		return nil, ErrUnitOfWorkNotConfigured
	}
	withdrawals, err := NewWithdrawalRepository(ctx, db)
	if err != nil {
		return nil, err
	}
	return &Factory{
		DB:          db,
		Outbox:      box,
		rentals:     NewRentalRepository(db),
		users:       NewUserRepository(db, currency),
		withdrawals: withdrawals,
		inbox:       NewInbox(db),
	}, nil
}

// Begin starts a MongoDB session/transaction.
func (f *Factory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f == nil || f.DB == nil {
		return nil, ErrUnitOfWorkNotConfigured
	}
	session, err := f.DB.Client().StartSession()
	if err != nil {
		return nil, err
	}
	txnOpts := options.Transaction().SetReadConcern(f.DB.ReadConcern()).SetWriteConcern(f.DB.WriteConcern())
	if err := session.StartTransaction(txnOpts); err != nil {
		session.EndSession(ctx)
		return nil, err
	}
	return &Unit{session: session, factory: f}, nil
}

func (f *Factory) Ping(ctx context.Context) error {
	return f.DB.Client().Ping(ctx, nil)
}

type Unit struct {
	session mongo.Session
	factory *Factory
}

func (u *Unit) Rentals() rental.Repository     { return u.factory.rentals }
func (u *Unit) Users() user.Repository         { return u.factory.users }
func (u *Unit) Withdrawals() payout.Repository { return u.factory.withdrawals }
func (u *Unit) Inbox() uow.Inbox               { return u.factory.inbox }
func (u *Unit) Outbox() outbox.Outbox          { return u.factory.Outbox }

func (u *Unit) Commit(ctx context.Context) error {
	defer u.session.EndSession(ctx)
	if err := u.session.CommitTransaction(ctx); err != nil {
		return mapErr(err)
	}
	return nil
}

func (u *Unit) Rollback(ctx context.Context) error {
	defer u.session.EndSession(ctx)
	return u.session.AbortTransaction(ctx)
}

// InjectContext ensures Mongo session is available in context for downstream repos.
func (u *Unit) InjectContext(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, u.session)
}

// mapErr turns write conflicts and lost races into uow.ErrConflict so the transaction is retried.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", uow.ErrConflict, err)
	}
	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorLabel("TransientTransactionError") || se.HasErrorCode(writeConflictCode)) {
		return fmt.Errorf("%w: %v", uow.ErrConflict, err)
	}
	return err
}

const writeConflictCode = 112

var (
	_ uow.UoWFactory      = (*Factory)(nil)
	_ uow.ContextInjector = (*Unit)(nil)
)
