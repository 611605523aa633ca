package ledger

import (
	"context"
	"time"

	"rentledger/internal/app/handlers/support"
	"rentledger/internal/app/queries"
	"rentledger/internal/app/uow"
	"rentledger/internal/domain/payout"
	"rentledger/internal/domain/rental"
	"rentledger/internal/domain/shared/money"
	"rentledger/internal/domain/user"
)

const (
	getBalanceKey    = "ledger.balance"
	getRentalKey     = "ledger.rental"
	getWithdrawalKey = "ledger.withdrawal"
)

type GetBalanceQuery struct {
	UserID string `validate:"required,max=128"`
}

func (GetBalanceQuery) Key() string { return getBalanceKey }

type BalanceView struct {
	UserID          string
	Balance         money.Money
	PayoutAccountID string
	PayoutsEnabled  bool
	ChargesEnabled  bool
	UpdatedAt       time.Time
}

type GetRentalQuery struct {
	RentalID string `validate:"required,max=128"`
}

func (GetRentalQuery) Key() string { return getRentalKey }

type RentalView struct {
	RentalID        string
	OwnerID         string
	PaymentStatus   string
	PaymentIntentID string
	PaidAmount      money.Money
	PaidAt          time.Time
}

type GetWithdrawalQuery struct {
	WithdrawalID string `validate:"required,max=128"`
}

func (GetWithdrawalQuery) Key() string { return getWithdrawalKey }

type WithdrawalView struct {
	WithdrawalID  string
	UserID        string
	Amount        money.Money
	Fee           money.Money
	Total         money.Money
	Destination   string
	State         string
	TransferID    string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Handler serves the read side of the ledger.
type Handler struct {
	UoWFactory uow.UoWFactory
}

type BalanceHandler struct{ *Handler }
type RentalHandler struct{ *Handler }
type WithdrawalHandler struct{ *Handler }

func (h BalanceHandler) Handle(ctx context.Context, q GetBalanceQuery) (BalanceView, error) {
	return support.ReadOnly(ctx, h.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) (BalanceView, error) {
		u, err := unit.Users().ByID(ctx, user.ID(q.UserID))
		if err != nil {
			return BalanceView{}, err
		}
		return BalanceView{
			UserID:          string(u.ID),
			Balance:         u.Balance,
			PayoutAccountID: u.PayoutAccountID,
			PayoutsEnabled:  u.PayoutsEnabled,
			ChargesEnabled:  u.ChargesEnabled,
			UpdatedAt:       u.UpdatedAt,
		}, nil
	})
}

func (h RentalHandler) Handle(ctx context.Context, q GetRentalQuery) (RentalView, error) {
	return support.ReadOnly(ctx, h.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) (RentalView, error) {
		r, err := unit.Rentals().ByID(ctx, rental.ID(q.RentalID))
		if err != nil {
			return RentalView{}, err
		}
		return RentalView{
			RentalID:        string(r.ID),
			OwnerID:         r.OwnerID,
			PaymentStatus:   string(r.PaymentStatus),
			PaymentIntentID: r.PaymentIntentID,
			PaidAmount:      r.PaidAmount,
			PaidAt:          r.PaidAt,
		}, nil
	})
}

func (h WithdrawalHandler) Handle(ctx context.Context, q GetWithdrawalQuery) (WithdrawalView, error) {
	return support.ReadOnly(ctx, h.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) (WithdrawalView, error) {
		w, err := unit.Withdrawals().ByID(ctx, payout.WithdrawalID(q.WithdrawalID))
		if err != nil {
			return WithdrawalView{}, err
		}
		return WithdrawalView{
			WithdrawalID:  string(w.ID),
			UserID:        w.UserID,
			Amount:        w.Amount,
			Fee:           w.Fee,
			Total:         w.Total,
			Destination:   w.Destination,
			State:         string(w.State),
			TransferID:    w.TransferID,
			FailureReason: w.FailureReason,
			CreatedAt:     w.CreatedAt,
			UpdatedAt:     w.UpdatedAt,
		}, nil
	})
}

// Register wires the ledger queries into a registry.
func Register(reg *queries.Registry, factory uow.UoWFactory) {
	h := &Handler{UoWFactory: factory}
	queries.Register[GetBalanceQuery, BalanceView](reg, BalanceHandler{h})
	queries.Register[GetRentalQuery, RentalView](reg, RentalHandler{h})
	queries.Register[GetWithdrawalQuery, WithdrawalView](reg, WithdrawalHandler{h})
}
