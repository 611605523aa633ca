package withdrawals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"rentledger/internal/app/commands"
	"rentledger/internal/app/handlers/support"
	"rentledger/internal/app/outbox"
	"rentledger/internal/app/policies"
	"rentledger/internal/app/saga"
	"rentledger/internal/app/uow"
	"rentledger/internal/domain/payout"
	"rentledger/internal/domain/shared/money"
	"rentledger/internal/domain/user"
)

const withdrawKey = "withdrawals.withdraw"

// ErrPayoutFailed reports a transfer the gateway did not perform. The reserved amount has been
// returned to the balance unless a critical inconsistency was logged.
var ErrPayoutFailed = errors.New("withdrawals: payout failed")

// Transfer metadata keys.
const (
	MetadataUserID       = "userId"
	MetadataWithdrawalID = "withdrawalId"
)

const (
	stepReserve  = "reserve"
	stepTransfer = "transfer"
)

type WithdrawCommand struct {
	Amount               decimal.Decimal
	UserID               string `validate:"required,max=128"`
	DestinationAccountID string `validate:"required,max=255"`
	// ClientKey is the caller's Idempotency-Key, scoped to the user.
	ClientKey string `validate:"max=255"`
}

func (WithdrawCommand) Key() string { return withdrawKey }

func (c WithdrawCommand) IdempotencyKey() string {
	if strings.TrimSpace(c.ClientKey) == "" {
		return ""
	}
	return c.UserID + ":" + strings.TrimSpace(c.ClientKey)
}

func (WithdrawCommand) ResultPrototype() any { return &WithdrawResult{} }

type WithdrawResult struct {
	WithdrawalID string      `json:"withdrawalId"`
	TransferID   string      `json:"transferId"`
	Amount       money.Money `json:"amount"`
	Fee          money.Money `json:"fee"`
	NewBalance   money.Money `json:"newBalance"`
}

// WithdrawHandler pays out part of a user's balance. The balance is debited by amount plus the
// platform fee in one unit of work before the transfer is requested; a failed transfer releases
// the reservation again.
type WithdrawHandler struct {
	UoWFactory  uow.UoWFactory
	Payouts     policies.PayoutGateway
	Fees        policies.FeeSchedule
	Encoder     outbox.EventEncoder
	NewID       func() string
	Clock       func() time.Time
	Logger      *slog.Logger
	Outcomes    support.OutcomeCounter
	MaxAttempts int
}

type withdrawal struct {
	id          payout.WithdrawalID
	userID      string
	destination string
	amount      money.Money
	fee         money.Money
	total       money.Money
	balance     money.Money
	transferID  string
	failure     string
}

func (h *WithdrawHandler) Handle(ctx context.Context, cmd WithdrawCommand) (WithdrawResult, error) {
	fee := h.Fees.PlatformFee()
	amount, err := money.FromMajor(cmd.Amount, fee.Currency)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("%w: amount: %w", commands.ErrInvalidInput, err)
	}
	if !amount.IsPositive() {
		return WithdrawResult{}, commands.Invalid("amount must be a positive number")
	}
	st := &withdrawal{
		id:          payout.WithdrawalID(h.newID()),
		userID:      strings.TrimSpace(cmd.UserID),
		destination: strings.TrimSpace(cmd.DestinationAccountID),
		amount:      amount,
		fee:         fee,
	}
	if st.userID == "" || st.destination == "" {
		return WithdrawResult{}, commands.Invalid("userId and destinationAccountId are required")
	}
	logger := support.Logger(h.Logger).With("withdrawal_id", st.id, "user_id", st.userID)
	l := h.ledger()

	flow := saga.Saga[withdrawal]{
		Name: "withdrawal",
		Steps: []saga.Step[withdrawal]{
			{
				Name:    stepReserve,
				Execute: h.reserve,
				Compensate: func(ctx context.Context, st *withdrawal) error {
					_, err := l.release(ctx, st.id, st.failure, support.Now(h.Clock))
					return err
				},
			},
			{Name: stepTransfer, Execute: h.transfer},
		},
	}
	if err := flow.Run(ctx, st); err != nil {
		return WithdrawResult{}, h.failed(logger, st, err)
	}

	if _, err := l.complete(ctx, st.id, st.transferID, support.Now(h.Clock)); err != nil {
		// The transfer happened and the balance stays debited; the reconciler completes the record.
		logger.Warn("withdrawal completion not recorded", "transfer_id", st.transferID, "error", err)
	}
	support.Count(h.Outcomes, "completed")
	logger.Info("withdrawal completed", "transfer_id", st.transferID, "amount", st.amount.String(), "balance", st.balance.String())
	return WithdrawResult{
		WithdrawalID: string(st.id),
		TransferID:   st.transferID,
		Amount:       st.amount,
		Fee:          st.fee,
		NewBalance:   st.balance,
	}, nil
}

func (h *WithdrawHandler) reserve(ctx context.Context, st *withdrawal) error {
	return h.ledger().run(ctx, func(ctx context.Context, unit uow.UnitOfWork) error {
		u, err := unit.Users().ByID(ctx, user.ID(st.userID))
		if err != nil {
			return err
		}
		if err := u.VerifyPayoutDestination(st.destination); err != nil {
			return err
		}
		now := support.Now(h.Clock)
		total, err := u.ReserveWithdrawal(string(st.id), st.amount, st.fee, now)
		if err != nil {
			return err
		}
		w, err := payout.NewReservation(payout.ReserveParams{
			ID:          st.id,
			UserID:      st.userID,
			Amount:      st.amount,
			Fee:         st.fee,
			Total:       total,
			Destination: u.PayoutAccountID,
			Now:         now,
		})
		if err != nil {
			return err
		}
		if err := unit.Users().Save(ctx, u); err != nil {
			return err
		}
		if err := unit.Withdrawals().Save(ctx, w); err != nil {
			return err
		}
		st.total = total
		st.balance = u.Balance
		return outbox.Record(ctx, unit.Outbox(), h.Encoder, append(u.Drain(), w.Drain()...))
	})
}

func (h *WithdrawHandler) transfer(ctx context.Context, st *withdrawal) error {
	tr, err := h.Payouts.CreateTransfer(ctx, transferRequest(st.id, st.userID, st.destination, st.amount))
	if err != nil {
		st.failure = err.Error()
		return err
	}
	st.transferID = tr.ID
	return nil
}

func (h *WithdrawHandler) failed(logger *slog.Logger, st *withdrawal, err error) error {
	failure, ok := saga.AsFailure(err)
	if !ok || failure.Step != stepTransfer {
		support.Count(h.Outcomes, "rejected")
		if ok {
			return failure.Err
		}
		return err
	}
	if failure.CompensationErr != nil {
		support.Count(h.Outcomes, "compensation_failed")
		logger.Error("withdrawal compensation failed, balance is short",
			"severity", "critical",
			"amount", st.amount.String(),
			"total", st.total.String(),
			"destination", st.destination,
			"transfer_error", failure.Err,
			"compensation_error", failure.CompensationErr,
		)
	} else {
		support.Count(h.Outcomes, "payout_failed")
		logger.Warn("withdrawal transfer failed, reservation released", "total", st.total.String(), "error", failure.Err)
	}
	return fmt.Errorf("%w: %v", ErrPayoutFailed, failure.Err)
}

func (h *WithdrawHandler) ledger() ledger {
	return ledger{factory: h.UoWFactory, encoder: h.Encoder, maxAttempts: h.MaxAttempts}
}

func (h *WithdrawHandler) newID() string {
	if h.NewID != nil {
		return h.NewID()
	}
	return uuid.NewString()
}

// transferRequest builds the gateway request for a reservation. The withdrawal id doubles as
// the gateway idempotency key so a re-issued request never pays twice.
func transferRequest(id payout.WithdrawalID, userID, destination string, amount money.Money) policies.TransferRequest {
	return policies.TransferRequest{
		Amount:         amount,
		Destination:    destination,
		IdempotencyKey: string(id),
		Metadata: map[string]string{
			MetadataUserID:       userID,
			MetadataWithdrawalID: string(id),
		},
	}
}

var _ commands.Handler[WithdrawCommand, WithdrawResult] = (*WithdrawHandler)(nil)
