package payout

import (
	"context"
	"errors"
	"strings"
	"time"

	"rentledger/internal/domain/shared/events"
	"rentledger/internal/domain/shared/money"
)

var (
	ErrIDRequired          = errors.New("payout: withdrawal id is required")
	ErrUserRequired        = errors.New("payout: user id is required")
	ErrDestinationRequired = errors.New("payout: destination is required")
	ErrInvalidAmount       = errors.New("payout: amount must be positive")
	ErrTransferIDRequired  = errors.New("payout: transfer id is required")
	ErrInvalidState        = errors.New("payout: invalid state transition")
	ErrNotFound            = errors.New("payout: withdrawal not found")
)

type WithdrawalID string

type State string

const (
	// StateReserved means the balance was debited and the transfer outcome is not yet recorded.
	StateReserved    State = "RESERVED"
	StateCompleted   State = "COMPLETED"
	StateCompensated State = "COMPENSATED"
)

// Withdrawal is the audit record of one payout. It is written in the same atomic scope as the
// balance debit so a reservation can always be found and settled later.
type Withdrawal struct {
	ID            WithdrawalID
	UserID        string
	Amount        money.Money
	Fee           money.Money
	Total         money.Money
	Destination   string
	State         State
	TransferID    string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int64
	events.EventRecorder
}

type Repository interface {
	ByID(ctx context.Context, id WithdrawalID) (*Withdrawal, error)
	Save(ctx context.Context, w *Withdrawal) error
	// ListReserved returns reservations last touched before the cutoff, oldest first.
	ListReserved(ctx context.Context, before time.Time, limit int) ([]*Withdrawal, error)
}

type ReserveParams struct {
	ID          WithdrawalID
	UserID      string
	Amount      money.Money
	Fee         money.Money
	Total       money.Money
	Destination string
	Now         time.Time
}

func NewReservation(p ReserveParams) (*Withdrawal, error) {
	if strings.TrimSpace(string(p.ID)) == "" {
		return nil, ErrIDRequired
	}
	if strings.TrimSpace(p.UserID) == "" {
		return nil, ErrUserRequired
	}
	if strings.TrimSpace(p.Destination) == "" {
		return nil, ErrDestinationRequired
	}
	if !p.Amount.IsPositive() || !p.Total.IsPositive() {
		return nil, ErrInvalidAmount
	}
	now := p.Now.UTC()
	w := &Withdrawal{
		ID:          p.ID,
		UserID:      p.UserID,
		Amount:      p.Amount,
		Fee:         p.Fee,
		Total:       p.Total,
		Destination: p.Destination,
		State:       StateReserved,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	w.Record(Reserved{WithdrawalID: w.ID, UserID: w.UserID, Amount: w.Amount, Fee: w.Fee, Total: w.Total, Destination: w.Destination, At: now})
	return w, nil
}

func (w *Withdrawal) IsReserved() bool { return w.State == StateReserved }

// Complete finalises the reservation with the gateway's transfer id.
func (w *Withdrawal) Complete(transferID string, now time.Time) error {
	if transferID == "" {
		return ErrTransferIDRequired
	}
	if w.State == StateCompleted && w.TransferID == transferID {
		return nil
	}
	if w.State != StateReserved {
		return ErrInvalidState
	}
	w.State = StateCompleted
	w.TransferID = transferID
	w.UpdatedAt = now.UTC()
	w.Record(Completed{WithdrawalID: w.ID, UserID: w.UserID, TransferID: transferID, Amount: w.Amount, At: w.UpdatedAt})
	return nil
}

// Compensate marks the reservation as returned to the balance after a failed transfer.
func (w *Withdrawal) Compensate(reason string, now time.Time) error {
	if w.State != StateReserved {
		return ErrInvalidState
	}
	w.State = StateCompensated
	w.FailureReason = reason
	w.UpdatedAt = now.UTC()
	w.Record(Compensated{WithdrawalID: w.ID, UserID: w.UserID, Total: w.Total, Reason: reason, At: w.UpdatedAt})
	return nil
}
