package rental

import (
	"context"
	"errors"
	"strings"
	"time"

	"rentledger/internal/domain/shared/events"
	"rentledger/internal/domain/shared/money"
)

var (
	ErrIDRequired     = errors.New("rental: id is required")
	ErrOwnerRequired  = errors.New("rental: owner id is required")
	ErrNotFound       = errors.New("rental: not found")
	ErrAlreadyPaid    = errors.New("rental: already paid")
	ErrInvalidPayment = errors.New("rental: settled amount must be positive")
	ErrInvalidStatus  = errors.New("rental: unknown payment status")
)

type ID string

type PaymentStatus string

const (
	StatusUnpaid PaymentStatus = "unpaid"
	StatusPaid   PaymentStatus = "paid"
)

// Rental is the minimal projection of a rental that the ledger needs: who owns it and whether the
// renter's payment has been settled. PaymentStatus only ever moves unpaid -> paid.
type Rental struct {
	ID              ID
	OwnerID         string
	PaymentStatus   PaymentStatus
	PaymentIntentID string
	PaidAmount      money.Money
	PaidAt          time.Time
	Version         int64
	events.EventRecorder
}

type Repository interface {
	ByID(ctx context.Context, id ID) (*Rental, error)
	Save(ctx context.Context, rental *Rental) error
}

// ParseStatus maps a persisted status onto the enum. Missing values are treated as unpaid.
func ParseStatus(raw string) (PaymentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(StatusUnpaid):
		return StatusUnpaid, nil
	case string(StatusPaid):
		return StatusPaid, nil
	default:
		return "", ErrInvalidStatus
	}
}

func (r *Rental) IsPaid() bool {
	return r.PaymentStatus == StatusPaid
}

// Owner returns the owner to credit or ErrOwnerRequired when the rental has none.
func (r *Rental) Owner() (string, error) {
	owner := strings.TrimSpace(r.OwnerID)
	if owner == "" {
		return "", ErrOwnerRequired
	}
	return owner, nil
}

// MarkPaid settles the rental. A paid rental is terminal; callers check IsPaid first to treat a
// redelivered settlement as already applied.
func (r *Rental) MarkPaid(intentID string, amount money.Money, now time.Time) error {
	if r.IsPaid() {
		return ErrAlreadyPaid
	}
	if !amount.IsPositive() {
		return ErrInvalidPayment
	}
	r.PaymentStatus = StatusPaid
	r.PaymentIntentID = intentID
	r.PaidAmount = amount
	r.PaidAt = now.UTC()
	r.Record(Paid{RentalID: r.ID, OwnerID: r.OwnerID, PaymentIntentID: intentID, Amount: amount, At: r.PaidAt})
	return nil
}
