package rental

import (
	"time"

	"rentledger/internal/domain/shared/money"
)

type Paid struct {
	RentalID        ID
	OwnerID         string
	PaymentIntentID string
	Amount          money.Money
	At              time.Time
}

func (e Paid) EventName() string     { return "rental.paid" }
func (e Paid) AggregateID() string   { return string(e.RentalID) }
func (e Paid) OccurredAt() time.Time { return e.At }
