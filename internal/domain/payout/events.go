package payout

import (
	"time"

	"rentledger/internal/domain/shared/money"
)

type Reserved struct {
	WithdrawalID WithdrawalID
	UserID       string
	Amount       money.Money
	Fee          money.Money
	Total        money.Money
	Destination  string
	At           time.Time
}

func (e Reserved) EventName() string     { return "withdrawal.reserved" }
func (e Reserved) AggregateID() string   { return string(e.WithdrawalID) }
func (e Reserved) OccurredAt() time.Time { return e.At }

type Completed struct {
	WithdrawalID WithdrawalID
	UserID       string
	TransferID   string
	Amount       money.Money
	At           time.Time
}

func (e Completed) EventName() string     { return "withdrawal.completed" }
func (e Completed) AggregateID() string   { return string(e.WithdrawalID) }
func (e Completed) OccurredAt() time.Time { return e.At }

type Compensated struct {
	WithdrawalID WithdrawalID
	UserID       string
	Total        money.Money
	Reason       string
	At           time.Time
}

func (e Compensated) EventName() string     { return "withdrawal.compensated" }
func (e Compensated) AggregateID() string   { return string(e.WithdrawalID) }
func (e Compensated) OccurredAt() time.Time { return e.At }
