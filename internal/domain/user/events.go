package user

import (
	"time"

	"rentledger/internal/domain/shared/money"
)

type CreditReason string

const (
	CreditSettlement   CreditReason = "settlement"
	CreditCompensation CreditReason = "withdrawal_compensation"
)

type BalanceCredited struct {
	UserID    ID
	Reason    CreditReason
	Reference string
	Gross     money.Money
	Fee       money.Money
	Net       money.Money
	Balance   money.Money
	At        time.Time
}

func (e BalanceCredited) EventName() string     { return "user.balance_credited" }
func (e BalanceCredited) AggregateID() string   { return string(e.UserID) }
func (e BalanceCredited) OccurredAt() time.Time { return e.At }

type BalanceDebited struct {
	UserID    ID
	Reference string
	Amount    money.Money
	Fee       money.Money
	Total     money.Money
	Balance   money.Money
	At        time.Time
}

func (e BalanceDebited) EventName() string     { return "user.balance_debited" }
func (e BalanceDebited) AggregateID() string   { return string(e.UserID) }
func (e BalanceDebited) OccurredAt() time.Time { return e.At }

type PayoutAccountLinked struct {
	UserID    ID
	AccountID string
	At        time.Time
}

func (e PayoutAccountLinked) EventName() string     { return "user.payout_account_linked" }
func (e PayoutAccountLinked) AggregateID() string   { return string(e.UserID) }
func (e PayoutAccountLinked) OccurredAt() time.Time { return e.At }

type CapabilitiesChanged struct {
	UserID         ID
	AccountID      string
	PayoutsEnabled bool
	ChargesEnabled bool
	At             time.Time
}

func (e CapabilitiesChanged) EventName() string     { return "user.capabilities_changed" }
func (e CapabilitiesChanged) AggregateID() string   { return string(e.UserID) }
func (e CapabilitiesChanged) OccurredAt() time.Time { return e.At }
