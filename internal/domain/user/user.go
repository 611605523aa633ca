package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"rentledger/internal/domain/shared/events"
	"rentledger/internal/domain/shared/money"
)

var (
	ErrIDRequired                 = errors.New("user: id is required")
	ErrNotFound                   = errors.New("user: not found")
	ErrInsufficientBalance        = errors.New("user: insufficient balance")
	ErrInvalidAmount              = errors.New("user: amount must be positive")
	ErrPayoutAccountMissing       = errors.New("user: no payout account on file")
	ErrPayoutDestinationMismatch  = errors.New("user: destination does not match payout account on file")
	ErrPayoutAccountAlreadyLinked = errors.New("user: a different payout account is already linked")
)

type ID string

// User holds the ledger-relevant part of a user document. Balance is only ever changed through
// the methods below and every change is persisted against the version it was read at.
type User struct {
	ID              ID
	Email           string
	PayoutAccountID string
	Balance         money.Money
	PayoutsEnabled  bool
	ChargesEnabled  bool
	UpdatedAt       time.Time
	Version         int64
	events.EventRecorder
}

type Repository interface {
	ByID(ctx context.Context, id ID) (*User, error)
	Save(ctx context.Context, user *User) error
}

// ApplySettlement credits the net proceeds of a settled rental payment.
func (u *User) ApplySettlement(rentalID string, gross, fee money.Money, now time.Time) (money.Money, error) {
	if !gross.IsPositive() {
		return money.Money{}, ErrInvalidAmount
	}
	net, err := gross.Sub(fee)
	if err != nil {
		return money.Money{}, err
	}
	balance, err := u.Balance.Add(net)
	if err != nil {
		return money.Money{}, err
	}
	u.Balance = balance
	u.touch(now)
	u.Record(BalanceCredited{UserID: u.ID, Reason: CreditSettlement, Reference: rentalID, Gross: gross, Fee: fee, Net: net, Balance: balance, At: u.UpdatedAt})
	return net, nil
}

// ReserveWithdrawal debits amount+fee if, and only if, the current balance covers it.
func (u *User) ReserveWithdrawal(withdrawalID string, amount, fee money.Money, now time.Time) (money.Money, error) {
	if !amount.IsPositive() {
		return money.Money{}, ErrInvalidAmount
	}
	total, err := amount.Add(fee)
	if err != nil {
		return money.Money{}, err
	}
	short, err := u.Balance.LessThan(total)
	if err != nil {
		return money.Money{}, err
	}
	if short {
		return money.Money{}, ErrInsufficientBalance
	}
	balance, err := u.Balance.Sub(total)
	if err != nil {
		return money.Money{}, err
	}
	u.Balance = balance
	u.touch(now)
	u.Record(BalanceDebited{UserID: u.ID, Reference: withdrawalID, Amount: amount, Fee: fee, Total: total, Balance: balance, At: u.UpdatedAt})
	return total, nil
}

// ReleaseReservation returns a reserved withdrawal total to the balance.
func (u *User) ReleaseReservation(withdrawalID string, total money.Money, now time.Time) error {
	if !total.IsPositive() {
		return ErrInvalidAmount
	}
	balance, err := u.Balance.Add(total)
	if err != nil {
		return err
	}
	u.Balance = balance
	u.touch(now)
	u.Record(BalanceCredited{UserID: u.ID, Reason: CreditCompensation, Reference: withdrawalID, Gross: total, Fee: money.Zero(total.Currency), Net: total, Balance: balance, At: u.UpdatedAt})
	return nil
}

// VerifyPayoutDestination rejects payouts to any account other than the one on file.
func (u *User) VerifyPayoutDestination(destination string) error {
	if u.PayoutAccountID == "" {
		return ErrPayoutAccountMissing
	}
	if strings.TrimSpace(destination) != u.PayoutAccountID {
		return ErrPayoutDestinationMismatch
	}
	return nil
}

// LinkPayoutAccount sets the payout account once. Linking the same id again is a no-op and
// reports false.
func (u *User) LinkPayoutAccount(accountID string, now time.Time) (bool, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return false, ErrPayoutAccountMissing
	}
	if u.PayoutAccountID != "" {
		if u.PayoutAccountID == accountID {
			return false, nil
		}
		return false, ErrPayoutAccountAlreadyLinked
	}
	u.PayoutAccountID = accountID
	u.touch(now)
	u.Record(PayoutAccountLinked{UserID: u.ID, AccountID: accountID, At: u.UpdatedAt})
	return true, nil
}

// SyncCapabilities mirrors the gateway's view of the payout account. The flags are last write
// wins; the account id is still subject to the link-once rule.
func (u *User) SyncCapabilities(accountID string, payoutsEnabled, chargesEnabled bool, now time.Time) error {
	if _, err := u.LinkPayoutAccount(accountID, now); err != nil {
		return err
	}
	if u.PayoutsEnabled == payoutsEnabled && u.ChargesEnabled == chargesEnabled {
		return nil
	}
	u.PayoutsEnabled = payoutsEnabled
	u.ChargesEnabled = chargesEnabled
	u.touch(now)
	u.Record(CapabilitiesChanged{UserID: u.ID, AccountID: u.PayoutAccountID, PayoutsEnabled: payoutsEnabled, ChargesEnabled: chargesEnabled, At: u.UpdatedAt})
	return nil
}

func (u *User) touch(now time.Time) {
	if now.IsZero() {
		now = time.Now()
	}
	u.UpdatedAt = now.UTC()
}
