package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"rentledger/internal/app/uow"
	"rentledger/internal/domain/payout"
	"rentledger/internal/domain/rental"
	"rentledger/internal/domain/shared/money"
	"rentledger/internal/domain/user"
)

type rentalRepo struct{ u *Unit }

func (r rentalRepo) ByID(ctx context.Context, id rental.ID) (*rental.Rental, error) {
	var (
		agg    rental.Rental
		status string
		amount int64
		cur    string
		paidAt *time.Time
	)
	err := r.u.tx.QueryRow(ctx,
		"SELECT id, owner_id, payment_status, payment_intent_id, paid_amount, paid_currency, paid_at, version FROM rentals WHERE id = $1"+r.u.forUpdate(),
		string(id),
	).Scan((*string)(&agg.ID), &agg.OwnerID, &status, &agg.PaymentIntentID, &amount, &cur, &paidAt, &agg.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, rental.ErrNotFound
		}
		return nil, mapErr(err)
	}
	if agg.PaymentStatus, err = rental.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("rental %s: %w", id, err)
	}
	agg.PaidAmount = money.Money{Amount: amount, Currency: cur}
	if paidAt != nil {
		agg.PaidAt = paidAt.UTC()
	}
	return &agg, nil
}

func (r rentalRepo) Save(ctx context.Context, agg *rental.Rental) error {
	status := agg.PaymentStatus
	if status == "" {
		status = rental.StatusUnpaid
	}
	tag, err := r.u.tx.Exec(ctx,
		`UPDATE rentals SET owner_id = $3, payment_status = $4, payment_intent_id = $5, paid_amount = $6, paid_currency = $7, paid_at = $8, version = version + 1
		 WHERE id = $1 AND version = $2`,
		string(agg.ID), agg.Version, agg.OwnerID, string(status), agg.PaymentIntentID, agg.PaidAmount.Amount, agg.PaidAmount.Currency, nullTime(agg.PaidAt),
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: rental %s", uow.ErrConflict, agg.ID)
	}
	agg.Version++
	return nil
}

type userRepo struct{ u *Unit }

func (r userRepo) ByID(ctx context.Context, id user.ID) (*user.User, error) {
	var (
		agg       user.User
		balance   int64
		cur       string
		updatedAt *time.Time
	)
	err := r.u.tx.QueryRow(ctx,
		"SELECT id, email, payout_account_id, account_balance, currency, payouts_enabled, charges_enabled, updated_at, version FROM users WHERE id = $1"+r.u.forUpdate(),
		string(id),
	).Scan((*string)(&agg.ID), &agg.Email, &agg.PayoutAccountID, &balance, &cur, &agg.PayoutsEnabled, &agg.ChargesEnabled, &updatedAt, &agg.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, mapErr(err)
	}
	if cur == "" {
		cur = r.u.currency
	}
	agg.Balance = money.Money{Amount: balance, Currency: cur}
	if updatedAt != nil {
		agg.UpdatedAt = updatedAt.UTC()
	}
	return &agg, nil
}

func (r userRepo) Save(ctx context.Context, agg *user.User) error {
	tag, err := r.u.tx.Exec(ctx,
		`UPDATE users SET email = $3, payout_account_id = $4, account_balance = $5, currency = $6, payouts_enabled = $7, charges_enabled = $8, updated_at = $9, version = version + 1
		 WHERE id = $1 AND version = $2`,
		string(agg.ID), agg.Version, agg.Email, agg.PayoutAccountID, agg.Balance.Amount, agg.Balance.Currency, agg.PayoutsEnabled, agg.ChargesEnabled, nullTime(agg.UpdatedAt),
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", uow.ErrConflict, agg.ID)
	}
	agg.Version++
	return nil
}

type withdrawalRepo struct{ u *Unit }

const withdrawalColumns = "id, user_id, amount, fee, total, currency, destination, state, transfer_id, failure_reason, created_at, updated_at, version"

func (r withdrawalRepo) ByID(ctx context.Context, id payout.WithdrawalID) (*payout.Withdrawal, error) {
	row := r.u.tx.QueryRow(ctx, "SELECT "+withdrawalColumns+" FROM withdrawals WHERE id = $1"+r.u.forUpdate(), string(id))
	w, err := scanWithdrawal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payout.ErrNotFound
		}
		return nil, mapErr(err)
	}
	return w, nil
}

func (r withdrawalRepo) Save(ctx context.Context, w *payout.Withdrawal) error {
	if w.Version == 0 {
		_, err := r.u.tx.Exec(ctx,
			"INSERT INTO withdrawals ("+withdrawalColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1)",
			string(w.ID), w.UserID, w.Amount.Amount, w.Fee.Amount, w.Total.Amount, w.Amount.Currency, w.Destination,
			string(w.State), w.TransferID, w.FailureReason, w.CreatedAt, w.UpdatedAt,
		)
		if err != nil {
			return mapErr(err)
		}
		w.Version = 1
		return nil
	}
	tag, err := r.u.tx.Exec(ctx,
		`UPDATE withdrawals SET state = $3, transfer_id = $4, failure_reason = $5, updated_at = $6, version = version + 1
		 WHERE id = $1 AND version = $2`,
		string(w.ID), w.Version, string(w.State), w.TransferID, w.FailureReason, w.UpdatedAt,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: withdrawal %s", uow.ErrConflict, w.ID)
	}
	w.Version++
	return nil
}

func (r withdrawalRepo) ListReserved(ctx context.Context, before time.Time, limit int) ([]*payout.Withdrawal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.u.tx.Query(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawals WHERE state = $1 AND updated_at < $2 ORDER BY updated_at LIMIT $3",
		string(payout.StateReserved), before, limit,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*payout.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, mapErr(rows.Err())
}

func scanWithdrawal(row pgx.Row) (*payout.Withdrawal, error) {
	var (
		w                    payout.Withdrawal
		amount, fee, total   int64
		cur, state           string
		createdAt, updatedAt time.Time
	)
	err := row.Scan((*string)(&w.ID), &w.UserID, &amount, &fee, &total, &cur, &w.Destination, &state, &w.TransferID, &w.FailureReason, &createdAt, &updatedAt, &w.Version)
	if err != nil {
		return nil, err
	}
	w.Amount = money.Money{Amount: amount, Currency: cur}
	w.Fee = money.Money{Amount: fee, Currency: cur}
	w.Total = money.Money{Amount: total, Currency: cur}
	w.State = payout.State(state)
	w.CreatedAt = createdAt.UTC()
	w.UpdatedAt = updatedAt.UTC()
	return &w, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
