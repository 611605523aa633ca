package memory

import (
	"context"
	"time"

	"rentledger/internal/domain/payout"
	"rentledger/internal/domain/rental"
	"rentledger/internal/domain/shared/events"
	"rentledger/internal/domain/user"
)

const (
	kindRental     = "rental"
	kindUser       = "user"
	kindWithdrawal = "withdrawal"
)

type rentalRepo struct{ u *Unit }

func (r rentalRepo) ByID(ctx context.Context, id rental.ID) (*rental.Rental, error) {
	var doc rental.Rental
	w, found, err := r.u.lookup(docKey{kindRental, string(id)}, func(s *Store) (int64, bool) {
		var ok bool
		doc, ok = s.rentals[id]
		return doc.Version, ok
	})
	if err != nil {
		return nil, err
	}
	if w != nil {
		c := *w.rental
		return &c, nil
	}
	if !found {
		return nil, rental.ErrNotFound
	}
	return &doc, nil
}

func (r rentalRepo) Save(ctx context.Context, doc *rental.Rental) error {
	if doc == nil || doc.ID == "" {
		return rental.ErrIDRequired
	}
	return r.u.stage(docKey{kindRental, string(doc.ID)}, doc.Version, func(next int64, w *staged) {
		c := *doc
		c.Version = next
		c.EventRecorder = events.EventRecorder{}
		w.rental = &c
		doc.Version = next
	})
}

type userRepo struct{ u *Unit }

func (r userRepo) ByID(ctx context.Context, id user.ID) (*user.User, error) {
	var doc user.User
	w, found, err := r.u.lookup(docKey{kindUser, string(id)}, func(s *Store) (int64, bool) {
		var ok bool
		doc, ok = s.users[id]
		return doc.Version, ok
	})
	if err != nil {
		return nil, err
	}
	if w != nil {
		c := *w.user
		return &c, nil
	}
	if !found {
		return nil, user.ErrNotFound
	}
	return &doc, nil
}

func (r userRepo) Save(ctx context.Context, doc *user.User) error {
	if doc == nil || doc.ID == "" {
		return user.ErrIDRequired
	}
	return r.u.stage(docKey{kindUser, string(doc.ID)}, doc.Version, func(next int64, w *staged) {
		c := *doc
		c.Version = next
		c.EventRecorder = events.EventRecorder{}
		w.user = &c
		doc.Version = next
	})
}

type withdrawalRepo struct{ u *Unit }

func (r withdrawalRepo) ByID(ctx context.Context, id payout.WithdrawalID) (*payout.Withdrawal, error) {
	var doc payout.Withdrawal
	w, found, err := r.u.lookup(docKey{kindWithdrawal, string(id)}, func(s *Store) (int64, bool) {
		var ok bool
		doc, ok = s.withdrawals[id]
		return doc.Version, ok
	})
	if err != nil {
		return nil, err
	}
	if w != nil {
		c := *w.payout
		return &c, nil
	}
	if !found {
		return nil, payout.ErrNotFound
	}
	return &doc, nil
}

func (r withdrawalRepo) Save(ctx context.Context, doc *payout.Withdrawal) error {
	if doc == nil || doc.ID == "" {
		return payout.ErrIDRequired
	}
	return r.u.stage(docKey{kindWithdrawal, string(doc.ID)}, doc.Version, func(next int64, w *staged) {
		c := *doc
		c.Version = next
		c.EventRecorder = events.EventRecorder{}
		w.payout = &c
		doc.Version = next
	})
}

// ListReserved reads committed reservations; the result is not tracked for conflicts.
func (r withdrawalRepo) ListReserved(ctx context.Context, before time.Time, limit int) ([]*payout.Withdrawal, error) {
	return r.u.store.listReserved(before, limit), nil
}
