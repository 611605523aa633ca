package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	appoutbox "rentledger/internal/app/outbox"
	"rentledger/internal/app/uow"
	"rentledger/internal/domain/payout"
	"rentledger/internal/domain/rental"
	"rentledger/internal/domain/shared/events"
	"rentledger/internal/domain/user"
)

// Store is an in-memory ledger store. Units read committed snapshots, stage their writes and
// commit them atomically after checking that nothing they read or wrote changed in between, which
// gives serializable units with optimistic conflict detection.
type Store struct {
	mu          sync.Mutex
	rentals     map[rental.ID]rental.Rental
	users       map[user.ID]user.User
	withdrawals map[payout.WithdrawalID]payout.Withdrawal
	inbox       map[string]time.Time
	outbox      []*outboxEntry
}

func NewStore() *Store {
	return &Store{
		rentals:     make(map[rental.ID]rental.Rental),
		users:       make(map[user.ID]user.User),
		withdrawals: make(map[payout.WithdrawalID]payout.Withdrawal),
		inbox:       make(map[string]time.Time),
	}
}

// Begin starts a unit against the current committed state.
func (s *Store) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	return newUnit(s, opts.ReadOnly), nil
}

// Ping reports readiness; the in-memory store is always ready.
func (s *Store) Ping(context.Context) error { return nil }

// PutRental writes a rental directly, bypassing units. Used for seeding.
func (s *Store) PutRental(r rental.Rental) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.PaymentStatus == "" {
		r.PaymentStatus = rental.StatusUnpaid
	}
	r.EventRecorder = events.EventRecorder{}
	r.Version++
	s.rentals[r.ID] = r
}

// PutUser writes a user directly, bypassing units. Used for seeding.
func (s *Store) PutUser(u user.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.EventRecorder = events.EventRecorder{}
	u.Version++
	s.users[u.ID] = u
}

// User returns the committed user document.
func (s *Store) User(id user.ID) (user.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

// Rental returns the committed rental document.
func (s *Store) Rental(id rental.ID) (rental.Rental, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rentals[id]
	return r, ok
}

// Withdrawal returns the committed withdrawal document.
func (s *Store) Withdrawal(id payout.WithdrawalID) (payout.Withdrawal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	return w, ok
}

// Events lists committed outbox records in commit order.
func (s *Store) Events() []appoutbox.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]appoutbox.EventRecord, 0, len(s.outbox))
	for _, e := range s.outbox {
		out = append(out, e.record)
	}
	return out
}

func (s *Store) listReserved(before time.Time, limit int) []*payout.Withdrawal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*payout.Withdrawal
	for _, w := range s.withdrawals {
		if w.State == payout.StateReserved && w.UpdatedAt.Before(before) {
			c := w
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
