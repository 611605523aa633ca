package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	appoutbox "rentledger/internal/app/outbox"
	"rentledger/internal/app/uow"
	"rentledger/internal/domain/payout"
	"rentledger/internal/domain/rental"
	"rentledger/internal/domain/user"
	infraoutbox "rentledger/internal/infra/outbox"
)

var ErrUnitClosed = errors.New("memory: unit of work already finished")

type docKey struct {
	kind string
	id   string
}

// staged is a pending write: the document to store and the version it must replace.
type staged struct {
	expected int64
	rental   *rental.Rental
	user     *user.User
	payout   *payout.Withdrawal
}

// Unit is a uow.UnitOfWork over a Store.
type Unit struct {
	store    *Store
	readOnly bool

	mu     sync.Mutex
	closed bool
	reads  map[docKey]int64
	writes map[docKey]*staged
	inbox  map[string]string
	events []appoutbox.EventRecord
}

func newUnit(s *Store, readOnly bool) *Unit {
	return &Unit{
		store:    s,
		readOnly: readOnly,
		reads:    make(map[docKey]int64),
		writes:   make(map[docKey]*staged),
		inbox:    make(map[string]string),
	}
}

func (u *Unit) Rentals() rental.Repository     { return rentalRepo{u} }
func (u *Unit) Users() user.Repository         { return userRepo{u} }
func (u *Unit) Withdrawals() payout.Repository { return withdrawalRepo{u} }
func (u *Unit) Inbox() uow.Inbox               { return inbox{u} }
func (u *Unit) Outbox() appoutbox.Outbox       { return outbox{u} }

// Commit validates every read and staged write against the committed state and applies the
// writes atomically. Any mismatch fails the whole unit with uow.ErrConflict.
func (u *Unit) Commit(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrUnitClosed
	}
	u.closed = true
	if u.readOnly {
		return nil
	}

	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, version := range u.reads {
		if s.versionLocked(key) != version {
			return fmt.Errorf("%w: %s %s changed", uow.ErrConflict, key.kind, key.id)
		}
	}
	for key, w := range u.writes {
		if s.versionLocked(key) != w.expected {
			return fmt.Errorf("%w: %s %s changed", uow.ErrConflict, key.kind, key.id)
		}
	}
	for id := range u.inbox {
		if _, seen := s.inbox[id]; seen {
			return fmt.Errorf("%w: event %s processed concurrently", uow.ErrConflict, id)
		}
	}

	now := time.Now().UTC()
	for _, w := range u.writes {
		switch {
		case w.rental != nil:
			s.rentals[w.rental.ID] = *w.rental
		case w.user != nil:
			s.users[w.user.ID] = *w.user
		case w.payout != nil:
			s.withdrawals[w.payout.ID] = *w.payout
		}
	}
	for id := range u.inbox {
		s.inbox[id] = now
	}
	for _, rec := range u.events {
		s.outbox = append(s.outbox, &outboxEntry{record: rec, state: infraoutbox.StateNew, nextAttempt: now})
	}
	return nil
}

func (u *Unit) Rollback(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	u.writes = nil
	u.events = nil
	return nil
}

// versionLocked returns the committed version of a document, zero when it does not exist.
func (s *Store) versionLocked(key docKey) int64 {
	switch key.kind {
	case kindRental:
		if r, ok := s.rentals[rental.ID(key.id)]; ok {
			return r.Version
		}
	case kindUser:
		if usr, ok := s.users[user.ID(key.id)]; ok {
			return usr.Version
		}
	case kindWithdrawal:
		if w, ok := s.withdrawals[payout.WithdrawalID(key.id)]; ok {
			return w.Version
		}
	}
	return 0
}

// stage records a write of a document currently at version. The caller's copy is bumped so a
// second Save in the same unit continues from the staged version.
func (u *Unit) stage(key docKey, version int64, fill func(next int64, w *staged)) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrUnitClosed
	}
	if u.readOnly {
		return fmt.Errorf("memory: write in read-only unit")
	}
	w, ok := u.writes[key]
	if ok {
		if w.current() != version {
			return fmt.Errorf("%w: %s %s saved from a stale copy", uow.ErrConflict, key.kind, key.id)
		}
	} else {
		expected := version
		if read, seen := u.reads[key]; seen && read != version {
			return fmt.Errorf("%w: %s %s saved from a stale copy", uow.ErrConflict, key.kind, key.id)
		}
		w = &staged{expected: expected}
		u.writes[key] = w
	}
	fill(version+1, w)
	return nil
}

func (w *staged) current() int64 {
	switch {
	case w.rental != nil:
		return w.rental.Version
	case w.user != nil:
		return w.user.Version
	case w.payout != nil:
		return w.payout.Version
	}
	return w.expected
}

// lookup returns the staged copy of a document, or reads the committed one and remembers the
// version it saw.
func (u *Unit) lookup(key docKey, read func(s *Store) (int64, bool)) (*staged, bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil, false, ErrUnitClosed
	}
	if w, ok := u.writes[key]; ok {
		return w, true, nil
	}
	u.store.mu.Lock()
	version, found := read(u.store)
	u.store.mu.Unlock()
	if prev, seen := u.reads[key]; seen && prev != version {
		return nil, false, fmt.Errorf("%w: %s %s changed while reading", uow.ErrConflict, key.kind, key.id)
	}
	u.reads[key] = version
	return nil, found, nil
}
