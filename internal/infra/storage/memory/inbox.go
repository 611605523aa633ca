package memory

import (
	"context"

	appoutbox "rentledger/internal/app/outbox"
	"rentledger/internal/app/uow"
)

type inbox struct{ u *Unit }

func (i inbox) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	u := i.u
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrUnitClosed
	}
	if _, ok := u.inbox[eventID]; ok {
		return uow.ErrAlreadyProcessed
	}
	u.store.mu.Lock()
	_, seen := u.store.inbox[eventID]
	u.store.mu.Unlock()
	if seen {
		return uow.ErrAlreadyProcessed
	}
	u.inbox[eventID] = eventType
	return nil
}

type outbox struct{ u *Unit }

func (o outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	o.u.mu.Lock()
	defer o.u.mu.Unlock()
	if o.u.closed {
		return ErrUnitClosed
	}
	o.u.events = append(o.u.events, record)
	return nil
}
