package memory

import (
	"context"
	"time"

	appoutbox "rentledger/internal/app/outbox"
	infraoutbox "rentledger/internal/infra/outbox"
)

type outboxEntry struct {
	record      appoutbox.EventRecord
	state       string
	attempts    int
	nextAttempt time.Time
	lastError   string
}

// Claim hands the oldest due record to the relay worker.
func (s *Store) Claim(ctx context.Context, workerID string) (*infraoutbox.Claimed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, e := range s.outbox {
		if e.state == infraoutbox.StateSent || e.state == infraoutbox.StateClaimed {
			continue
		}
		if e.nextAttempt.After(now) {
			continue
		}
		e.state = infraoutbox.StateClaimed
		return &infraoutbox.Claimed{Record: e.record, Attempts: e.attempts}, nil
	}
	return nil, nil
}

func (s *Store) MarkSent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.entryLocked(id); e != nil {
		e.state = infraoutbox.StateSent
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.entryLocked(id); e != nil {
		e.state = infraoutbox.StateFailed
		e.attempts++
		e.nextAttempt = next
		e.lastError = errMsg
	}
	return nil
}

func (s *Store) entryLocked(id string) *outboxEntry {
	for _, e := range s.outbox {
		if e.record.ID == id {
			return e
		}
	}
	return nil
}

var _ infraoutbox.Source = (*Store)(nil)
