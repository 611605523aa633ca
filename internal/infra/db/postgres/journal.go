package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	appoutbox "rentledger/internal/app/outbox"
	"rentledger/internal/app/uow"
	infraoutbox "rentledger/internal/infra/outbox"
)

type inbox struct{ u *Unit }

// MarkProcessed inserts the event id; a concurrent insert of the same id waits for the other
// transaction and then reports it as processed.
func (i inbox) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	tag, err := i.u.tx.Exec(ctx,
		"INSERT INTO ledger_inbox (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return uow.ErrAlreadyProcessed
	}
	return nil
}

type outboxWriter struct{ u *Unit }

func (o outboxWriter) Add(ctx context.Context, rec appoutbox.EventRecord) error {
	headers, err := json.Marshal(rec.Headers)
	if err != nil {
		return err
	}
	_, err = o.u.tx.Exec(ctx,
		"INSERT INTO ledger_outbox (id, name, payload, occurred_at, aggregate, headers) VALUES ($1, $2, $3, $4, $5, $6)",
		rec.ID, rec.Name, rec.Payload, rec.OccurredAt, rec.Aggregate, headers,
	)
	return mapErr(err)
}

// Claim hands the oldest due record to workerID. SKIP LOCKED lets several relays drain the
// table without blocking each other.
func (s *Store) Claim(ctx context.Context, workerID string) (*infraoutbox.Claimed, error) {
	var (
		claimed infraoutbox.Claimed
		headers []byte
	)
	err := s.Pool.QueryRow(ctx, `
		UPDATE ledger_outbox SET state = $1, claimed_by = $2
		WHERE id = (
			SELECT id FROM ledger_outbox
			WHERE state IN ($3, $4) AND next_attempt_at <= now()
			ORDER BY next_attempt_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, name, payload, occurred_at, aggregate, headers, attempts`,
		infraoutbox.StateClaimed, workerID, infraoutbox.StateNew, infraoutbox.StateFailed,
	).Scan(&claimed.Record.ID, &claimed.Record.Name, &claimed.Record.Payload, &claimed.Record.OccurredAt, &claimed.Record.Aggregate, &headers, &claimed.Attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &claimed.Record.Headers); err != nil {
			return nil, err
		}
	}
	return &claimed, nil
}

func (s *Store) MarkSent(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, "UPDATE ledger_outbox SET state = $2, sent_at = now() WHERE id = $1", id, infraoutbox.StateSent)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	_, err := s.Pool.Exec(ctx,
		"UPDATE ledger_outbox SET state = $2, next_attempt_at = $3, last_error = $4, attempts = attempts + 1 WHERE id = $1",
		id, infraoutbox.StateFailed, next, errMsg,
	)
	return err
}

var _ infraoutbox.Source = (*Store)(nil)
