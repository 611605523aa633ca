package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rentledger/internal/app/middleware"
)

type IdempotencyStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func NewIdempotencyStore(pool *pgxpool.Pool, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, ttl: ttl}
}

// Get ignores records older than the TTL; Save overwrites them.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (middleware.IdempotencyRecord, bool, error) {
	rec := middleware.IdempotencyRecord{Key: key}
	var createdAt time.Time
	err := s.pool.QueryRow(ctx,
		"SELECT payload, occurred_at, created_at FROM ledger_idempotency WHERE key = $1", key,
	).Scan(&rec.Payload, &rec.OccurredAt, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return middleware.IdempotencyRecord{}, false, nil
		}
		return middleware.IdempotencyRecord{}, false, err
	}
	if s.ttl > 0 && time.Since(createdAt) > s.ttl {
		return middleware.IdempotencyRecord{}, false, nil
	}
	return rec, true, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, rec middleware.IdempotencyRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_idempotency (key, payload, occurred_at, created_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, occurred_at = EXCLUDED.occurred_at, created_at = now()`,
		rec.Key, rec.Payload, rec.OccurredAt,
	)
	return err
}

var _ middleware.IdempotencyStore = (*IdempotencyStore)(nil)
