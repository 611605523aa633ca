package postgres

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"rentledger/internal/app/uow"
)

func TestMapErrRetriesLostRaces(t *testing.T) {
	for _, code := range []string{codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation} {
		err := mapErr(&pgconn.PgError{Code: code, Message: "race"})
		assert.ErrorIs(t, err, uow.ErrConflict, code)
	}
	notNull := &pgconn.PgError{Code: "23502", Message: "null value"}
	assert.Equal(t, error(notNull), mapErr(notNull))
	assert.NoError(t, mapErr(nil))
	assert.False(t, errors.Is(mapErr(errors.New("io")), uow.ErrConflict))
}

func TestReadWriteUnitsLockRows(t *testing.T) {
	assert.Equal(t, " FOR UPDATE", (&Unit{lock: true}).forUpdate())
	assert.Empty(t, (&Unit{}).forUpdate())
}

func TestSchemaDefinesLedgerTables(t *testing.T) {
	for _, table := range []string{"users", "rentals", "withdrawals", "ledger_inbox", "ledger_outbox", "ledger_idempotency"} {
		assert.True(t, strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" "), table)
	}
}

func TestNullTime(t *testing.T) {
	assert.Nil(t, nullTime(time.Time{}))
	now := time.Now()
	assert.Equal(t, now, *nullTime(now))
}
