package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"rentledger/internal/app/uow"
)

// Inbox records processed gateway event ids in the caller's transaction. The event id is the
// document _id, so two transactions inserting the same id cannot both commit.
type Inbox struct {
	col *mongo.Collection
}

func NewInbox(db *mongo.Database) *Inbox {
	return &Inbox{col: db.Collection("ledger_inbox")}
}

// MarkProcessed looks the id up before inserting: a duplicate-key error would abort the
// surrounding transaction.
func (i *Inbox) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	err := i.col.FindOne(ctx, bson.M{"_id": eventID}).Err()
	switch {
	case err == nil:
		return uow.ErrAlreadyProcessed
	case !errors.Is(err, mongo.ErrNoDocuments):
		return mapErr(err)
	}
	doc := bson.M{"_id": eventID, "type": eventType, "received_at": time.Now().UTC()}
	if _, err := i.col.InsertOne(ctx, doc); err != nil {
		return mapErr(err)
	}
	return nil
}

var _ uow.Inbox = (*Inbox)(nil)
