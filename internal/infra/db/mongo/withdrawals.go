package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rentledger/internal/app/uow"
	"rentledger/internal/domain/payout"
	"rentledger/internal/domain/shared/money"
)

type WithdrawalRepository struct {
	col *mongo.Collection
}

func NewWithdrawalRepository(ctx context.Context, db *mongo.Database) (*WithdrawalRepository, error) {
	col := db.Collection("withdrawals")
	idx := mongo.IndexModel{Keys: bson.D{{Key: "state", Value: 1}, {Key: "updatedAt", Value: 1}}}
	if _, err := col.Indexes().CreateOne(ctx, idx); err != nil {
		return nil, err
	}
	return &WithdrawalRepository{col: col}, nil
}

func (r *WithdrawalRepository) ByID(ctx context.Context, id payout.WithdrawalID) (*payout.Withdrawal, error) {
	var doc withdrawalDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, payout.ErrNotFound
		}
		return nil, mapErr(err)
	}
	return doc.toAggregate(), nil
}

// Save inserts a new withdrawal (Version 0) or replaces it at the version it was read at.
func (r *WithdrawalRepository) Save(ctx context.Context, w *payout.Withdrawal) error {
	doc := newWithdrawalDocument(w)
	doc.Version = w.Version + 1
	if w.Version == 0 {
		if _, err := r.col.InsertOne(ctx, doc); err != nil {
			return mapErr(err)
		}
		w.Version = doc.Version
		return nil
	}
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": doc.ID, "version": w.Version}, doc)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: withdrawal %s", uow.ErrConflict, w.ID)
	}
	w.Version = doc.Version
	return nil
}

func (r *WithdrawalRepository) ListReserved(ctx context.Context, before time.Time, limit int) ([]*payout.Withdrawal, error) {
	filter := bson.M{"state": string(payout.StateReserved), "updatedAt": bson.M{"$lt": before.UnixMilli()}}
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, mapErr(err)
	}
	defer cur.Close(ctx)
	var out []*payout.Withdrawal
	for cur.Next(ctx) {
		var doc withdrawalDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toAggregate())
	}
	return out, mapErr(cur.Err())
}

// withdrawalDocument keeps amounts in minor units of Currency.
type withdrawalDocument struct {
	ID            string `bson:"_id"`
	UserID        string `bson:"userId"`
	Amount        int64  `bson:"amount"`
	Fee           int64  `bson:"fee"`
	Total         int64  `bson:"total"`
	Currency      string `bson:"currency"`
	Destination   string `bson:"destination"`
	State         string `bson:"state"`
	TransferID    string `bson:"transferId,omitempty"`
	FailureReason string `bson:"failureReason,omitempty"`
	CreatedAt     int64  `bson:"createdAt"`
	UpdatedAt     int64  `bson:"updatedAt"`
	Version       int64  `bson:"version"`
}

func newWithdrawalDocument(w *payout.Withdrawal) withdrawalDocument {
	return withdrawalDocument{
		ID:            string(w.ID),
		UserID:        w.UserID,
		Amount:        w.Amount.Amount,
		Fee:           w.Fee.Amount,
		Total:         w.Total.Amount,
		Currency:      w.Amount.Currency,
		Destination:   w.Destination,
		State:         string(w.State),
		TransferID:    w.TransferID,
		FailureReason: w.FailureReason,
		CreatedAt:     w.CreatedAt.UnixMilli(),
		UpdatedAt:     w.UpdatedAt.UnixMilli(),
		Version:       w.Version,
	}
}

func (d withdrawalDocument) toAggregate() *payout.Withdrawal {
	return &payout.Withdrawal{
		ID:            payout.WithdrawalID(d.ID),
		UserID:        d.UserID,
		Amount:        money.Money{Amount: d.Amount, Currency: d.Currency},
		Fee:           money.Money{Amount: d.Fee, Currency: d.Currency},
		Total:         money.Money{Amount: d.Total, Currency: d.Currency},
		Destination:   d.Destination,
		State:         payout.State(d.State),
		TransferID:    d.TransferID,
		FailureReason: d.FailureReason,
		CreatedAt:     timestampToTime(d.CreatedAt),
		UpdatedAt:     timestampToTime(d.UpdatedAt),
		Version:       d.Version,
	}
}
