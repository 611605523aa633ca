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
	"rentledger/internal/domain/rental"
	"rentledger/internal/domain/shared/money"
)

type RentalRepository struct {
	col *mongo.Collection
}

func NewRentalRepository(db *mongo.Database) *RentalRepository {
	return &RentalRepository{col: db.Collection("rentals")}
}

func (r *RentalRepository) ByID(ctx context.Context, id rental.ID) (*rental.Rental, error) {
	var doc rentalDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, rental.ErrNotFound
		}
		return nil, mapErr(err)
	}
	return doc.toAggregate()
}

// Save writes the fields the ledger owns and leaves the rest of the rental document alone.
func (r *RentalRepository) Save(ctx context.Context, rt *rental.Rental) error {
	doc := newRentalDocument(rt)
	filter := bson.M{"_id": doc.ID, "version": rt.Version}
	if rt.Version == 0 {
		filter = bson.M{"_id": doc.ID, "version": bson.M{"$in": bson.A{nil, int64(0)}}}
	}
	doc.Version = rt.Version + 1
	update := bson.M{"$set": bson.M{
		"ownerId":         doc.OwnerID,
		"paymentStatus":   doc.PaymentStatus,
		"paymentIntentId": doc.PaymentIntentID,
		"paidAmount":      doc.PaidAmount,
		"paidCurrency":    doc.PaidCurrency,
		"paidAt":          doc.PaidAt,
		"version":         doc.Version,
	}}
	res, err := r.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return fmt.Errorf("%w: rental %s", uow.ErrConflict, rt.ID)
	}
	rt.Version = doc.Version
	return nil
}

type rentalDocument struct {
	ID              string `bson:"_id"`
	OwnerID         string `bson:"ownerId"`
	PaymentStatus   string `bson:"paymentStatus"`
	PaymentIntentID string `bson:"paymentIntentId,omitempty"`
	PaidAmount      int64  `bson:"paidAmount,omitempty"`
	PaidCurrency    string `bson:"paidCurrency,omitempty"`
	PaidAt          int64  `bson:"paidAt,omitempty"`
	Version         int64  `bson:"version"`
}

func newRentalDocument(r *rental.Rental) rentalDocument {
	doc := rentalDocument{
		ID:              string(r.ID),
		OwnerID:         r.OwnerID,
		PaymentStatus:   string(r.PaymentStatus),
		PaymentIntentID: r.PaymentIntentID,
		PaidAmount:      r.PaidAmount.Amount,
		PaidCurrency:    r.PaidAmount.Currency,
		Version:         r.Version,
	}
	if doc.PaymentStatus == "" {
		doc.PaymentStatus = string(rental.StatusUnpaid)
	}
	if !r.PaidAt.IsZero() {
		doc.PaidAt = r.PaidAt.UnixMilli()
	}
	return doc
}

func (d rentalDocument) toAggregate() (*rental.Rental, error) {
	status, err := rental.ParseStatus(d.PaymentStatus)
	if err != nil {
		return nil, fmt.Errorf("rental %s: %w", d.ID, err)
	}
	agg := &rental.Rental{
		ID:              rental.ID(d.ID),
		OwnerID:         d.OwnerID,
		PaymentStatus:   status,
		PaymentIntentID: d.PaymentIntentID,
		PaidAmount:      money.Money{Amount: d.PaidAmount, Currency: d.PaidCurrency},
		Version:         d.Version,
	}
	if d.PaidAt != 0 {
		agg.PaidAt = timestampToTime(d.PaidAt)
	}
	return agg, nil
}

func timestampToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
