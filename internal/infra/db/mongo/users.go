package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rentledger/internal/app/uow"
	"rentledger/internal/domain/shared/money"
	"rentledger/internal/domain/user"
)

// ErrLegacyBalance marks a user document whose accountBalance is still a floating-point amount in
// major units. Such documents must be migrated to integer minor units before the ledger can load
// them.
var ErrLegacyBalance = errors.New("mongo: accountBalance is not stored in minor units")

type UserRepository struct {
	col *mongo.Collection
	// currency is assumed for documents that never had a balance written by the ledger.
	currency string
}

func NewUserRepository(db *mongo.Database, currency string) *UserRepository {
	return &UserRepository{col: db.Collection("users"), currency: strings.ToUpper(currency)}
}

func (r *UserRepository) ByID(ctx context.Context, id user.ID) (*user.User, error) {
	var doc userDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, user.ErrNotFound
		}
		return nil, mapErr(err)
	}
	return doc.toAggregate(r.currency), nil
}

// Save updates the ledger fields of the user document if it is still at the version it was read
// at. Profile fields owned by other services are left untouched.
func (r *UserRepository) Save(ctx context.Context, u *user.User) error {
	doc := newUserDocument(u)
	filter := bson.M{"_id": doc.ID, "version": u.Version}
	if u.Version == 0 {
		filter = bson.M{"_id": doc.ID, "version": bson.M{"$in": bson.A{nil, int64(0)}}}
	}
	doc.Version = u.Version + 1
	update := bson.M{"$set": bson.M{
		"email":           doc.Email,
		"payoutAccountId": doc.PayoutAccountID,
		"accountBalance":  doc.Balance,
		"currency":        doc.Currency,
		"payoutsEnabled":  doc.PayoutsEnabled,
		"chargesEnabled":  doc.ChargesEnabled,
		"updatedAt":       doc.UpdatedAt,
		"version":         doc.Version,
	}}
	res, err := r.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return fmt.Errorf("%w: user %s", uow.ErrConflict, u.ID)
	}
	u.Version = doc.Version
	return nil
}

// userDocument stores the balance in minor units.
type userDocument struct {
	ID              string     `bson:"_id"`
	Email           string     `bson:"email,omitempty"`
	PayoutAccountID string     `bson:"payoutAccountId,omitempty"`
	Balance         minorUnits `bson:"accountBalance"`
	Currency        string     `bson:"currency,omitempty"`
	PayoutsEnabled  bool       `bson:"payoutsEnabled"`
	ChargesEnabled  bool       `bson:"chargesEnabled"`
	UpdatedAt       int64      `bson:"updatedAt,omitempty"`
	Version         int64      `bson:"version"`
}

func newUserDocument(u *user.User) userDocument {
	doc := userDocument{
		ID:              string(u.ID),
		Email:           u.Email,
		PayoutAccountID: u.PayoutAccountID,
		Balance:         minorUnits(u.Balance.Amount),
		Currency:        u.Balance.Currency,
		PayoutsEnabled:  u.PayoutsEnabled,
		ChargesEnabled:  u.ChargesEnabled,
		Version:         u.Version,
	}
	if !u.UpdatedAt.IsZero() {
		doc.UpdatedAt = u.UpdatedAt.UnixMilli()
	}
	return doc
}

func (d userDocument) toAggregate(fallbackCurrency string) *user.User {
	if d.Currency == "" {
		d.Currency = fallbackCurrency
	}
	u := &user.User{
		ID:              user.ID(d.ID),
		Email:           d.Email,
		PayoutAccountID: d.PayoutAccountID,
		Balance:         money.Money{Amount: int64(d.Balance), Currency: d.Currency},
		PayoutsEnabled:  d.PayoutsEnabled,
		ChargesEnabled:  d.ChargesEnabled,
		Version:         d.Version,
	}
	if d.UpdatedAt != 0 {
		u.UpdatedAt = timestampToTime(d.UpdatedAt)
	}
	return u
}

// minorUnits decodes only integral BSON numbers. A double would otherwise be truncated or read as
// cents when it holds whole euros.
type minorUnits int64

func (m *minorUnits) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	switch t {
	case bson.TypeInt64:
		*m = minorUnits(raw.Int64())
	case bson.TypeInt32:
		*m = minorUnits(raw.Int32())
	case bson.TypeNull, bson.TypeUndefined:
		*m = 0
	default:
		return fmt.Errorf("%w: got %s", ErrLegacyBalance, t)
	}
	return nil
}
