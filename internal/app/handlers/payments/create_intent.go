package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"rentledger/internal/app/commands"
	"rentledger/internal/app/handlers/support"
	"rentledger/internal/app/policies"
	"rentledger/internal/app/uow"
	"rentledger/internal/domain/rental"
	"rentledger/internal/domain/shared/money"
)

const createIntentKey = "payments.create_intent"

// ErrPaymentInitiationFailed reports that the gateway did not create the intent. Nothing was
// written to the ledger.
var ErrPaymentInitiationFailed = errors.New("payments: payment initiation failed")

// Metadata keys attached to every intent; settlement reads them back.
const (
	MetadataUserID   = "userId"
	MetadataRentalID = "rentalId"
)

type CreateIntentCommand struct {
	Amount   decimal.Decimal
	UserID   string `validate:"required,max=128"`
	RentalID string `validate:"required,max=128"`
}

func (CreateIntentCommand) Key() string { return createIntentKey }

type CreateIntentResult struct {
	IntentID     string
	ClientSecret string
	Amount       money.Money
}

// CreateIntentHandler issues a payment intent for a rental. It never writes to the ledger; when
// a unit of work factory is configured the rental is checked first so paid rentals are not
// charged twice.
type CreateIntentHandler struct {
	Gateway    policies.IntentGateway
	Currency   string
	UoWFactory uow.UoWFactory
	Logger     *slog.Logger
}

func (h *CreateIntentHandler) Handle(ctx context.Context, cmd CreateIntentCommand) (CreateIntentResult, error) {
	amount, err := money.FromMajor(cmd.Amount, h.Currency)
	if err != nil {
		return CreateIntentResult{}, fmt.Errorf("%w: amount: %w", commands.ErrInvalidInput, err)
	}
	if !amount.IsPositive() {
		return CreateIntentResult{}, commands.Invalid("amount must be a positive number")
	}
	userID := strings.TrimSpace(cmd.UserID)
	rentalID := strings.TrimSpace(cmd.RentalID)
	if userID == "" || rentalID == "" {
		return CreateIntentResult{}, commands.Invalid("userId and rentalId are required")
	}

	if h.UoWFactory != nil {
		paid, err := support.ReadOnly(ctx, h.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) (bool, error) {
			r, err := unit.Rentals().ByID(ctx, rental.ID(rentalID))
			if err != nil {
				return false, err
			}
			return r.IsPaid(), nil
		})
		if err != nil {
			return CreateIntentResult{}, err
		}
		if paid {
			return CreateIntentResult{}, commands.Invalid("rental %s is already paid", rentalID)
		}
	}

	intent, err := h.Gateway.CreateIntent(ctx, policies.IntentRequest{
		Amount: amount,
		Metadata: map[string]string{
			MetadataUserID:   userID,
			MetadataRentalID: rentalID,
		},
	})
	if err != nil {
		support.Logger(h.Logger).Error("payment intent creation failed", "rental_id", rentalID, "user_id", userID, "error", err)
		return CreateIntentResult{}, fmt.Errorf("%w: %v", ErrPaymentInitiationFailed, err)
	}
	support.Logger(h.Logger).Info("payment intent created", "rental_id", rentalID, "intent_id", intent.ID, "amount", amount.String())
	return CreateIntentResult{IntentID: intent.ID, ClientSecret: intent.ClientSecret, Amount: amount}, nil
}

var _ commands.Handler[CreateIntentCommand, CreateIntentResult] = (*CreateIntentHandler)(nil)
