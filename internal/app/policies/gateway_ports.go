package policies

import (
	"context"
	"errors"

	"rentledger/internal/domain/shared/money"
)

// ErrGatewayRejected marks a definite rejection by the payment gateway: the request reached the
// gateway and it refused to act. Transport errors are reported as-is.
var ErrGatewayRejected = errors.New("gateway: request rejected")

type IntentRequest struct {
	Amount   money.Money
	Metadata map[string]string
}

type Intent struct {
	ID           string
	ClientSecret string
}

// IntentGateway creates payment intents that renters authorize on their client.
type IntentGateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
}

type TransferRequest struct {
	Amount      money.Money
	Destination string
	// IdempotencyKey makes a retried transfer return the original one instead of paying twice.
	IdempotencyKey string
	Metadata       map[string]string
}

type Transfer struct {
	ID string
}

// PayoutGateway moves funds from the platform to a connected payout account.
type PayoutGateway interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (Transfer, error)
}

type AccountRequest struct {
	UserID string
	Email  string
}

type LinkRequest struct {
	AccountID  string
	RefreshURL string
	ReturnURL  string
}

// AccountGateway creates payout accounts and their hosted onboarding links.
type AccountGateway interface {
	CreateAccount(ctx context.Context, req AccountRequest) (string, error)
	CreateOnboardingLink(ctx context.Context, req LinkRequest) (string, error)
}

// EventKind is the subset of gateway notifications the ledger reacts to.
type EventKind string

const (
	EventIntentSucceeded EventKind = "payment_intent.succeeded"
	EventAccountUpdated  EventKind = "account.updated"
)

// GatewayEvent is a verified notification reduced to the fields settlement needs.
type GatewayEvent struct {
	ID       string
	Type     string
	Intent   *IntentSnapshot
	Account  *AccountSnapshot
	Livemode bool
}

type IntentSnapshot struct {
	ID       string
	Amount   money.Money
	Metadata map[string]string
}

type AccountSnapshot struct {
	ID             string
	PayoutsEnabled bool
	ChargesEnabled bool
	Metadata       map[string]string
}

// EventVerifier authenticates a raw notification body against its signature header. It must
// work on the exact bytes received.
type EventVerifier interface {
	Verify(payload []byte, signature string) (GatewayEvent, error)
}

// EventArchive keeps a copy of verified notifications for audit. Archiving is best effort.
type EventArchive interface {
	Store(ctx context.Context, eventID string, payload []byte) error
}
