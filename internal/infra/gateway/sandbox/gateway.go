package sandbox

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76/webhook"

	"rentledger/internal/app/policies"
	"rentledger/internal/domain/shared/money"
)

var (
	ErrSignatureMissing = errors.New("sandbox: signature header missing")
	ErrSignatureInvalid = errors.New("sandbox: signature mismatch")
	ErrSignatureExpired = errors.New("sandbox: signature timestamp outside tolerance")
	ErrUnknownIntent    = errors.New("sandbox: unknown payment intent")
	ErrUnknownAccount   = errors.New("sandbox: unknown account")
)

const defaultTolerance = 5 * time.Minute

// Gateway is an offline payment gateway for development and tests. It keeps intents, transfers
// and accounts in memory and signs its notifications with the Stripe webhook scheme, so the
// settlement path sees the same header format in both modes.
type Gateway struct {
	Secret    string
	Tolerance time.Duration
	Clock     func() time.Time
	// TransferFunc, when set, decides the outcome of each new transfer.
	TransferFunc func(req policies.TransferRequest) error
	// BaseURL prefixes onboarding links.
	BaseURL string

	mu        sync.Mutex
	intents   map[string]intent
	transfers map[string]policies.Transfer
	accounts  map[string]account
	calls     map[string]int
}

type intent struct {
	id       string
	amount   money.Money
	metadata map[string]string
}

type account struct {
	id     string
	userID string
	email  string
}

func New(secret string) *Gateway {
	return &Gateway{
		Secret:    secret,
		intents:   make(map[string]intent),
		transfers: make(map[string]policies.Transfer),
		accounts:  make(map[string]account),
		calls:     make(map[string]int),
	}
}

func (g *Gateway) CreateIntent(ctx context.Context, req policies.IntentRequest) (policies.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["intent"]++
	id := "pi_" + shortID()
	meta := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}
	g.intents[id] = intent{id: id, amount: req.Amount, metadata: meta}
	return policies.Intent{ID: id, ClientSecret: id + "_secret_" + shortID()}, nil
}

// CreateTransfer honours idempotency keys: a repeated key returns the first transfer.
func (g *Gateway) CreateTransfer(ctx context.Context, req policies.TransferRequest) (policies.Transfer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["transfer"]++
	if req.IdempotencyKey != "" {
		if tr, ok := g.transfers[req.IdempotencyKey]; ok {
			return tr, nil
		}
	}
	if g.TransferFunc != nil {
		if err := g.TransferFunc(req); err != nil {
			return policies.Transfer{}, err
		}
	}
	if !req.Amount.IsPositive() || req.Destination == "" {
		return policies.Transfer{}, fmt.Errorf("%w: invalid transfer", policies.ErrGatewayRejected)
	}
	tr := policies.Transfer{ID: "tr_" + shortID()}
	key := req.IdempotencyKey
	if key == "" {
		key = tr.ID
	}
	g.transfers[key] = tr
	return tr, nil
}

func (g *Gateway) CreateAccount(ctx context.Context, req policies.AccountRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["account"]++
	id := "acct_" + shortID()
	g.accounts[id] = account{id: id, userID: req.UserID, email: req.Email}
	return id, nil
}

func (g *Gateway) CreateOnboardingLink(ctx context.Context, req policies.LinkRequest) (string, error) {
	g.mu.Lock()
	_, ok := g.accounts[req.AccountID]
	g.calls["link"]++
	g.mu.Unlock()
	if !ok && !strings.HasPrefix(req.AccountID, "acct_") {
		return "", fmt.Errorf("%w: %s", ErrUnknownAccount, req.AccountID)
	}
	base := strings.TrimRight(g.BaseURL, "/")
	if base == "" {
		base = "https://connect.sandbox.invalid"
	}
	q := url.Values{}
	q.Set("refresh_url", req.RefreshURL)
	q.Set("return_url", req.ReturnURL)
	return base + "/setup/" + url.PathEscape(req.AccountID) + "?" + q.Encode(), nil
}

// Calls reports how often an operation ("intent", "transfer", "account", "link") was invoked.
func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

type eventEnvelope struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Created  int64           `json:"created"`
	Livemode bool            `json:"livemode"`
	Data     json.RawMessage `json:"data"`
}

type intentObject struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

type accountObject struct {
	ID             string            `json:"id"`
	PayoutsEnabled bool              `json:"payouts_enabled"`
	ChargesEnabled bool              `json:"charges_enabled"`
	Metadata       map[string]string `json:"metadata"`
}

// SucceedIntent emits a signed payment_intent.succeeded notification for a created intent.
func (g *Gateway) SucceedIntent(intentID string) (payload []byte, signature string, err error) {
	g.mu.Lock()
	in, ok := g.intents[intentID]
	g.mu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownIntent, intentID)
	}
	return g.IntentSucceededEvent("evt_"+shortID(), in.id, in.amount, in.metadata)
}

// IntentSucceededEvent builds a signed notification for an arbitrary intent.
func (g *Gateway) IntentSucceededEvent(eventID, intentID string, amount money.Money, metadata map[string]string) ([]byte, string, error) {
	obj := intentObject{
		ID:             intentID,
		Amount:         amount.Amount,
		AmountReceived: amount.Amount,
		Currency:       strings.ToLower(amount.Currency),
		Metadata:       metadata,
	}
	return g.signedEvent(eventID, string(policies.EventIntentSucceeded), obj)
}

// AccountUpdatedEvent builds a signed account.updated notification.
func (g *Gateway) AccountUpdatedEvent(eventID, accountID string, payouts, charges bool, metadata map[string]string) ([]byte, string, error) {
	obj := accountObject{ID: accountID, PayoutsEnabled: payouts, ChargesEnabled: charges, Metadata: metadata}
	return g.signedEvent(eventID, string(policies.EventAccountUpdated), obj)
}

func (g *Gateway) signedEvent(eventID, eventType string, obj any) ([]byte, string, error) {
	data, err := json.Marshal(map[string]any{"object": obj})
	if err != nil {
		return nil, "", err
	}
	now := g.now()
	payload, err := json.Marshal(eventEnvelope{ID: eventID, Type: eventType, Created: now.Unix(), Data: data})
	if err != nil {
		return nil, "", err
	}
	return payload, g.Sign(payload, now), nil
}

// Sign returns the signature header for payload at time t, in the gateway's "t=..,v1=.." form.
func (g *Gateway) Sign(payload []byte, t time.Time) string {
	mac := webhook.ComputeSignature(t, payload, g.Secret)
	return "t=" + strconv.FormatInt(t.Unix(), 10) + ",v1=" + hex.EncodeToString(mac)
}

// Verify authenticates payload against the signature header and decodes the event. Signatures
// older than Tolerance are rejected.
func (g *Gateway) Verify(payload []byte, signature string) (policies.GatewayEvent, error) {
	if strings.TrimSpace(signature) == "" {
		return policies.GatewayEvent{}, ErrSignatureMissing
	}
	tolerance := g.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	switch err := webhook.ValidatePayloadWithTolerance(payload, signature, g.Secret, tolerance); {
	case err == nil:
	case errors.Is(err, webhook.ErrTooOld):
		return policies.GatewayEvent{}, ErrSignatureExpired
	case errors.Is(err, webhook.ErrNotSigned):
		return policies.GatewayEvent{}, ErrSignatureMissing
	default:
		return policies.GatewayEvent{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return decode(payload)
}

func decode(payload []byte) (policies.GatewayEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return policies.GatewayEvent{}, fmt.Errorf("sandbox: decode event: %w", err)
	}
	out := policies.GatewayEvent{ID: env.ID, Type: env.Type, Livemode: env.Livemode}
	switch policies.EventKind(env.Type) {
	case policies.EventIntentSucceeded:
		var data struct {
			Object intentObject `json:"object"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return policies.GatewayEvent{}, fmt.Errorf("sandbox: decode intent: %w", err)
		}
		amount := data.Object.AmountReceived
		if amount == 0 {
			amount = data.Object.Amount
		}
		settled, err := money.New(amount, data.Object.Currency)
		if err != nil {
			return policies.GatewayEvent{}, err
		}
		out.Intent = &policies.IntentSnapshot{ID: data.Object.ID, Amount: settled, Metadata: data.Object.Metadata}
	case policies.EventAccountUpdated:
		var data struct {
			Object accountObject `json:"object"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return policies.GatewayEvent{}, fmt.Errorf("sandbox: decode account: %w", err)
		}
		out.Account = &policies.AccountSnapshot{
			ID:             data.Object.ID,
			PayoutsEnabled: data.Object.PayoutsEnabled,
			ChargesEnabled: data.Object.ChargesEnabled,
			Metadata:       data.Object.Metadata,
		}
	}
	return out, nil
}

func (g *Gateway) now() time.Time {
	if g.Clock != nil {
		return g.Clock()
	}
	return time.Now()
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

var (
	_ policies.IntentGateway  = (*Gateway)(nil)
	_ policies.PayoutGateway  = (*Gateway)(nil)
	_ policies.AccountGateway = (*Gateway)(nil)
	_ policies.EventVerifier  = (*Gateway)(nil)
)
