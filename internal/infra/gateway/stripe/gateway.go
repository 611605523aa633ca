package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"rentledger/internal/app/policies"
	"rentledger/internal/domain/shared/money"
)

const onboardingLinkType = "account_onboarding"

var ErrConfigMissing = errors.New("stripe: secret key and webhook secret are required")

type Config struct {
	SecretKey      string
	WebhookSecret  string
	AccountCountry string
}

// Gateway implements every payment gateway port on top of the Stripe API.
type Gateway struct {
	api           *client.API
	webhookSecret string
	country       string
}

func New(cfg Config) (*Gateway, error) {
	if cfg.SecretKey == "" || cfg.WebhookSecret == "" {
		return nil, ErrConfigMissing
	}
	country := cfg.AccountCountry
	if country == "" {
		country = "DE"
	}
	return &Gateway{
		api:           client.New(cfg.SecretKey, nil),
		webhookSecret: cfg.WebhookSecret,
		country:       country,
	}, nil
}

func (g *Gateway) CreateIntent(ctx context.Context, req policies.IntentRequest) (policies.Intent, error) {
	params := &stripeapi.PaymentIntentParams{
		Amount:   stripeapi.Int64(req.Amount.Amount),
		Currency: stripeapi.String(strings.ToLower(req.Amount.Currency)),
		Metadata: req.Metadata,
	}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return policies.Intent{}, classify(err)
	}
	return policies.Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (g *Gateway) CreateTransfer(ctx context.Context, req policies.TransferRequest) (policies.Transfer, error) {
	params := &stripeapi.TransferParams{
		Amount:      stripeapi.Int64(req.Amount.Amount),
		Currency:    stripeapi.String(strings.ToLower(req.Amount.Currency)),
		Destination: stripeapi.String(req.Destination),
		Metadata:    req.Metadata,
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	tr, err := g.api.Transfers.New(params)
	if err != nil {
		return policies.Transfer{}, classify(err)
	}
	return policies.Transfer{ID: tr.ID}, nil
}

func (g *Gateway) CreateAccount(ctx context.Context, req policies.AccountRequest) (string, error) {
	params := &stripeapi.AccountParams{
		Type:         stripeapi.String(string(stripeapi.AccountTypeExpress)),
		Country:      stripeapi.String(g.country),
		BusinessType: stripeapi.String(string(stripeapi.AccountBusinessTypeIndividual)),
		Capabilities: &stripeapi.AccountCapabilitiesParams{
			CardPayments: &stripeapi.AccountCapabilitiesCardPaymentsParams{Requested: stripeapi.Bool(true)},
			Transfers:    &stripeapi.AccountCapabilitiesTransfersParams{Requested: stripeapi.Bool(true)},
		},
		Metadata: map[string]string{"userId": req.UserID},
	}
	if req.Email != "" {
		params.Email = stripeapi.String(req.Email)
	}
	params.Context = ctx
	acct, err := g.api.Accounts.New(params)
	if err != nil {
		return "", classify(err)
	}
	return acct.ID, nil
}

func (g *Gateway) CreateOnboardingLink(ctx context.Context, req policies.LinkRequest) (string, error) {
	params := &stripeapi.AccountLinkParams{
		Account:    stripeapi.String(req.AccountID),
		RefreshURL: stripeapi.String(req.RefreshURL),
		ReturnURL:  stripeapi.String(req.ReturnURL),
		Type:       stripeapi.String(onboardingLinkType),
	}
	params.Context = ctx
	link, err := g.api.AccountLinks.New(params)
	if err != nil {
		return "", classify(err)
	}
	return link.URL, nil
}

// Verify checks the Stripe-Signature header over the raw payload and decodes the event object.
func (g *Gateway) Verify(payload []byte, signature string) (policies.GatewayEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return policies.GatewayEvent{}, err
	}
	out := policies.GatewayEvent{ID: event.ID, Type: string(event.Type), Livemode: event.Livemode}
	if event.Data == nil {
		return out, nil
	}
	switch policies.EventKind(event.Type) {
	case policies.EventIntentSucceeded:
		var pi stripeapi.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return policies.GatewayEvent{}, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		amount := pi.AmountReceived
		if amount == 0 {
			amount = pi.Amount
		}
		settled, err := money.New(amount, string(pi.Currency))
		if err != nil {
			return policies.GatewayEvent{}, fmt.Errorf("stripe: payment intent %s: %w", pi.ID, err)
		}
		out.Intent = &policies.IntentSnapshot{ID: pi.ID, Amount: settled, Metadata: pi.Metadata}
	case policies.EventAccountUpdated:
		var acct stripeapi.Account
		if err := json.Unmarshal(event.Data.Raw, &acct); err != nil {
			return policies.GatewayEvent{}, fmt.Errorf("stripe: decode account: %w", err)
		}
		out.Account = &policies.AccountSnapshot{
			ID:             acct.ID,
			PayoutsEnabled: acct.PayoutsEnabled,
			ChargesEnabled: acct.ChargesEnabled,
			Metadata:       acct.Metadata,
		}
	}
	return out, nil
}

// classify marks definite client-side rejections with policies.ErrGatewayRejected. Rate limits,
// conflicts and server errors stay unclassified because the request may still succeed later.
func classify(err error) error {
	var serr *stripeapi.Error
	if errors.As(err, &serr) {
		code := serr.HTTPStatusCode
		if code >= http.StatusBadRequest && code < http.StatusInternalServerError &&
			code != http.StatusConflict && code != http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s", policies.ErrGatewayRejected, serr.Msg)
		}
	}
	return err
}

var (
	_ policies.IntentGateway  = (*Gateway)(nil)
	_ policies.PayoutGateway  = (*Gateway)(nil)
	_ policies.AccountGateway = (*Gateway)(nil)
	_ policies.EventVerifier  = (*Gateway)(nil)
)
