package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rentledger/internal/app/commands"
	"rentledger/internal/app/handlers/support"
	"rentledger/internal/app/outbox"
	"rentledger/internal/app/policies"
	"rentledger/internal/app/uow"
	"rentledger/internal/domain/rental"
	"rentledger/internal/domain/shared/events"
	"rentledger/internal/domain/shared/money"
	"rentledger/internal/domain/user"
)

const processEventKey = "settlement.process_event"

var (
	// ErrSignatureInvalid rejects notifications that fail authentication. Nothing was changed.
	ErrSignatureInvalid = errors.New("settlement: signature verification failed")
	// ErrCurrencyMismatch is returned for intents settled in a currency other than the ledger's.
	ErrCurrencyMismatch = errors.New("settlement: intent currency does not match ledger currency")
)

// Metadata keys read from gateway objects. The account key has a legacy spelling.
const (
	metadataRentalID     = "rentalId"
	metadataUserID       = "userId"
	metadataLegacyUserID = "yourAppUserId"
)

const archiveTimeout = 5 * time.Second

type Outcome string

const (
	OutcomeApplied       Outcome = "applied"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeIgnored       Outcome = "ignored"
	OutcomeAccountSynced Outcome = "account_synced"
)

type ProcessEventCommand struct {
	Payload   []byte `validate:"required"`
	Signature string `validate:"required"`
}

func (ProcessEventCommand) Key() string { return processEventKey }

type ProcessEventResult struct {
	EventID    string
	EventType  string
	Outcome    Outcome
	RentalID   string
	OwnerID    string
	Credited   money.Money
	NewBalance money.Money
}

// ProcessEventHandler applies verified gateway notifications to the ledger. A settled intent
// marks its rental paid and credits the owner with amount minus the platform fee in one unit of
// work; every failure after authentication is returned so the gateway redelivers.
type ProcessEventHandler struct {
	Verifier    policies.EventVerifier
	UoWFactory  uow.UoWFactory
	Fees        policies.FeeSchedule
	Archive     policies.EventArchive
	Encoder     outbox.EventEncoder
	Clock       func() time.Time
	Logger      *slog.Logger
	Outcomes    support.OutcomeCounter
	MaxAttempts int
}

func (h *ProcessEventHandler) Handle(ctx context.Context, cmd ProcessEventCommand) (ProcessEventResult, error) {
	ev, err := h.Verifier.Verify(cmd.Payload, cmd.Signature)
	if err != nil {
		support.Logger(h.Logger).Warn("webhook rejected", "error", err)
		support.Count(h.Outcomes, "rejected")
		return ProcessEventResult{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	h.archive(ctx, ev.ID, cmd.Payload)

	var res ProcessEventResult
	switch policies.EventKind(ev.Type) {
	case policies.EventIntentSucceeded:
		res, err = h.settle(ctx, ev)
	case policies.EventAccountUpdated:
		res, err = h.syncAccount(ctx, ev)
	default:
		res = ProcessEventResult{Outcome: OutcomeIgnored}
	}
	res.EventID, res.EventType = ev.ID, ev.Type
	if err != nil {
		support.Count(h.Outcomes, "failed")
		support.Logger(h.Logger).Error("webhook processing failed", "event_id", ev.ID, "event_type", ev.Type, "error", err)
		return res, err
	}
	support.Count(h.Outcomes, string(res.Outcome))
	return res, nil
}

func (h *ProcessEventHandler) settle(ctx context.Context, ev policies.GatewayEvent) (ProcessEventResult, error) {
	logger := support.Logger(h.Logger).With("event_id", ev.ID)
	intent := ev.Intent
	if intent == nil {
		logger.Warn("settlement event without payment intent")
		return ProcessEventResult{Outcome: OutcomeIgnored}, nil
	}
	rentalID := strings.TrimSpace(intent.Metadata[metadataRentalID])
	if rentalID == "" {
		logger.Warn("payment intent without rental metadata", "intent_id", intent.ID)
		return ProcessEventResult{Outcome: OutcomeIgnored}, nil
	}
	fee := h.Fees.PlatformFee()
	if intent.Amount.Currency != fee.Currency {
		return ProcessEventResult{RentalID: rentalID}, fmt.Errorf("%w: got %s want %s", ErrCurrencyMismatch, intent.Amount.Currency, fee.Currency)
	}

	var res ProcessEventResult
	err := uow.Run(ctx, h.UoWFactory, uow.TxOptions{MaxAttempts: h.MaxAttempts}, func(ctx context.Context, unit uow.UnitOfWork) error {
		res = ProcessEventResult{RentalID: rentalID}
		if err := unit.Inbox().MarkProcessed(ctx, ev.ID, ev.Type); err != nil {
			if errors.Is(err, uow.ErrAlreadyProcessed) {
				res.Outcome = OutcomeDuplicate
				return nil
			}
			return err
		}
		r, err := unit.Rentals().ByID(ctx, rental.ID(rentalID))
		if err != nil {
			return fmt.Errorf("load rental %s: %w", rentalID, err)
		}
		if r.IsPaid() {
			res.Outcome = OutcomeDuplicate
			return nil
		}
		ownerID, err := r.Owner()
		if err != nil {
			return fmt.Errorf("rental %s: %w", rentalID, err)
		}
		owner, err := unit.Users().ByID(ctx, user.ID(ownerID))
		if err != nil {
			return fmt.Errorf("load owner %s of rental %s: %w", ownerID, rentalID, err)
		}
		now := support.Now(h.Clock)
		if err := r.MarkPaid(intent.ID, intent.Amount, now); err != nil {
			return err
		}
		net, err := owner.ApplySettlement(rentalID, intent.Amount, fee, now)
		if err != nil {
			return err
		}
		if err := unit.Rentals().Save(ctx, r); err != nil {
			return err
		}
		if err := unit.Users().Save(ctx, owner); err != nil {
			return err
		}
		if err := outbox.Record(ctx, unit.Outbox(), h.Encoder, collect(r.Drain(), owner.Drain())); err != nil {
			return err
		}
		res.Outcome = OutcomeApplied
		res.OwnerID = ownerID
		res.Credited = net
		res.NewBalance = owner.Balance
		return nil
	})
	if err != nil {
		return res, err
	}
	switch res.Outcome {
	case OutcomeApplied:
		logger.Info("settlement applied", "rental_id", rentalID, "owner_id", res.OwnerID, "credited", res.Credited.String(), "balance", res.NewBalance.String())
		if !res.Credited.IsPositive() {
			logger.Warn("settlement amount did not cover the platform fee", "rental_id", rentalID, "credited", res.Credited.String())
		}
	case OutcomeDuplicate:
		logger.Info("settlement already applied", "rental_id", rentalID)
	}
	return res, nil
}

func (h *ProcessEventHandler) syncAccount(ctx context.Context, ev policies.GatewayEvent) (ProcessEventResult, error) {
	logger := support.Logger(h.Logger).With("event_id", ev.ID)
	acct := ev.Account
	if acct == nil {
		return ProcessEventResult{Outcome: OutcomeIgnored}, nil
	}
	userID := strings.TrimSpace(acct.Metadata[metadataUserID])
	if userID == "" {
		userID = strings.TrimSpace(acct.Metadata[metadataLegacyUserID])
	}
	if userID == "" {
		logger.Warn("account update without user metadata", "account_id", acct.ID)
		return ProcessEventResult{Outcome: OutcomeIgnored}, nil
	}

	outcome := OutcomeIgnored
	err := uow.Run(ctx, h.UoWFactory, uow.TxOptions{MaxAttempts: h.MaxAttempts}, func(ctx context.Context, unit uow.UnitOfWork) error {
		outcome = OutcomeIgnored
		u, err := unit.Users().ByID(ctx, user.ID(userID))
		if errors.Is(err, user.ErrNotFound) {
			logger.Warn("account update for unknown user", "user_id", userID, "account_id", acct.ID)
			return nil
		}
		if err != nil {
			return err
		}
		err = u.SyncCapabilities(acct.ID, acct.PayoutsEnabled, acct.ChargesEnabled, support.Now(h.Clock))
		if errors.Is(err, user.ErrPayoutAccountAlreadyLinked) {
			logger.Warn("account update for foreign payout account", "user_id", userID, "account_id", acct.ID, "linked_account_id", u.PayoutAccountID)
			return nil
		}
		if err != nil {
			return err
		}
		pending := u.Drain()
		if len(pending) == 0 {
			return nil
		}
		if err := unit.Users().Save(ctx, u); err != nil {
			return err
		}
		outcome = OutcomeAccountSynced
		return outbox.Record(ctx, unit.Outbox(), h.Encoder, pending)
	})
	if err != nil {
		return ProcessEventResult{}, err
	}
	if outcome == OutcomeAccountSynced {
		logger.Info("payout account synced", "user_id", userID, "account_id", acct.ID, "payouts_enabled", acct.PayoutsEnabled, "charges_enabled", acct.ChargesEnabled)
	}
	return ProcessEventResult{Outcome: outcome}, nil
}

func (h *ProcessEventHandler) archive(ctx context.Context, eventID string, payload []byte) {
	if h.Archive == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	if err := h.Archive.Store(actx, eventID, payload); err != nil {
		support.Logger(h.Logger).Warn("webhook archive failed", "event_id", eventID, "error", err)
	}
}

func collect(groups ...[]events.DomainEvent) []events.DomainEvent {
	var out []events.DomainEvent
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var _ commands.Handler[ProcessEventCommand, ProcessEventResult] = (*ProcessEventHandler)(nil)
