package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"rentledger/internal/app/commands"
	"rentledger/internal/app/handlers/support"
	"rentledger/internal/app/outbox"
	"rentledger/internal/app/policies"
	"rentledger/internal/app/uow"
	"rentledger/internal/domain/user"
)

const linkAccountKey = "accounts.link"

var (
	ErrAccountCreationFailed = errors.New("accounts: payout account creation failed")
	ErrOnboardingLinkFailed  = errors.New("accounts: onboarding link creation failed")
)

type LinkAccountCommand struct {
	UserID string `validate:"required,max=128"`
}

func (LinkAccountCommand) Key() string { return linkAccountKey }

type LinkAccountResult struct {
	AccountID string
	URL       string
	Created   bool
}

// LinkAccountHandler makes sure a user has exactly one payout account and returns a fresh
// onboarding link for it. The account id is stored with a compare-and-set: when two first-time
// calls race, the first stored id wins and the loser's account is left unused.
type LinkAccountHandler struct {
	UoWFactory      uow.UoWFactory
	Accounts        policies.AccountGateway
	FrontendBaseURL string
	Encoder         outbox.EventEncoder
	Clock           func() time.Time
	Logger          *slog.Logger
	MaxAttempts     int
}

func (h *LinkAccountHandler) Handle(ctx context.Context, cmd LinkAccountCommand) (LinkAccountResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return LinkAccountResult{}, commands.Invalid("userId is required")
	}
	logger := support.Logger(h.Logger).With("user_id", userID)

	current, err := support.ReadOnly(ctx, h.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) (*user.User, error) {
		return unit.Users().ByID(ctx, user.ID(userID))
	})
	if err != nil {
		return LinkAccountResult{}, err
	}

	res := LinkAccountResult{AccountID: current.PayoutAccountID}
	if res.AccountID == "" {
		created, err := h.Accounts.CreateAccount(ctx, policies.AccountRequest{UserID: userID, Email: current.Email})
		if err != nil {
			logger.Error("payout account creation failed", "error", err)
			return LinkAccountResult{}, fmt.Errorf("%w: %v", ErrAccountCreationFailed, err)
		}
		kept, err := h.store(ctx, userID, created)
		if err != nil {
			return LinkAccountResult{}, err
		}
		if kept != created {
			logger.Warn("payout account linked concurrently, created account left unused", "account_id", kept, "orphan_account_id", created)
		} else {
			res.Created = true
			logger.Info("payout account linked", "account_id", created)
		}
		res.AccountID = kept
	}

	link, err := h.Accounts.CreateOnboardingLink(ctx, policies.LinkRequest{
		AccountID:  res.AccountID,
		RefreshURL: h.refreshURL(),
		ReturnURL:  h.returnURL(res.AccountID),
	})
	if err != nil {
		logger.Error("onboarding link creation failed", "account_id", res.AccountID, "error", err)
		return LinkAccountResult{}, fmt.Errorf("%w: %v", ErrOnboardingLinkFailed, err)
	}
	res.URL = link
	return res, nil
}

// store sets the payout account unless one is already on file and returns the id that is.
func (h *LinkAccountHandler) store(ctx context.Context, userID, accountID string) (string, error) {
	var kept string
	err := uow.Run(ctx, h.UoWFactory, uow.TxOptions{MaxAttempts: h.MaxAttempts}, func(ctx context.Context, unit uow.UnitOfWork) error {
		u, err := unit.Users().ByID(ctx, user.ID(userID))
		if err != nil {
			return err
		}
		linked, err := u.LinkPayoutAccount(accountID, support.Now(h.Clock))
		if errors.Is(err, user.ErrPayoutAccountAlreadyLinked) {
			kept = u.PayoutAccountID
			return nil
		}
		if err != nil {
			return err
		}
		kept = u.PayoutAccountID
		if !linked {
			return nil
		}
		if err := unit.Users().Save(ctx, u); err != nil {
			return err
		}
		return outbox.Record(ctx, unit.Outbox(), h.Encoder, u.Drain())
	})
	return kept, err
}

func (h *LinkAccountHandler) refreshURL() string {
	return h.base() + "/wallet?refresh=true"
}

func (h *LinkAccountHandler) returnURL(accountID string) string {
	return h.base() + "/wallet?success=true&accountId=" + url.QueryEscape(accountID)
}

func (h *LinkAccountHandler) base() string {
	return strings.TrimRight(h.FrontendBaseURL, "/")
}

var _ commands.Handler[LinkAccountCommand, LinkAccountResult] = (*LinkAccountHandler)(nil)
