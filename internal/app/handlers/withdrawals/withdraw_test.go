package withdrawals

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentledger/internal/app/commands"
	"rentledger/internal/app/policies"
	"rentledger/internal/app/uow"
	"rentledger/internal/domain/payout"
	"rentledger/internal/domain/shared/money"
	"rentledger/internal/domain/user"
	"rentledger/internal/infra/gateway/sandbox"
	"rentledger/internal/infra/storage/memory"
)

type fixture struct {
	store   *memory.Store
	gateway *sandbox.Gateway
	handler *WithdrawHandler
}

func newFixture(t *testing.T, balance int64) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.PutUser(user.User{ID: "owner", PayoutAccountID: "acct_1", Balance: money.Must(balance, "EUR")})
	gw := sandbox.New("whsec_test")
	return &fixture{
		store:   store,
		gateway: gw,
		handler: &WithdrawHandler{
			UoWFactory:  store,
			Payouts:     gw,
			Fees:        policies.MustFeeSchedule(50, "EUR"),
			MaxAttempts: 100,
		},
	}
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	u, ok := f.store.User("owner")
	require.True(t, ok)
	return u.Balance.Amount
}

func withdraw(amount string) WithdrawCommand {
	return WithdrawCommand{Amount: decimal.RequireFromString(amount), UserID: "owner", DestinationAccountID: "acct_1"}
}

func TestWithdrawExactBalanceMinusFeeLeavesZero(t *testing.T) {
	f := newFixture(t, 1000)
	res, err := f.handler.Handle(context.Background(), withdraw("9.50"))
	require.NoError(t, err)

	assert.NotEmpty(t, res.TransferID)
	assert.True(t, res.NewBalance.IsZero())
	assert.Equal(t, int64(0), f.balance(t))

	w, ok := f.store.Withdrawal(payout.WithdrawalID(res.WithdrawalID))
	require.True(t, ok)
	assert.Equal(t, payout.StateCompleted, w.State)
	assert.Equal(t, res.TransferID, w.TransferID)
	assert.Equal(t, money.Must(1000, "EUR"), w.Total)
}

func TestWithdrawOneCentOverIsInsufficient(t *testing.T) {
	f := newFixture(t, 1000)
	_, err := f.handler.Handle(context.Background(), withdraw("9.51"))
	assert.ErrorIs(t, err, user.ErrInsufficientBalance)
	assert.Equal(t, int64(1000), f.balance(t))
	assert.Zero(t, f.gateway.Calls("transfer"), "no transfer without a reservation")
}

func TestWithdrawRejectsForeignDestination(t *testing.T) {
	f := newFixture(t, 1000)
	cmd := withdraw("1.00")
	cmd.DestinationAccountID = "acct_attacker"
	_, err := f.handler.Handle(context.Background(), cmd)
	assert.ErrorIs(t, err, user.ErrPayoutDestinationMismatch)
	assert.Equal(t, int64(1000), f.balance(t))
}

func TestWithdrawWithoutPayoutAccount(t *testing.T) {
	f := newFixture(t, 1000)
	f.store.PutUser(user.User{ID: "fresh", Balance: money.Must(1000, "EUR")})
	cmd := withdraw("1.00")
	cmd.UserID = "fresh"
	_, err := f.handler.Handle(context.Background(), cmd)
	assert.ErrorIs(t, err, user.ErrPayoutAccountMissing)
}

func TestWithdrawRejectsNonPositiveAmounts(t *testing.T) {
	f := newFixture(t, 1000)
	for _, amount := range []string{"0", "-1", "0.004"} {
		_, err := f.handler.Handle(context.Background(), withdraw(amount))
		assert.ErrorIs(t, err, commands.ErrInvalidInput, amount)
	}
}

func TestWithdrawUnknownUser(t *testing.T) {
	f := newFixture(t, 1000)
	cmd := withdraw("1.00")
	cmd.UserID = "nobody"
	_, err := f.handler.Handle(context.Background(), cmd)
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func TestFailedTransferRestoresBalance(t *testing.T) {
	f := newFixture(t, 2000)
	f.gateway.TransferFunc = func(policies.TransferRequest) error {
		return fmt.Errorf("%w: account restricted", policies.ErrGatewayRejected)
	}
	outcomes := &counter{}
	f.handler.Outcomes = outcomes
	f.handler.NewID = func() string { return "w-fail" }

	_, err := f.handler.Handle(context.Background(), withdraw("10.00"))
	assert.ErrorIs(t, err, ErrPayoutFailed)
	assert.Equal(t, int64(2000), f.balance(t))

	w, ok := f.store.Withdrawal("w-fail")
	require.True(t, ok)
	assert.Equal(t, payout.StateCompensated, w.State)
	assert.Equal(t, money.Must(1050, "EUR"), w.Total)
	assert.Contains(t, w.FailureReason, "account restricted")
	assert.Equal(t, 1, outcomes.get("payout_failed"))
}

func TestTransferIsRequestedWithWithdrawalIdempotencyKey(t *testing.T) {
	f := newFixture(t, 2000)
	var seen policies.TransferRequest
	f.gateway.TransferFunc = func(req policies.TransferRequest) error {
		seen = req
		return nil
	}
	f.handler.NewID = func() string { return "w-42" }

	_, err := f.handler.Handle(context.Background(), withdraw("5.00"))
	require.NoError(t, err)
	assert.Equal(t, "w-42", seen.IdempotencyKey)
	assert.Equal(t, money.Must(500, "EUR"), seen.Amount)
	assert.Equal(t, "acct_1", seen.Destination)
	assert.Equal(t, map[string]string{MetadataUserID: "owner", MetadataWithdrawalID: "w-42"}, seen.Metadata)
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	f := newFixture(t, 5000)
	const attempts = 12
	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.handler.Handle(context.Background(), withdraw("9.50"))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, user.ErrInsufficientBalance):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), ok.Load())
	assert.Equal(t, int64(0), f.balance(t))
	assert.Equal(t, 5, f.gateway.Calls("transfer"))
}

// failingFactory lets reserve commit and then breaks every later unit, so the release after a
// failed transfer cannot be written.
type failingFactory struct {
	uow.UoWFactory
	begun atomic.Int32
}

func (f *failingFactory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f.begun.Add(1) > 1 {
		return nil, errors.New("store unavailable")
	}
	return f.UoWFactory.Begin(ctx, opts)
}

func TestCompensationFailureIsReportedAsPayoutFailed(t *testing.T) {
	f := newFixture(t, 2000)
	f.gateway.TransferFunc = func(policies.TransferRequest) error { return errors.New("timeout") }
	outcomes := &counter{}
	f.handler.Outcomes = outcomes
	f.handler.UoWFactory = &failingFactory{UoWFactory: f.store}

	_, err := f.handler.Handle(context.Background(), withdraw("10.00"))
	assert.ErrorIs(t, err, ErrPayoutFailed)
	assert.Equal(t, int64(950), f.balance(t), "reservation stays until repaired")
	assert.Equal(t, 1, outcomes.get("compensation_failed"))
}

func TestIdempotencyKeyIsScopedToUser(t *testing.T) {
	cmd := withdraw("1.00")
	assert.Empty(t, cmd.IdempotencyKey())
	cmd.ClientKey = " abc "
	assert.Equal(t, "owner:abc", cmd.IdempotencyKey())
}

type counter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *counter) Inc(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[outcome]++
}

func (c *counter) get(outcome string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[outcome]
}


func TestWithdrawRejectsAmountBeyondMinorUnitRange(t *testing.T) {
	f := newFixture(t, 1000)
	_, err := f.handler.Handle(context.Background(), withdraw("184467440737095516.66"))
	assert.ErrorIs(t, err, commands.ErrInvalidInput)
	assert.ErrorIs(t, err, money.ErrOutOfRange)
	assert.Equal(t, int64(1000), f.balance(t))
	assert.Zero(t, f.gateway.Calls("transfer"))
}
