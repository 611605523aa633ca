package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentledger/internal/app/policies"
	"rentledger/internal/domain/rental"
	"rentledger/internal/domain/shared/money"
	"rentledger/internal/domain/user"
	"rentledger/internal/infra/gateway/sandbox"
	"rentledger/internal/infra/storage/memory"
)

type fixture struct {
	store   *memory.Store
	gateway *sandbox.Gateway
	handler *ProcessEventHandler
	archive *fakeArchive
}

type fakeArchive struct {
	mu  sync.Mutex
	ids []string
	Err error
}

func (a *fakeArchive) Store(_ context.Context, eventID string, _ []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, eventID)
	return a.Err
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

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.PutRental(rental.Rental{ID: "r-1", OwnerID: "owner"})
	store.PutUser(user.User{ID: "owner", Email: "owner@example.com", Balance: money.Must(500, "EUR")})
	gw := sandbox.New("whsec_test")
	archive := &fakeArchive{}
	return &fixture{
		store:   store,
		gateway: gw,
		archive: archive,
		handler: &ProcessEventHandler{
			Verifier:    gw,
			UoWFactory:  store,
			Fees:        policies.MustFeeSchedule(50, "EUR"),
			Archive:     archive,
			MaxAttempts: 100,
		},
	}
}

func (f *fixture) intentEvent(t *testing.T, eventID string, amount int64, metadata map[string]string) ProcessEventCommand {
	t.Helper()
	payload, sig, err := f.gateway.IntentSucceededEvent(eventID, "pi_1", money.Must(amount, "EUR"), metadata)
	require.NoError(t, err)
	return ProcessEventCommand{Payload: payload, Signature: sig}
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	u, ok := f.store.User("owner")
	require.True(t, ok)
	return u.Balance.Amount
}

var rentalMeta = map[string]string{"rentalId": "r-1", "userId": "renter"}

func TestSettlementMarksRentalPaidAndCreditsNetAmount(t *testing.T) {
	f := newFixture(t)
	res, err := f.handler.Handle(context.Background(), f.intentEvent(t, "evt_1", 2000, rentalMeta))
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, money.Must(1950, "EUR"), res.Credited)
	assert.Equal(t, "24.50 EUR", res.NewBalance.String())
	assert.Equal(t, int64(2450), f.balance(t))

	r, _ := f.store.Rental("r-1")
	assert.Equal(t, rental.StatusPaid, r.PaymentStatus)
	assert.Equal(t, "pi_1", r.PaymentIntentID)

	var names []string
	for _, rec := range f.store.Events() {
		names = append(names, rec.Name)
	}
	assert.ElementsMatch(t, []string{"rental.paid", "user.balance_credited"}, names)
	assert.Equal(t, []string{"evt_1"}, f.archive.ids)
}

func TestRedeliveredSettlementIsAcknowledgedWithoutEffect(t *testing.T) {
	f := newFixture(t)
	cmd := f.intentEvent(t, "evt_1", 2000, rentalMeta)
	_, err := f.handler.Handle(context.Background(), cmd)
	require.NoError(t, err)

	again, err := f.handler.Handle(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, again.Outcome)

	// A different event for the already paid rental is caught by the status guard.
	other, err := f.handler.Handle(context.Background(), f.intentEvent(t, "evt_2", 2000, rentalMeta))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, other.Outcome)
	assert.Equal(t, int64(2450), f.balance(t))
}

func TestConcurrentDuplicateSettlementsCreditOnce(t *testing.T) {
	f := newFixture(t)
	const deliveries = 16
	cmds := make([]ProcessEventCommand, deliveries)
	for i := range cmds {
		id := "evt_same"
		if i%2 == 1 {
			id = "evt_other_" + string(rune('a'+i))
		}
		cmds[i] = f.intentEvent(t, id, 2000, rentalMeta)
	}

	var wg sync.WaitGroup
	results := make(chan ProcessEventResult, deliveries)
	for _, cmd := range cmds {
		wg.Add(1)
		go func(cmd ProcessEventCommand) {
			defer wg.Done()
			res, err := f.handler.Handle(context.Background(), cmd)
			assert.NoError(t, err)
			results <- res
		}(cmd)
	}
	wg.Wait()
	close(results)

	applied := 0
	for res := range results {
		if res.Outcome == OutcomeApplied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, int64(2450), f.balance(t))
}

func TestInvalidSignatureIsRejectedWithoutChanges(t *testing.T) {
	f := newFixture(t)
	cmd := f.intentEvent(t, "evt_1", 2000, rentalMeta)
	cmd.Signature = "t=1,v1=deadbeef"

	_, err := f.handler.Handle(context.Background(), cmd)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
	assert.Equal(t, int64(500), f.balance(t))
	assert.Empty(t, f.archive.ids)
}

func TestUnknownRentalIsRetryable(t *testing.T) {
	f := newFixture(t)
	cmd := f.intentEvent(t, "evt_1", 2000, map[string]string{"rentalId": "r-404"})

	_, err := f.handler.Handle(context.Background(), cmd)
	assert.ErrorIs(t, err, rental.ErrNotFound)

	// Once the rental exists the same redelivered event applies.
	f.store.PutRental(rental.Rental{ID: "r-404", OwnerID: "owner"})
	res, err := f.handler.Handle(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
}

func TestMissingOwnerIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.store.PutRental(rental.Rental{ID: "r-2", OwnerID: "ghost"})
	_, err := f.handler.Handle(context.Background(), f.intentEvent(t, "evt_1", 2000, map[string]string{"rentalId": "r-2"}))
	assert.ErrorIs(t, err, user.ErrNotFound)

	r, _ := f.store.Rental("r-2")
	assert.Equal(t, rental.StatusUnpaid, r.PaymentStatus)
}

func TestEventWithoutRentalMetadataIsIgnored(t *testing.T) {
	f := newFixture(t)
	res, err := f.handler.Handle(context.Background(), f.intentEvent(t, "evt_1", 2000, map[string]string{"userId": "renter"}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, int64(500), f.balance(t))
}

func TestForeignCurrencyIsNotApplied(t *testing.T) {
	f := newFixture(t)
	payload, sig, err := f.gateway.IntentSucceededEvent("evt_1", "pi_1", money.Must(2000, "USD"), rentalMeta)
	require.NoError(t, err)

	_, err = f.handler.Handle(context.Background(), ProcessEventCommand{Payload: payload, Signature: sig})
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
	assert.Equal(t, int64(500), f.balance(t))
}

func TestArchiveFailureDoesNotBlockSettlement(t *testing.T) {
	f := newFixture(t)
	f.archive.Err = errors.New("bucket unavailable")
	res, err := f.handler.Handle(context.Background(), f.intentEvent(t, "evt_1", 2000, rentalMeta))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
}

func TestAccountUpdatedSyncsCapabilities(t *testing.T) {
	f := newFixture(t)
	outcomes := &counter{}
	f.handler.Outcomes = outcomes
	payload, sig, err := f.gateway.AccountUpdatedEvent("evt_a", "acct_1", true, false, map[string]string{"yourAppUserId": "owner"})
	require.NoError(t, err)

	res, err := f.handler.Handle(context.Background(), ProcessEventCommand{Payload: payload, Signature: sig})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccountSynced, res.Outcome)

	u, _ := f.store.User("owner")
	assert.Equal(t, "acct_1", u.PayoutAccountID)
	assert.True(t, u.PayoutsEnabled)
	assert.False(t, u.ChargesEnabled)
	assert.Equal(t, 1, outcomes.counts[string(OutcomeAccountSynced)])

	// Replaying the same state changes nothing.
	res, err = f.handler.Handle(context.Background(), ProcessEventCommand{Payload: payload, Signature: sig})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
}

func TestAccountUpdatedForForeignAccountIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.store.PutUser(user.User{ID: "linked", PayoutAccountID: "acct_mine", Balance: money.Zero("EUR")})
	payload, sig, err := f.gateway.AccountUpdatedEvent("evt_b", "acct_other", true, true, map[string]string{"userId": "linked"})
	require.NoError(t, err)

	res, err := f.handler.Handle(context.Background(), ProcessEventCommand{Payload: payload, Signature: sig})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	u, _ := f.store.User("linked")
	assert.Equal(t, "acct_mine", u.PayoutAccountID)
	assert.False(t, u.PayoutsEnabled)
}
