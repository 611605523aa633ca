package withdrawals

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentledger/internal/app/handlers/settlement"
	"rentledger/internal/app/policies"
	"rentledger/internal/domain/rental"
	"rentledger/internal/domain/shared/money"
	"rentledger/internal/domain/user"
)

func TestSettlementsRacingWithdrawalsKeepBalanceExact(t *testing.T) {
	const (
		initial     = 1000
		settlements = 8
		paid        = 2000
		withdrawals = 12
		total       = 2000 // 19.50 plus the 0.50 fee
	)
	f := newFixture(t, initial)
	f.handler.MaxAttempts = 200
	settle := &settlement.ProcessEventHandler{
		Verifier:    f.gateway,
		UoWFactory:  f.store,
		Fees:        policies.MustFeeSchedule(50, "EUR"),
		MaxAttempts: 200,
	}
	events := make([]settlement.ProcessEventCommand, settlements)
	for i := range events {
		id := fmt.Sprintf("r-%d", i)
		f.store.PutRental(rental.Rental{ID: rental.ID(id), OwnerID: "owner"})
		payload, sig, err := f.gateway.IntentSucceededEvent(fmt.Sprintf("evt_%d", i), "pi_"+id, money.Must(paid, "EUR"),
			map[string]string{"rentalId": id, "userId": "renter"})
		require.NoError(t, err)
		events[i] = settlement.ProcessEventCommand{Payload: payload, Signature: sig}
	}

	stop := make(chan struct{})
	sampled := make(chan int64, 1)
	go func() {
		lowest := int64(initial)
		for {
			select {
			case <-stop:
				sampled <- lowest
				return
			default:
			}
			if u, ok := f.store.User("owner"); ok && u.Balance.Amount < lowest {
				lowest = u.Balance.Amount
			}
		}
	}()

	var credited, debited, succeeded atomic.Int64
	var wg sync.WaitGroup
	ctx := context.Background()
	for _, ev := range events {
		wg.Add(1)
		go func(ev settlement.ProcessEventCommand) {
			defer wg.Done()
			res, err := settle.Handle(ctx, ev)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, settlement.OutcomeApplied, res.Outcome)
			assert.GreaterOrEqual(t, res.NewBalance.Amount, int64(0))
			credited.Add(res.Credited.Amount)
		}(ev)
	}
	for i := 0; i < withdrawals; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.handler.Handle(ctx, withdraw("19.50"))
			switch {
			case err == nil:
				assert.GreaterOrEqual(t, res.NewBalance.Amount, int64(0))
				debited.Add(res.Amount.Amount + res.Fee.Amount)
				succeeded.Add(1)
			case errors.Is(err, user.ErrInsufficientBalance):
			default:
				t.Errorf("unexpected withdrawal error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(stop)

	assert.Equal(t, int64(settlements*(paid-50)), credited.Load())
	assert.Equal(t, succeeded.Load()*total, debited.Load())
	assert.Equal(t, int64(initial)+credited.Load()-debited.Load(), f.balance(t))
	assert.GreaterOrEqual(t, f.balance(t), int64(0))
	assert.GreaterOrEqual(t, <-sampled, int64(0))
	assert.Equal(t, int(succeeded.Load()), f.gateway.Calls("transfer"))
	for i := 0; i < settlements; i++ {
		r, _ := f.store.Rental(rental.ID(fmt.Sprintf("r-%d", i)))
		assert.Equal(t, rental.StatusPaid, r.PaymentStatus)
	}
}
