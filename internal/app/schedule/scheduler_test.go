package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTickerRunsUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	job := JobFunc{JobName: "count", Fn: func(context.Context) error {
		if runs.Add(1) >= 3 {
			cancel()
		}
		return errors.New("keeps going")
	}}

	err := Ticker{}.Every(ctx, time.Millisecond, job)
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, runs.Load(), int32(3))
}

func TestTickerDisabledForZeroInterval(t *testing.T) {
	job := JobFunc{JobName: "never", Fn: func(context.Context) error {
		t.Fatal("job must not run")
		return nil
	}}
	assert.NoError(t, Ticker{}.Every(context.Background(), 0, job))
}
