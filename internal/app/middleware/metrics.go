package middleware

import (
	"context"
	"time"

	"rentledger/internal/app/commands"
	"rentledger/internal/app/queries"
)

// Outcome labels reported to a Recorder.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Recorder receives one observation per dispatched message.
type Recorder interface {
	ObserveMessage(kind, key, outcome string, elapsed time.Duration)
}

func CommandMetrics(rec Recorder) CommandMiddleware {
	if rec == nil {
		return nil
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			started := time.Now()
			res, err := next.Dispatch(ctx, cmd)
			rec.ObserveMessage("command", cmd.Key(), outcome(err), time.Since(started))
			return res, err
		})
	}
}

func QueryMetrics(rec Recorder) QueryMiddleware {
	if rec == nil {
		return nil
	}
	return func(next queries.Bus) queries.Bus {
		return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			started := time.Now()
			res, err := next.Ask(ctx, q)
			rec.ObserveMessage("query", q.Key(), outcome(err), time.Since(started))
			return res, err
		})
	}
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
