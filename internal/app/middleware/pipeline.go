package middleware

import (
	"context"

	"rentledger/internal/app/commands"
	"rentledger/internal/app/queries"
)

type (
	CommandMiddleware func(next commands.Bus) commands.Bus
	QueryMiddleware   func(next queries.Bus) queries.Bus
)

// ChainCommands wraps base so that mws[0] sees a command first. Nil entries are skipped, which
// lets optional layers be listed unconditionally.
func ChainCommands(base commands.Bus, mws ...CommandMiddleware) commands.Bus {
	return chain(base, mws)
}

func ChainQueries(base queries.Bus, mws ...QueryMiddleware) queries.Bus {
	return chain(base, mws)
}

func chain[B any, M ~func(B) B](base B, mws []M) B {
	out := base
	for i := len(mws) - 1; i >= 0; i-- {
		if wrap := (func(B) B)(mws[i]); wrap != nil {
			out = wrap(out)
		}
	}
	return out
}

type commandFunc func(ctx context.Context, cmd commands.Command) (any, error)

func (f commandFunc) Dispatch(ctx context.Context, cmd commands.Command) (any, error) {
	return f(ctx, cmd)
}

type queryFunc func(ctx context.Context, query queries.Query) (any, error)

func (f queryFunc) Ask(ctx context.Context, q queries.Query) (any, error) {
	return f(ctx, q)
}

// Validator rejects malformed messages with an error wrapping commands.ErrInvalidInput.
type Validator interface {
	Validate(ctx context.Context, message any) error
}

// Validation stops malformed commands before any handler, and so before any gateway call.
func Validation(v Validator) CommandMiddleware {
	mustValidator(v)
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			if err := v.Validate(ctx, cmd); err != nil {
				return nil, err
			}
			return next.Dispatch(ctx, cmd)
		})
	}
}

func QueryValidation(v Validator) QueryMiddleware {
	mustValidator(v)
	return func(next queries.Bus) queries.Bus {
		return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			if err := v.Validate(ctx, q); err != nil {
				return nil, err
			}
			return next.Ask(ctx, q)
		})
	}
}

func mustValidator(v Validator) {
	if v == nil {
		panic("middleware: validator required")
	}
}
