package commands

import "context"

// Command is a ledger mutation. Key selects the handler and names the operation in logs and
// metrics, so it must be constant per type.
type Command interface {
	Key() string
}

type Handler[C Command, R any] interface {
	Handle(ctx context.Context, cmd C) (R, error)
}

// HandlerFunc lets a plain function serve as a Handler.
type HandlerFunc[C Command, R any] func(ctx context.Context, cmd C) (R, error)

func (f HandlerFunc[C, R]) Handle(ctx context.Context, cmd C) (R, error) { return f(ctx, cmd) }

// Bus is the untyped dispatch surface shared by the registry and every middleware.
type Bus interface {
	Dispatch(ctx context.Context, cmd Command) (any, error)
}

// Dispatch sends cmd through bus and asserts the handler's result back to R. A nil result
// (for example a replayed empty response) yields the zero R.
func Dispatch[C Command, R any](ctx context.Context, bus Bus, cmd C) (R, error) {
	var out R
	if bus == nil {
		return out, ErrNilBus
	}
	raw, err := bus.Dispatch(ctx, cmd)
	switch {
	case err != nil:
		return out, err
	case raw == nil:
		return out, nil
	}
	typed, ok := raw.(R)
	if !ok {
		return out, ErrResultType
	}
	return typed, nil
}
