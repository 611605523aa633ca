package commands

import (
	"context"
	"fmt"
	"sort"
)

type rawHandler func(ctx context.Context, cmd Command) (any, error)

// Registry is the terminal bus: it routes each command to the handler registered for its key.
type Registry struct {
	handlers map[string]rawHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]rawHandler)}
}

// Dispatch executes the registered handler for the provided command.
func (r *Registry) Dispatch(ctx context.Context, cmd Command) (any, error) {
	h, ok := r.handlers[cmd.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, cmd.Key())
	}
	return h(ctx, cmd)
}

// Keys lists registered command keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Register attaches a typed handler; registering the same key twice panics.
func Register[C Command, R any](r *Registry, handler Handler[C, R]) {
	if r == nil {
		panic("commands: nil registry")
	}
	var probe C
	key := probe.Key()
	if key == "" {
		panic("commands: empty key registration")
	}
	if _, dup := r.handlers[key]; dup {
		panic("commands: duplicate registration for " + key)
	}
	r.handlers[key] = func(ctx context.Context, raw Command) (any, error) {
		cmd, ok := raw.(C)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCommand, key)
		}
		return handler.Handle(ctx, cmd)
	}
}
