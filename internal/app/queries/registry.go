package queries

import (
	"context"
	"errors"
	"fmt"
)

// Query reads ledger state without changing it.
type Query interface {
	Key() string
}

type Handler[Q Query, R any] interface {
	Handle(ctx context.Context, query Q) (R, error)
}

type Bus interface {
	Ask(ctx context.Context, query Query) (any, error)
}

var (
	ErrHandlerNotFound = errors.New("queries: handler not found")
	ErrInvalidQuery    = errors.New("queries: invalid query for handler")
	ErrResultType      = errors.New("queries: result type mismatch")
	ErrNilBus          = errors.New("queries: nil bus")
)

type route func(ctx context.Context, q Query) (any, error)

// Registry is the innermost query bus.
type Registry struct {
	routes map[string]route
}

func NewRegistry() *Registry {
	return &Registry{routes: make(map[string]route)}
}

func (r *Registry) Ask(ctx context.Context, query Query) (any, error) {
	next, ok := r.routes[query.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, query.Key())
	}
	return next(ctx, query)
}

// Register binds handler to the key of Q. A second registration for the same key panics.
func Register[Q Query, R any](r *Registry, handler Handler[Q, R]) {
	if r == nil {
		panic("queries: nil registry")
	}
	var probe Q
	key := probe.Key()
	if key == "" {
		panic("queries: empty key registration")
	}
	if _, taken := r.routes[key]; taken {
		panic("queries: duplicate registration for " + key)
	}
	r.routes[key] = func(ctx context.Context, raw Query) (any, error) {
		q, ok := raw.(Q)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidQuery, key)
		}
		return handler.Handle(ctx, q)
	}
}

// Ask sends query through bus and asserts the result back to R.
func Ask[Q Query, R any](ctx context.Context, bus Bus, query Q) (R, error) {
	var out R
	if bus == nil {
		return out, ErrNilBus
	}
	raw, err := bus.Ask(ctx, query)
	if err != nil {
		return out, err
	}
	typed, ok := raw.(R)
	if !ok {
		return out, ErrResultType
	}
	return typed, nil
}
