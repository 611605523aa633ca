package uow

import "context"

type ctxKey struct{}

// ContextInjector is implemented by units whose repositories find the transaction through the
// context (Mongo sessions, pgx transactions).
type ContextInjector interface {
	InjectContext(ctx context.Context) context.Context
}

// Bind returns a context carrying the unit and, when the unit needs it, its driver transaction.
func Bind(ctx context.Context, unit UnitOfWork) context.Context {
	if injector, ok := unit.(ContextInjector); ok {
		ctx = injector.InjectContext(ctx)
	}
	return context.WithValue(ctx, ctxKey{}, unit)
}

// FromContext retrieves a unit of work from context if present.
func FromContext(ctx context.Context) (UnitOfWork, bool) {
	unit, ok := ctx.Value(ctxKey{}).(UnitOfWork)
	return unit, ok
}
