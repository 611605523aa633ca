package commands

import (
	"errors"
	"fmt"
)

var (
	ErrHandlerNotFound = errors.New("commands: handler not found")
	ErrInvalidCommand  = errors.New("commands: invalid command for handler")
	ErrResultType      = errors.New("commands: result type mismatch")
	ErrNilBus          = errors.New("commands: nil bus")

	// ErrInvalidInput marks requests rejected before the ledger or the gateway was touched.
	ErrInvalidInput = errors.New("invalid input")
)

// Invalid wraps ErrInvalidInput with a message that is safe to return to the caller.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
