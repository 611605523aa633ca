package saga

import (
	"context"
	"errors"
	"fmt"
)

// Step is one phase of a saga over shared state S. Compensate undoes a successful Execute and
// may be nil for steps with nothing to undo.
type Step[S any] struct {
	Name       string
	Execute    func(ctx context.Context, state *S) error
	Compensate func(ctx context.Context, state *S) error
}

// Saga runs steps in order. When a step fails, every earlier step is compensated in reverse
// order.
type Saga[S any] struct {
	Name  string
	Steps []Step[S]
}

// Failure describes an aborted saga. Err is the step error; CompensationErr is set when undoing
// an earlier step also failed, which leaves state that needs manual repair.
type Failure struct {
	Saga            string
	Step            string
	Err             error
	Compensated     []string
	CompensationErr error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("saga %s: step %s: %v", f.Saga, f.Step, f.Err)
	if f.CompensationErr != nil {
		msg += fmt.Sprintf(" (compensation failed: %v)", f.CompensationErr)
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Run executes the saga against state.
func (s Saga[S]) Run(ctx context.Context, state *S) error {
	for i, step := range s.Steps {
		if step.Execute == nil {
			continue
		}
		err := step.Execute(ctx, state)
		if err == nil {
			continue
		}
		failure := &Failure{Saga: s.Name, Step: step.Name, Err: err}
		for j := i - 1; j >= 0; j-- {
			prev := s.Steps[j]
			if prev.Compensate == nil {
				continue
			}
			// Compensation must not be cut short by the caller going away.
			if cerr := prev.Compensate(context.WithoutCancel(ctx), state); cerr != nil {
				failure.CompensationErr = errors.Join(failure.CompensationErr, fmt.Errorf("%s: %w", prev.Name, cerr))
				continue
			}
			failure.Compensated = append(failure.Compensated, prev.Name)
		}
		return failure
	}
	return nil
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
