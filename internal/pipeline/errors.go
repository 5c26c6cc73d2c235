package pipeline

import (
	"errors"
	"fmt"
)

// ErrRecoveryExhausted is wrapped by FatalError.
var ErrRecoveryExhausted = errors.New("recovery attempts exhausted")

// FatalError is returned by Run when consecutive transport faults exceed
// the configured number of recovery attempts.
type FatalError struct {
	Binding  string
	Attempts int
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("binding %s: %v after %d attempts: %v", e.Binding, ErrRecoveryExhausted, e.Attempts, e.Err)
}

func (e *FatalError) Unwrap() []error {
	return []error{ErrRecoveryExhausted, e.Err}
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
