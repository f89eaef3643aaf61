package types

import (
	"errors"
	"fmt"
)

// ErrContractViolation marks invalid enum or input values. These are never
// retried: the run aborts and the error surfaces to the caller.
var ErrContractViolation = errors.New("contract violation")

// ContractViolationf wraps ErrContractViolation with context.
func ContractViolationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrContractViolation, fmt.Sprintf(format, args...))
}

// TransientError wraps a failure that is expected to clear on retry
// (timeouts, rate limits, 5xx). Per-item transient failures degrade that
// item's outcome and never abort the run.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
