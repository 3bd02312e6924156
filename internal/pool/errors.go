package pool

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by a pool operation is a *PoolError
// carrying one of these, so callers can match with errors.Is(err, ErrDeletionTimeout).
// New only reports a missing gateway as a plain error.
var (
	ErrUnsupportedConfiguration = errors.New("unsupported configuration")
	ErrAllocationExhausted      = errors.New("no simulator available")
	ErrInflationMismatch        = errors.New("created simulator missing from device set")
	ErrListFailure              = errors.New("failed to list simulators")
	ErrDeletionTimeout          = errors.New("timed out waiting for simulator deletion")
	ErrCreateFailure            = errors.New("failed to create simulator")
	ErrKillFailure              = errors.New("failed to kill simulator")
	ErrEraseFailure             = errors.New("failed to erase simulator")
	ErrDeleteFailure            = errors.New("failed to delete simulator")
	ErrSetupFailure             = errors.New("failed to set up simulator")
	ErrPreconditionFailure      = errors.New("pool precondition failed")
)

// PoolError is a pool failure of a given kind with an optional cause
type PoolError struct {
	Kind error
	UDID string
	Err  error
}

func (e *PoolError) Error() string {
	msg := e.Kind.Error()
	if e.UDID != "" {
		msg = fmt.Sprintf("%s %s", msg, e.UDID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As
func (e *PoolError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, udid string, cause error) *PoolError {
	return &PoolError{Kind: kind, UDID: udid, Err: cause}
}

// Kind returns the pool error kind of err, or nil when err did not come from the pool
func Kind(err error) error {
	var pe *PoolError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return nil
}
