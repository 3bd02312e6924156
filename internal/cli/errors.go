package cli

import (
	"errors"
	"fmt"

	"github.com/vburojevic/simpool/internal/history"
	"github.com/vburojevic/simpool/internal/pool"
)

// outputErrorCommon normalizes error emission across commands, respecting
// ndjson vs text formats so callers always get machine-readable failures.
func outputErrorCommon(globals *Globals, code, message string, hint ...string) error {
	cliErr := &CLIError{Code: code, Message: message}
	if len(hint) > 0 {
		cliErr.Hint = hint[0]
	}
	if globals != nil && globals.Format == "ndjson" {
		newEmitter(globals).ErrorWithHint(code, message, cliErr.Hint)
	} else if globals != nil {
		fmt.Fprintf(globals.Stderr, "Error [%s]: %s\n", code, message)
		if cliErr.Hint != "" {
			fmt.Fprintf(globals.Stderr, "Hint: %s\n", cliErr.Hint)
		}
	}
	return cliErr
}

// outputPoolError emits err under the code of its pool error kind
func outputPoolError(globals *Globals, err error) error {
	return outputErrorCommon(globals, errorCode(err), err.Error(), hintForPoolError(err))
}

var kindCodes = []struct {
	kind error
	code string
}{
	{pool.ErrUnsupportedConfiguration, "UNSUPPORTED_CONFIGURATION"},
	{pool.ErrAllocationExhausted, "ALLOCATION_EXHAUSTED"},
	{pool.ErrInflationMismatch, "INFLATION_MISMATCH"},
	{pool.ErrDeletionTimeout, "DELETION_TIMEOUT"},
	{pool.ErrCreateFailure, "CREATE_FAILED"},
	{pool.ErrKillFailure, "KILL_FAILED"},
	{pool.ErrEraseFailure, "ERASE_FAILED"},
	{pool.ErrDeleteFailure, "DELETE_FAILED"},
	{pool.ErrSetupFailure, "SETUP_FAILED"},
	{pool.ErrPreconditionFailure, "PRECONDITION_FAILED"},
	{pool.ErrListFailure, "LIST_FAILED"},
	{history.ErrIncompatible, "HISTORY_INCOMPATIBLE"},
}

// errorCode maps an error to a machine-readable code
func errorCode(err error) string {
	for _, kc := range kindCodes {
		if errors.Is(err, kc.kind) {
			return kc.code
		}
	}
	return "POOL_FAILED"
}
