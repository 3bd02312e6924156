package cli

import "strconv"

// CLIError is a structured error used for consistent NDJSON/text emission.
type CLIError struct {
	Code    string
	Message string
	Hint    string
}

func (e *CLIError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// ExitError carries the exit status of a command run by exec so main can
// exit with the same status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return "command exited with status " + strconv.Itoa(e.Code)
}
