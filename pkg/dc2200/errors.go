package dc2200

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	// ErrConnection means the command channel could not be opened or kept.
	ErrConnection = errors.New("dc2200: connection error")
	// ErrProtocol means the instrument rejected a write, a query timed out,
	// or a reply could not be parsed.
	ErrProtocol = errors.New("dc2200: protocol error")
	// ErrValidation means a value violates a safety bound. It is never
	// resolved by clamping.
	ErrValidation = errors.New("dc2200: validation error")
)

// CommandError records which command failed and why.
type CommandError struct {
	Kind    error
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Command, e.Err)
}

func (e *CommandError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func protocolError(cmd string, err error) error {
	return &CommandError{Kind: ErrProtocol, Command: cmd, Err: err}
}

func validationError(format string, args ...any) error {
	return &CommandError{Kind: ErrValidation, Err: fmt.Errorf(format, args...)}
}
