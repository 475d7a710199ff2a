package protocol

import (
	"errors"
	"fmt"
)

// Error codes the tracker is known to send that callers branch on.
const (
	CodeUnknownKey  = "unknown_key"
	CodeEmptyFile   = "empty_file"
	CodeClassExists = "class_exists"
)

// CommandError is an ERR line: the tracker understood the request and refused it.
type CommandError struct {
	Code    string // Error token, e.g. "unknown_key"
	Message string // Decoded human-readable message, may be empty
}

func (e *CommandError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tracker error %s", e.Code)
	}
	return fmt.Sprintf("tracker error %s: %s", e.Code, e.Message)
}

// ProtocolError reports a response line that is neither OK nor ERR,
// including the empty line seen when the tracker closes mid-read.
type ProtocolError struct {
	Line   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tracker protocol error: %s: %q", e.Reason, e.Line)
}

// IsCode reports whether err carries a *CommandError with the given code.
func IsCode(err error, code string) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr) && cmdErr.Code == code
}
