package lib

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrVendorUnavailable = errors.New("mcm301 vendor library not built in (use -tags mcm301)")
	ErrInvalidHandle     = errors.New("invalid handle")
	ErrInvalidSlot       = errors.New("invalid slot")
	ErrNotImplemented    = errors.New("call not implemented")
)

// Return codes used by the Simulator and Mock. The vendor library only
// promises that failures are negative.
const (
	CodeFailed        = -1
	CodeInvalidHandle = -2
	CodeInvalidSlot   = -3
	CodeInvalidArg    = -4
	CodeNoDevice      = -5
)

// CodeError is a negative return code from a command library call.
type CodeError struct {
	Op   string // vendor call name, e.g. "MoveAbsolute"
	Code int
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("%s failed: return code %d", e.Op, e.Code)
}

// Unwrap maps the well-known codes onto sentinel errors.
func (e *CodeError) Unwrap() error {
	switch e.Code {
	case CodeInvalidHandle:
		return ErrInvalidHandle
	case CodeInvalidSlot:
		return ErrInvalidSlot
	}
	return nil
}

// check converts a vendor return code into an error.
func check(op string, rc int) error {
	if rc < 0 {
		return &CodeError{Op: op, Code: rc}
	}
	return nil
}

// GetCodeError extracts a CodeError from an error chain, if present.
func GetCodeError(err error) (*CodeError, bool) {
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr, true
	}
	return nil, false
}
