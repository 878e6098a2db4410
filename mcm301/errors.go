package mcm301

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrClosed             = errors.New("controller is closed")
	ErrNotFound           = errors.New("controller not found")
	ErrChannelUnavailable = errors.New("channel not available")
	ErrOutOfLimits        = errors.New("move out of limits")
	ErrNotEnabled         = errors.New("channel not enabled")
	ErrStageMismatch      = errors.New("attached stages do not match configuration")
	ErrMissingLimits      = errors.New("min and max travel must be specified")
	ErrVerifyFailed       = errors.New("read back does not match written value")
)

// ChannelError represents an error from a specific channel.
type ChannelError struct {
	Channel int    // Channel index (0-2)
	Slot    byte   // Controller slot (4-6)
	Op      string // Operation that failed
	Err     error  // Underlying error
}

func (e *ChannelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("channel %d (slot %d) %s failed: %v", e.Channel, e.Slot, e.Op, e.Err)
	}
	return fmt.Sprintf("channel %d (slot %d) %s failed", e.Channel, e.Slot, e.Op)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// IsOutOfLimits returns true if a move was refused because the target lies
// outside the travel limits.
func IsOutOfLimits(err error) bool {
	return errors.Is(err, ErrOutOfLimits)
}

// IsNotEnabled returns true if a move was refused on a disabled channel.
func IsNotEnabled(err error) bool {
	return errors.Is(err, ErrNotEnabled)
}

// GetChannelError extracts a ChannelError from an error chain, if present.
func GetChannelError(err error) (*ChannelError, bool) {
	var chErr *ChannelError
	if errors.As(err, &chErr) {
		return chErr, true
	}
	return nil, false
}
