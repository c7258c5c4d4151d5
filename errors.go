package devicehub

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Configuration errors: the bridge executable is unusable until fixed, so
// every device operation fails fast with one of these instead of a
// per-command failure.
var (
	ErrBridgeNotFound     = errors.New("bridge executable not found")
	ErrBridgeProbeTimeout = errors.New("bridge version probe timed out")
)

// Lock and admission conflicts. Expected contention, surfaced to the user,
// never logged as a system error.
var (
	ErrAlreadyLocked = errors.New("device is already locked")
	ErrNotOwner      = errors.New("device is locked by another user")
	ErrDeviceLocked  = errors.New("device is locked by another user, cannot submit execution")
	ErrDeviceOffline = errors.New("device is offline")
)

// State and lookup errors.
var (
	ErrInvalidState              = errors.New("execution is not in a stoppable state")
	ErrDeviceNotFound            = errors.New("device not found")
	ErrExecutionNotFound         = errors.New("execution not found")
	ErrUnsupportedConnectionKind = errors.New("operation only supported for remote devices")
)

// CommandTimeoutError indicates a bridge command exceeded its deadline and
// was killed. Recoverable: the caller may retry.
type CommandTimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("bridge command %q timed out after %s", e.Command, e.Timeout)
}

// CommandFailedError indicates a bridge command exited non-zero or produced
// an unusable reply. Stderr carries the diagnostic text verbatim.
type CommandFailedError struct {
	Command string
	Stderr  string
}

func (e *CommandFailedError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("bridge command %q failed", e.Command)
	}
	return fmt.Sprintf("bridge command %q failed: %s", e.Command, e.Stderr)
}

// IsCommandTimeout reports whether err is a per-command timeout.
func IsCommandTimeout(err error) bool {
	var te *CommandTimeoutError
	return errors.As(err, &te)
}
