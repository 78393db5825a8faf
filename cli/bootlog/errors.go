package bootlog

import (
	"fmt"
	"time"
)

// FatalReason tells why an instance can never become reachable.
type FatalReason string

const (
	ReasonUnreadableFilesystem FatalReason = "unreadable filesystem"
	ReasonMissingSSHD          FatalReason = "missing sshd"
)

// FatalBootError is returned when the boot log shows a condition that no
// amount of waiting will fix.
type FatalBootError struct {
	Reason FatalReason
	Detail string
}

// Error implements the error interface.
func (e *FatalBootError) Error() string {
	return fmt.Sprintf("instance failed to boot (%s): %s", e.Reason, e.Detail)
}

// TimeoutError is returned when the instance did not become ready in time.
type TimeoutError struct {
	Elapsed time.Duration
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s elapsed (timeout %s) waiting for the log entry saying sshd is listening",
		e.Elapsed.Round(time.Second), e.Timeout)
}
