package tunnel

import (
	"fmt"
	"strings"
	"time"
)

// PortInUseError is returned when the local port is bound by another process.
type PortInUseError struct {
	Port int
	Err  error
}

func (e *PortInUseError) Error() string {
	return fmt.Sprintf("local port %d is already in use, "+
		"find the process holding it with `lsof -i tcp:%d`", e.Port, e.Port)
}

func (e *PortInUseError) Unwrap() error {
	return e.Err
}

// UnexpectedTerminationError is returned when the tunnel process exits
// before the local port starts accepting connections.
type UnexpectedTerminationError struct {
	Name     string
	ExitCode int
	// LogTail contains the last lines of the tunnel log.
	LogTail []string
}

func (e *UnexpectedTerminationError) Error() string {
	msg := fmt.Sprintf("tunnel %q terminated unexpectedly with exit code %d",
		e.Name, e.ExitCode)
	if len(e.LogTail) > 0 {
		msg += ", last log lines:\n" + strings.Join(e.LogTail, "\n")
	}
	return msg
}

// HealthTimeoutError is returned when the tunnel port does not start
// accepting connections in time. The tunnel process is terminated.
type HealthTimeoutError struct {
	Name    string
	Port    int
	Timeout time.Duration
}

func (e *HealthTimeoutError) Error() string {
	return fmt.Sprintf("tunnel %q did not start accepting connections on port %d within %s",
		e.Name, e.Port, e.Timeout)
}

// StopTimeoutError is returned when the tunnel process survives SIGTERM
// longer than the stop timeout.
type StopTimeoutError struct {
	Name    string
	PID     int
	Timeout time.Duration
}

func (e *StopTimeoutError) Error() string {
	return fmt.Sprintf("tunnel %q (PID %d) did not stop within %s", e.Name, e.PID, e.Timeout)
}
