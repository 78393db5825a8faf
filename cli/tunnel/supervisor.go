// Package tunnel supervises the local process forwarding a local TCP port
// to the instance.
package tunnel

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/hermitcrab/hermit/cli/config"
	"github.com/hermitcrab/hermit/cli/process_utils"
	"github.com/hermitcrab/hermit/cli/retry"
	logtail "github.com/hermitcrab/hermit/cli/tail"
	"github.com/hermitcrab/hermit/cli/util"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	dialTimeout         = time.Second
	logTailLines        = 20
)

// CommandBuilder builds the forwarding command of the named tunnel.
type CommandBuilder func(name string, localPort int) *exec.Cmd

// Handle describes a started tunnel.
type Handle struct {
	Name      string
	PID       int
	LocalPort int
	PIDFile   string
	LogFile   string
	SessionID string
}

// Supervisor starts, checks and stops tunnel processes. Tunnel state is kept
// in <dir>/<name>.pid and <dir>/<name>.log.
type Supervisor struct {
	dir      string
	build    CommandBuilder
	opts     config.TunnelOpts
	registry *Registry

	pollInterval time.Duration
}

// NewSupervisor creates a supervisor keeping its files in dir.
func NewSupervisor(dir string, build CommandBuilder, opts config.TunnelOpts) *Supervisor {
	return &Supervisor{
		dir:          dir,
		build:        build,
		opts:         opts,
		registry:     NewRegistry(),
		pollInterval: defaultPollInterval,
	}
}

// PIDFile returns the pid file path of the named tunnel.
func (s *Supervisor) PIDFile(name string) string {
	return filepath.Join(s.dir, name+".pid")
}

// LogFile returns the log file path of the named tunnel.
func (s *Supervisor) LogFile(name string) string {
	return filepath.Join(s.dir, name+".log")
}

// PID returns the recorded pid of the named tunnel.
func (s *Supervisor) PID(name string) (int, error) {
	return process_utils.GetPIDFromFile(s.PIDFile(name))
}

// IsRunning reports whether the pid file of the named tunnel exists and the
// recorded process exists.
func (s *Supervisor) IsRunning(name string) bool {
	s.registry.Reap()
	alive, err := process_utils.ExistsAndRecord(s.PIDFile(name))
	if err != nil {
		log.Debugf("Failed to check tunnel %q: %s", name, err)
	}
	return alive
}

// Start starts the named tunnel forwarding localPort. A tunnel recorded as
// running is stopped first. The start is retried when the tunnel process
// terminates before becoming healthy.
func (s *Supervisor) Start(ctx context.Context, name string, localPort int) (*Handle, error) {
	if s.IsRunning(name) {
		log.Infof("Tunnel %q is already running, restarting it.", name)
		if err := s.Stop(name); err != nil {
			return nil, err
		}
	} else if err := process_utils.RemovePIDFile(s.PIDFile(name)); err != nil {
		return nil, err
	}

	if err := util.CreateDirectory(s.dir, 0750); err != nil {
		return nil, err
	}

	var handle *Handle
	policy := retry.Policy{
		Attempts: s.opts.StartAttempts,
		Delay:    s.opts.StartDelay,
		RetryIf:  retry.OnType[*UnexpectedTerminationError](),
		Name:     fmt.Sprintf("start tunnel %q", name),
	}
	err := retry.Do(ctx, policy, func() error {
		var err error
		handle, err = s.startOnce(ctx, name, localPort)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := process_utils.CreatePIDFile(handle.PIDFile, handle.PID); err != nil {
		s.terminate(handle.PID)
		return nil, fmt.Errorf("failed to record tunnel %q: %w", name, err)
	}
	log.Debugf("Tunnel %q is running with PID %d.", name, handle.PID)
	return handle, nil
}

// checkPortFree verifies that nothing listens on the local port by binding it.
func checkPortFree(port int) error {
	listener, err := net.Listen("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)))
	if err != nil {
		return &PortInUseError{Port: port, Err: err}
	}
	return listener.Close()
}

// isAccepting reports whether the local port accepts connections.
func isAccepting(port int) bool {
	conn, err := net.DialTimeout("tcp",
		net.JoinHostPort("localhost", strconv.Itoa(port)), dialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// openLog opens the tunnel log for appending and writes the session header.
func (s *Supervisor) openLog(name string, localPort int, sessionID string) (*os.File, error) {
	logFile, err := os.OpenFile(s.LogFile(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("failed to open tunnel log: %w", err)
	}
	if _, err := fmt.Fprintf(logFile, "--- hermit tunnel session %s: %s on port %d at %s ---\n",
		sessionID, name, localPort, time.Now().Format(time.RFC3339)); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to write tunnel log: %w", err)
	}
	return logFile, nil
}

func (s *Supervisor) startOnce(ctx context.Context, name string, localPort int) (*Handle, error) {
	if err := checkPortFree(localPort); err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	logFile, err := s.openLog(name, localPort, sessionID)
	if err != nil {
		return nil, err
	}
	defer logFile.Close()

	cmd := s.build(name, localPort)
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	// The tunnel runs in its own process group, detached from terminal signals.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	log.Debugf("Starting tunnel %q: %s", name, cmd.String())
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start tunnel %q: %w", name, err)
	}
	pid := cmd.Process.Pid
	s.registry.Track(pid)

	if err := s.waitHealthy(ctx, name, pid, localPort); err != nil {
		return nil, err
	}

	return &Handle{
		Name:      name,
		PID:       pid,
		LocalPort: localPort,
		PIDFile:   s.PIDFile(name),
		LogFile:   s.LogFile(name),
		SessionID: sessionID,
	}, nil
}

// waitHealthy alternates the exit check and the port check until one of
// them succeeds or the health timeout expires.
func (s *Supervisor) waitHealthy(ctx context.Context, name string, pid, port int) error {
	deadline := time.Now().Add(s.opts.HealthTimeout)
	for {
		if exited, code := s.registry.Exited(pid); exited {
			tail, err := logtail.LastLines(s.LogFile(name), logTailLines)
			if err != nil {
				log.Debugf("Failed to read tunnel log: %s", err)
			}
			return &UnexpectedTerminationError{Name: name, ExitCode: code, LogTail: tail}
		}
		if isAccepting(port) {
			return nil
		}
		if time.Now().After(deadline) {
			s.terminate(pid)
			return &HealthTimeoutError{Name: name, Port: port, Timeout: s.opts.HealthTimeout}
		}

		select {
		case <-ctx.Done():
			s.terminate(pid)
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// terminate stops a process that never became a recorded tunnel.
func (s *Supervisor) terminate(pid int) {
	if err := process_utils.TerminateProcess(pid); err != nil {
		log.Warnf("Failed to terminate tunnel process %d: %s", pid, err)
	}
	if !process_utils.WaitProcessTermination(pid, s.opts.StopTimeout, s.pollInterval,
		s.registry.Reap) {
		log.Warnf("Tunnel process %d is still alive.", pid)
	}
}

// Stop stops the named tunnel. It is a no-op when there is no pid file.
// The pid file is removed on success or when the process is already gone.
func (s *Supervisor) Stop(name string) error {
	pidFile := s.PIDFile(name)
	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		return nil
	}
	pid, err := process_utils.GetPIDFromFile(pidFile)
	if err != nil {
		log.Warnf("Removing unreadable tunnel record %q: %s", pidFile, err)
		return process_utils.RemovePIDFile(pidFile)
	}

	s.registry.Reap()
	if alive, _ := process_utils.IsProcessAlive(pid); !alive {
		log.Debugf("Tunnel %q (PID %d) is already gone.", name, pid)
		return process_utils.RemovePIDFile(pidFile)
	}

	log.Debugf("Stopping tunnel %q (PID %d).", name, pid)
	if err := process_utils.TerminateProcess(pid); err != nil {
		return err
	}
	if !process_utils.WaitProcessTermination(pid, s.opts.StopTimeout, s.pollInterval,
		s.registry.Reap) {
		return &StopTimeoutError{Name: name, PID: pid, Timeout: s.opts.StopTimeout}
	}
	s.registry.Release(pid)
	return process_utils.RemovePIDFile(pidFile)
}
