package process_utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Create a new directory.
// 0770:
// user:   read/write/execute
// group:  read/write/execute
// others: nil
const defaultDirPerms = 0770

// GetPIDFromFile returns PID from the PIDFile.
func GetPIDFromFile(pidFileName string) (int, error) {
	pidBytes, err := os.ReadFile(pidFileName)
	if err != nil {
		return 0, fmt.Errorf(`can't read the PID file. Error: "%w"`, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil {
		return 0,
			fmt.Errorf(`PID file exists with unknown format. Error: "%s"`, err)
	}

	return pid, nil
}

// CheckPIDFile checks that the process PID file is absent or belongs
// to a dead process. Removes PID file if process is dead.
func CheckPIDFile(pidFileName string) error {
	if _, err := os.Stat(pidFileName); err == nil {
		// The PID file already exists. We have to check if the process is alive.
		pid, err := GetPIDFromFile(pidFileName)
		if err != nil {
			return fmt.Errorf(`PID file exists, but PID can't be read. Error: "%v"`, err)
		}
		if res, _ := IsProcessAlive(pid); res {
			return fmt.Errorf("the process already exists. PID: %d", pid)
		}
		os.Remove(pidFileName)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf(`something went wrong while trying to read the PID file. Error: "%v"`,
			err)
	}

	return nil
}

// CreatePIDFile checks that the PID file is absent or deprecated and
// records pid in a new one. Returns an error on failure.
func CreatePIDFile(pidFileName string, pid int) error {
	if err := CheckPIDFile(pidFileName); err != nil {
		return err
	}

	pidAbsDir := filepath.Dir(pidFileName)
	if err := os.MkdirAll(pidAbsDir, defaultDirPerms); err != nil {
		return fmt.Errorf(`can't create PID file directory. Error: "%v"`, err)
	}

	// Create a new PID file.
	// 0644:
	//    user:   read/write
	//    group:  read
	//    others: read
	pidFile, err := os.OpenFile(pidFileName,
		syscall.O_EXCL|syscall.O_CREAT|syscall.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf(`can't create a new PID file. Error: "%v"`, err)
	}
	defer pidFile.Close()

	if _, err = pidFile.WriteString(strconv.Itoa(pid)); err != nil {
		return err
	}

	return nil
}

// RemovePIDFile removes the PID file. A missing file is not an error.
func RemovePIDFile(pidFileName string) error {
	if err := os.Remove(pidFileName); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf(`can't remove the PID file. Error: "%v"`, err)
	}
	return nil
}

// ExistsAndRecord checks that the PID file exists and the recorded
// process is alive. A missing PID file is reported as false without error.
func ExistsAndRecord(pidFileName string) (bool, error) {
	if _, err := os.Stat(pidFileName); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	pid, err := GetPIDFromFile(pidFileName)
	if err != nil {
		return false, err
	}

	alive, _ := IsProcessAlive(pid)
	return alive, nil
}

// IsProcessAlive checks if the process is alive.
func IsProcessAlive(pid int) (bool, error) {
	if pid <= 0 {
		return false, fmt.Errorf("invalid PID %d", pid)
	}
	// The signal 0 is used to check if a process is alive.
	// From `man 2 kill`:
	// If  sig  is  0,  then  no  signal is sent, but existence and permission
	// checks are still performed; this can be used to check for the existence
	// of  a  process  ID  or process group ID that the caller is permitted to
	// signal.
	if err := syscall.Kill(pid, syscall.Signal(0)); err != nil {
		if errors.Is(err, syscall.EPERM) {
			return true, err
		}
		return false, err
	}

	return true, nil
}

// TerminateProcess sends SIGTERM to the process. A process leading its own
// process group is signalled together with the group.
func TerminateProcess(pid int) error {
	target := pid
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid == pid {
		target = -pid
	}
	if err := syscall.Kill(target, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf(`can't terminate the process. Error: "%v"`, err)
	}
	return nil
}

// WaitProcessTermination waits while the process will be terminated.
// onTick, if set, is called before every liveness check.
// Returns true if the process was terminated and false if is still alive.
func WaitProcessTermination(pid int, timeout time.Duration,
	checkPeriod time.Duration, onTick func()) bool {
	isGone := func() bool {
		if onTick != nil {
			onTick()
		}
		res, _ := IsProcessAlive(pid)
		return !res
	}

	if isGone() {
		return true
	}

	breakTimer := time.NewTimer(timeout)
	defer breakTimer.Stop()
	ticker := time.NewTicker(checkPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-breakTimer.C:
			return isGone()
		case <-ticker.C:
			if isGone() {
				return true
			}
		}
	}
}
