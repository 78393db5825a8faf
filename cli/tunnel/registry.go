package tunnel

import (
	"errors"
	"sync"

	"github.com/apex/log"
	"golang.org/x/sys/unix"
)

// Registry tracks child processes spawned by a supervisor so that they can
// be reaped without blocking. An unreaped child stays a zombie and still
// looks alive to a signal 0 check.
type Registry struct {
	mu   sync.Mutex
	pids map[int]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pids: map[int]struct{}{}}
}

// Track registers a spawned child.
func (r *Registry) Track(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pids[pid] = struct{}{}
}

// Release forgets a child without reaping it.
func (r *Registry) Release(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pids, pid)
}

// Tracked reports whether pid is a tracked child.
func (r *Registry) Tracked(pid int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pids[pid]
	return ok
}

// Exited reaps pid if it has finished. It reports whether the process has
// exited together with its exit code. A process that is not a child of
// this process is reported as running.
func (r *Registry) Exited(pid int) (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waitLocked(pid)
}

// Reap reaps all finished tracked children.
func (r *Registry) Reap() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pid := range r.pids {
		r.waitLocked(pid)
	}
}

func (r *Registry) waitLocked(pid int) (bool, int) {
	var status unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &status, unix.WNOHANG, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			if errors.Is(err, unix.ECHILD) {
				delete(r.pids, pid)
			} else {
				log.Debugf("Failed to wait for process %d: %s", pid, err)
			}
			return false, 0
		}
		if wpid == 0 {
			return false, 0
		}
		delete(r.pids, pid)
		code := status.ExitStatus()
		if status.Signaled() {
			code = 128 + int(status.Signal())
		}
		return true, code
	}
}
