package bootlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/hermitcrab/hermit/cli/config"
	"github.com/hermitcrab/hermit/cli/retry"
)

const (
	// LogPath is the boot log written by the instance startup scripts.
	LogPath = "/var/log/hermit.log"

	statusPrefix = "[from " + LogPath + "] "
)

// RemoteResult is the outcome of a command run on the instance.
type RemoteResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// RemoteRunner runs commands on an instance. It returns an error only when
// the command could not be delivered, e.g. a *retry.ReasonError tagged
// retry.ReasonTimeout. A command that ran and failed is reported through
// RemoteResult.ExitCode.
type RemoteRunner interface {
	RunRemoteCommand(ctx context.Context, ref config.InstanceRef, command string,
		timeout time.Duration) (RemoteResult, error)
}

// WatcherOpts describes the boot wait parameters.
type WatcherOpts struct {
	// Timeout bounds the whole wait.
	Timeout time.Duration
	// PollInterval is the pause between two log fetches.
	PollInterval time.Duration
	// FetchTimeout bounds a single log fetch.
	FetchTimeout time.Duration
	// FetchRetries is the number of attempts of a log fetch which keeps
	// timing out before the wait is given up.
	FetchRetries uint
	// Verbose enables printing the raw log and connection failures.
	Verbose bool
}

// Watcher waits for an instance to become reachable.
type Watcher struct {
	runner RemoteRunner
	opts   WatcherOpts
	// Output receives the lines shown to the user.
	Output func(line string)

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWatcher creates a Watcher printing through apex/log.
func NewWatcher(runner RemoteRunner, opts WatcherOpts) *Watcher {
	return &Watcher{
		runner: runner,
		opts:   opts,
		Output: func(line string) { log.Info(line) },
		now:    time.Now,
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WaitForReady polls the boot log of the instance until it reports sshd is
// listening. It returns a *FatalBootError if the log shows the instance
// cannot boot and a *TimeoutError if the timeout elapses first.
func (w *Watcher) WaitForReady(ctx context.Context, ref config.InstanceRef) error {
	seen := make(map[string]struct{})
	printed := ""
	start := w.now()

	for {
		res, err := w.fetch(ctx, ref)
		if err != nil {
			return fmt.Errorf("failed to read %s of %q: %w", LogPath, ref.Name, err)
		}

		if res.Stderr != "" {
			log.Debugf("stderr from boot log poll: %s", strings.TrimSpace(res.Stderr))
		}

		if res.Stdout == "" {
			// The log is missing or sshd on the host is not up yet.
			if strings.Contains(res.Stderr, "Connection refused") && w.opts.Verbose {
				w.Output(fmt.Sprintf("Can't connect yet, will retry... (%s)",
					strings.TrimSpace(res.Stderr)))
			}
		} else {
			if w.opts.Verbose && res.Stdout != printed {
				fresh := res.Stdout
				if strings.HasPrefix(res.Stdout, printed) {
					fresh = res.Stdout[len(printed):]
				}
				// A log which does not extend the printed one was rewritten.
				w.Output(strings.TrimRight(fresh, "\n"))
				printed = res.Stdout
			}

			parsed, err := Parse(res.Stdout)
			if err != nil {
				return err
			}
			for _, line := range parsed.Status {
				if _, ok := seen[line]; ok {
					continue
				}
				seen[line] = struct{}{}
				w.Output(statusPrefix + line)
			}
			if parsed.Ready {
				return nil
			}
		}

		elapsed := w.now().Sub(start)
		if elapsed > w.opts.Timeout {
			return &TimeoutError{Elapsed: elapsed, Timeout: w.opts.Timeout}
		}

		log.Debugf("Sleeping for %s", w.opts.PollInterval)
		if err := w.sleep(ctx, w.opts.PollInterval); err != nil {
			return err
		}
	}
}

// fetch reads the whole boot log, retrying fetches which time out.
func (w *Watcher) fetch(ctx context.Context, ref config.InstanceRef) (RemoteResult, error) {
	var res RemoteResult
	err := retry.Do(ctx, retry.Policy{
		Attempts: w.opts.FetchRetries,
		RetryIf:  retry.OnReasons(retry.ReasonTimeout),
		Name:     "boot log fetch",
	}, func() error {
		var err error
		res, err = w.runner.RunRemoteCommand(ctx, ref, "cat "+LogPath, w.opts.FetchTimeout)
		return err
	})
	return res, err
}
