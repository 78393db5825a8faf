// Package idle implements the daemon that suspends the instance it runs on
// once the forwarded port has seen no traffic for a while.
package idle

import (
	"context"
	"time"

	"github.com/apex/log"
)

// State is a state of the idle monitor.
type State int

const (
	StateActive State = iota
	StateIdleTimerRunning
	StateSuspending
	StatePostSuspendCooldown
	StateFatalShutdown
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateIdleTimerRunning:
		return "IDLE_TIMER_RUNNING"
	case StateSuspending:
		return "SUSPENDING"
	case StatePostSuspendCooldown:
		return "POST_SUSPEND_COOLDOWN"
	case StateFatalShutdown:
		return "FATAL_SHUTDOWN"
	}
	return "UNKNOWN"
}

const (
	DefaultAssumeSuspendedAfter = 10 * time.Minute
	DefaultMaxSuspendFailures   = 10
)

// Opts are the idle monitor options.
type Opts struct {
	// PollInterval is the pause between two counter samples.
	PollInterval time.Duration
	// ActivityTimeout is the inactivity after which the instance is
	// suspended. It is also the cooldown after a suspend attempt.
	ActivityTimeout time.Duration
	// AssumeSuspendedAfter is the suspend call duration after which the
	// call is a success whatever its exit code.
	AssumeSuspendedAfter time.Duration
	// MaxSuspendFailures is the number of consecutive failed suspend
	// attempts tolerated before the host is powered off.
	MaxSuspendFailures int
}

// Monitor is the idle monitor state machine.
type Monitor struct {
	counter   ByteCounter
	suspender Suspender
	powerOff  PowerOff
	opts      Opts

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	state        State
	lastBytes    *int64
	lastActivity time.Time
	failures     int
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

// NewMonitor creates a monitor. Zero AssumeSuspendedAfter and
// MaxSuspendFailures are replaced by defaults.
func NewMonitor(counter ByteCounter, suspender Suspender, powerOff PowerOff,
	opts Opts) *Monitor {
	if opts.AssumeSuspendedAfter == 0 {
		opts.AssumeSuspendedAfter = DefaultAssumeSuspendedAfter
	}
	if opts.MaxSuspendFailures == 0 {
		opts.MaxSuspendFailures = DefaultMaxSuspendFailures
	}
	return &Monitor{
		counter:   counter,
		suspender: suspender,
		powerOff:  powerOff,
		opts:      opts,
		now:       time.Now,
		sleep:     sleepContext,
		state:     StateActive,
	}
}

// State returns the current state.
func (m *Monitor) State() State {
	return m.state
}

// Failures returns the number of consecutive failed suspend attempts.
func (m *Monitor) Failures() int {
	return m.failures
}

func (m *Monitor) setState(state State) {
	if m.state != state {
		log.WithField("from", m.state).WithField("to", state).Debug("State changed")
	}
	m.state = state
}

// Run prepares the suspender and polls until the context is cancelled or
// the host is powered off. Errors are logged, never returned.
func (m *Monitor) Run(ctx context.Context) {
	if err := m.suspender.Prepare(ctx); err != nil {
		log.Warnf("Failed to prepare suspend: %s", err)
	}
	m.lastActivity = m.now()

	for ctx.Err() == nil {
		if done := m.Tick(ctx); done {
			return
		}
		if err := m.sleep(ctx, m.opts.PollInterval); err != nil {
			break
		}
	}
	log.Info("Idle monitor is stopped.")
}

// Tick samples the counter once and acts on the result. It returns true
// when the monitor reached the terminal state.
func (m *Monitor) Tick(ctx context.Context) bool {
	if m.lastActivity.IsZero() {
		m.lastActivity = m.now()
	}

	sample, err := m.counter.Sample(ctx)
	if err != nil {
		// The first failure after a good sample counts as a change, further
		// failures do not, so the idle timer keeps running.
		log.Warnf("Failed to sample traffic counter: %s", err)
		if m.lastBytes != nil {
			m.lastBytes = nil
			m.lastActivity = m.now()
			m.setState(StateActive)
			return false
		}
	} else if m.lastBytes == nil || *m.lastBytes != sample {
		m.lastBytes = &sample
		m.lastActivity = m.now()
		m.failures = 0
		if m.state != StateActive {
			log.Infof("Active (bytes transmitted: %d)", sample)
		}
		m.setState(StateActive)
		return false
	}

	idleFor := m.now().Sub(m.lastActivity)
	if idleFor <= m.opts.ActivityTimeout {
		m.setState(StateIdleTimerRunning)
		return false
	}

	log.Infof("%s elapsed since last sign of activity. Suspending...", idleFor.Round(time.Second))
	m.setState(StateSuspending)
	if m.suspend(ctx) {
		log.Info("Suspend complete")
	} else {
		m.failures++
		log.Warnf("Suspend failed (%d consecutive failures)", m.failures)
		if m.failures > m.opts.MaxSuspendFailures {
			m.setState(StateFatalShutdown)
			log.Errorf("Unable to suspend after %d attempts, powering off", m.failures)
			if err := m.powerOff(ctx); err != nil {
				log.Errorf("Power off failed: %s", err)
			}
			return true
		}
	}

	m.setState(StatePostSuspendCooldown)
	if err := m.sleep(ctx, m.opts.ActivityTimeout); err != nil {
		return false
	}
	log.Info("Resuming polling...")
	return false
}

// suspend invokes the suspender and judges the outcome. A call lasting at
// least AssumeSuspendedAfter means the instance was suspended mid-call.
func (m *Monitor) suspend(ctx context.Context) bool {
	start := m.now()
	code, err := m.suspender.Suspend(ctx)
	elapsed := m.now().Sub(start)
	if elapsed >= m.opts.AssumeSuspendedAfter {
		log.Infof("Suspend call took %s, assuming the instance was suspended "+
			"(exit code %d)", elapsed.Round(time.Second), code)
		return true
	}
	if err != nil {
		log.Warnf("Suspend call failed: %s", err)
		return false
	}
	if code != 0 {
		log.Warnf("Suspend call returned non-zero exit code %d", code)
		return false
	}
	return true
}
