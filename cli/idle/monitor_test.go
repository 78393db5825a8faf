package idle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.t = c.t.Add(d)
	return nil
}

type fakeCounter struct {
	values []int64
	errs   []error
	calls  int
}

func (c *fakeCounter) Sample(context.Context) (int64, error) {
	i := min(c.calls, len(c.values)-1)
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return 0, c.errs[i]
	}
	return c.values[i], nil
}

type suspendResult struct {
	code     int
	duration time.Duration
	err      error
}

type fakeSuspender struct {
	clock    *fakeClock
	results  []suspendResult
	calls    int
	prepared bool
}

func (s *fakeSuspender) Prepare(context.Context) error {
	s.prepared = true
	return nil
}

func (s *fakeSuspender) Suspend(context.Context) (int, error) {
	r := s.results[min(s.calls, len(s.results)-1)]
	s.calls++
	s.clock.t = s.clock.t.Add(r.duration)
	return r.code, r.err
}

type fixture struct {
	clock     *fakeClock
	counter   *fakeCounter
	suspender *fakeSuspender
	powerOffs int
	monitor   *Monitor
}

func newFixture(values []int64, results ...suspendResult) *fixture {
	f := &fixture{clock: &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}}
	f.counter = &fakeCounter{values: values}
	f.suspender = &fakeSuspender{clock: f.clock, results: results}
	f.monitor = NewMonitor(f.counter, f.suspender, func(context.Context) error {
		f.powerOffs++
		return nil
	}, Opts{
		PollInterval:    time.Minute,
		ActivityTimeout: 5 * time.Minute,
	})
	f.monitor.now = f.clock.now
	f.monitor.sleep = f.clock.sleep
	return f
}

// tick performs one loop iteration of Run.
func (f *fixture) tick(t *testing.T) bool {
	t.Helper()
	done := f.monitor.Tick(context.Background())
	if !done {
		f.clock.sleep(context.Background(), f.monitor.opts.PollInterval)
	}
	return done
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ACTIVE", StateActive.String())
	assert.Equal(t, "IDLE_TIMER_RUNNING", StateIdleTimerRunning.String())
	assert.Equal(t, "SUSPENDING", StateSuspending.String())
	assert.Equal(t, "POST_SUSPEND_COOLDOWN", StatePostSuspendCooldown.String())
	assert.Equal(t, "FATAL_SHUTDOWN", StateFatalShutdown.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestActivityKeepsInstanceRunning(t *testing.T) {
	values := []int64{}
	for i := 0; i < 30; i++ {
		values = append(values, int64(100*i))
	}
	f := newFixture(values, suspendResult{})
	for i := 0; i < 30; i++ {
		require.False(t, f.tick(t))
		assert.Equal(t, StateActive, f.monitor.State())
	}
	assert.Zero(t, f.suspender.calls)
}

func TestIdleSuspends(t *testing.T) {
	f := newFixture([]int64{500}, suspendResult{code: 0, duration: time.Minute})

	// The first sample is activity, the next five are inside the timeout.
	for i := 0; i < 6; i++ {
		require.False(t, f.tick(t))
	}
	assert.Equal(t, StateIdleTimerRunning, f.monitor.State())
	assert.Zero(t, f.suspender.calls)

	require.False(t, f.tick(t))
	assert.Equal(t, 1, f.suspender.calls)
	assert.Equal(t, StatePostSuspendCooldown, f.monitor.State())
	assert.Zero(t, f.monitor.Failures())
}

func TestCooldownAfterSuspend(t *testing.T) {
	f := newFixture([]int64{500}, suspendResult{code: 0, duration: time.Minute})
	for i := 0; i < 7; i++ {
		f.tick(t)
	}
	require.Equal(t, 1, f.suspender.calls)
	// Idle start + 6 polls + suspend call + cooldown.
	expected := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).
		Add(6*time.Minute + time.Minute + 5*time.Minute + time.Minute)
	assert.Equal(t, expected, f.clock.t)
}

func TestLongSuspendCallIsSuccess(t *testing.T) {
	f := newFixture([]int64{500},
		suspendResult{code: 1, duration: 11 * time.Minute, err: errors.New("connection reset")})
	for i := 0; i < 7; i++ {
		f.tick(t)
	}
	assert.Equal(t, 1, f.suspender.calls)
	assert.Zero(t, f.monitor.Failures())
}

func TestFailedSuspendCountsAndActivityResets(t *testing.T) {
	f := newFixture([]int64{500}, suspendResult{code: 1, duration: time.Second})
	for i := 0; i < 7; i++ {
		f.tick(t)
	}
	assert.Equal(t, 1, f.monitor.Failures())
	assert.Equal(t, StatePostSuspendCooldown, f.monitor.State())

	// The cooldown does not reset the idle clock, so a still idle
	// instance is suspended again on the next tick.
	f.tick(t)
	assert.Equal(t, 2, f.suspender.calls)
	assert.Equal(t, 2, f.monitor.Failures())

	f.counter.values = []int64{900}
	f.tick(t)
	assert.Equal(t, StateActive, f.monitor.State())
	assert.Zero(t, f.monitor.Failures())
}

func TestFatalShutdown(t *testing.T) {
	f := newFixture([]int64{500}, suspendResult{code: 1, duration: time.Second})
	done := false
	for i := 0; i < 100 && !done; i++ {
		done = f.tick(t)
	}
	require.True(t, done)
	assert.Equal(t, StateFatalShutdown, f.monitor.State())
	assert.Equal(t, DefaultMaxSuspendFailures+1, f.suspender.calls)
	assert.Equal(t, 1, f.powerOffs)
}

func TestUnreadableCounterSuspends(t *testing.T) {
	f := newFixture([]int64{0}, suspendResult{})
	f.counter.errs = []error{errors.New("iptables: No chain/target/match by that name.")}
	for i := 0; i < 6; i++ {
		require.False(t, f.tick(t))
	}
	assert.Zero(t, f.suspender.calls)
	f.tick(t)
	assert.Equal(t, 1, f.suspender.calls)

	for i := 0; i < 24*60; i++ {
		f.tick(t)
	}
	assert.Greater(t, f.suspender.calls, 1)
	assert.Zero(t, f.powerOffs)
}

func TestUnreadableCounterAfterGoodSample(t *testing.T) {
	f := newFixture([]int64{500, 500, 500, 500, 500, 500, 500, 500, 500, 500},
		suspendResult{})
	f.counter.errs = []error{nil, nil, nil, nil, errors.New("iptables: not found")}
	for i := 0; i < 11; i++ {
		f.tick(t)
	}
	// The failure at minute 4 and the good sample at minute 5 are both
	// changes, the timer restarts at minute 5.
	assert.Zero(t, f.suspender.calls)
	f.tick(t)
	assert.Equal(t, 1, f.suspender.calls)
}

func TestRunPreparesAndStops(t *testing.T) {
	f := newFixture([]int64{1, 2, 3})
	ctx, cancel := context.WithCancel(context.Background())
	ticks := 0
	f.monitor.sleep = func(context.Context, time.Duration) error {
		ticks++
		if ticks == 3 {
			cancel()
			return context.Canceled
		}
		return nil
	}
	f.monitor.Run(ctx)
	assert.True(t, f.suspender.prepared)
	assert.Equal(t, 3, f.counter.calls)
}
