// Package retry implements the bounded retry policy shared by the boot
// watcher, the tunnel supervisor and the provider client.
package retry

import (
	"context"
	"time"

	"github.com/apex/log"
	retrygo "github.com/avast/retry-go"
)

// Policy describes a bounded fixed-delay retry.
type Policy struct {
	// Attempts is the total number of invocations allowed, including the
	// first one. Values below 1 are treated as 1.
	Attempts uint
	// Delay is the pause between attempts.
	Delay time.Duration
	// RetryIf reports whether err is retryable. A nil RetryIf retries nothing.
	RetryIf func(err error) bool
	// Name is used in log messages.
	Name string
}

// Do invokes action until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. The last error is returned as is, so it can be
// inspected with errors.As. A non-retryable error is returned immediately.
func Do(ctx context.Context, policy Policy, action func() error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	retryIf := policy.RetryIf
	if retryIf == nil {
		retryIf = func(error) bool { return false }
	}

	return retrygo.Do(action,
		retrygo.Context(ctx),
		retrygo.Attempts(attempts),
		retrygo.Delay(policy.Delay),
		retrygo.DelayType(retrygo.FixedDelay),
		retrygo.LastErrorOnly(true),
		retrygo.RetryIf(retryIf),
		retrygo.OnRetry(func(n uint, err error) {
			if policy.Name != "" {
				log.Debugf("%s: attempt %d/%d failed: %s", policy.Name, n+1, attempts, err)
			}
		}),
	)
}
