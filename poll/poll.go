// Package poll bounds the waiting loops in the pipeline: image status and
// post-terminate instance state. Sleeping is injected so timeout behavior is
// testable without wall-clock delays.
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a probe never completes within the policy
var ErrTimeout = errors.New("poll timeout")

// Policy bounds a polling loop
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
}

// Timeout is the worst-case wall-clock duration of the loop
func (p Policy) Timeout() time.Duration {
	return time.Duration(p.MaxAttempts) * p.Interval
}

// Sleeper waits for d or until ctx is cancelled
type Sleeper func(ctx context.Context, d time.Duration) error

// WallClock sleeps for real
func WallClock(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Probe checks once whether the awaited condition holds. done=true stops the
// loop. A non-nil err stops the loop unless retryable says otherwise.
type Probe func(ctx context.Context) (done bool, err error)

// Waiter runs bounded polling loops
type Waiter struct {
	sleep     Sleeper
	retryable func(error) bool
}

// NewWaiter builds a Waiter. retryable classifies transient provider errors;
// those are retried with a doubled interval instead of aborting the loop.
func NewWaiter(sleep Sleeper, retryable func(error) bool) *Waiter {
	if sleep == nil {
		sleep = WallClock
	}
	if retryable == nil {
		retryable = func(error) bool { return false }
	}
	return &Waiter{sleep: sleep, retryable: retryable}
}

// Wait polls probe on the policy interval until it reports done, fails hard,
// the attempts run out (ErrTimeout), or ctx is cancelled. Transient errors
// consume an attempt and double the next interval, capped at 4x.
func (w *Waiter) Wait(ctx context.Context, policy Policy, probe Probe) error {
	interval := policy.Interval

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		done, err := probe(ctx)
		switch {
		case err != nil && w.retryable(err):
			if next := interval * 2; next <= policy.Interval*4 {
				interval = next
			}
		case err != nil:
			return err
		case done:
			return nil
		default:
			interval = policy.Interval
		}

		if err := w.sleep(ctx, interval); err != nil {
			return err
		}
	}

	return ErrTimeout
}
