// Package retry is the single bounded-retry primitive shared by the approval
// manager's stale-read tolerance and chain-context switch verification.
package retry

import (
	"context"
	"math/rand"
	"time"
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, BaseDelay: 250 * time.Millisecond, MaxDelay: 4 * time.Second}
}

// Permanent marks an error as not retryable; Do returns it immediately.
type Permanent struct{ Err error }

func (p Permanent) Error() string { return p.Err.Error() }

func (p Permanent) Unwrap() error { return p.Err }

// Do runs fn until it succeeds, returns a Permanent error, the attempt
// budget is exhausted, or ctx is cancelled. The delay between attempts grows
// exponentially from BaseDelay, capped at MaxDelay, with light jitter.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 250 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 4 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay(policy, attempt)):
			}
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if perm, ok := err.(Permanent); ok {
			return perm.Err
		}
		lastErr = err
	}
	return lastErr
}

func delay(policy Policy, attempt int) time.Duration {
	d := policy.BaseDelay * time.Duration(1<<uint(attempt-1))
	if d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(policy.BaseDelay)/4 + 1))
	return d + jitter
}
