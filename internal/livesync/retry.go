package livesync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetriesExhausted is returned by Supervisor.Run when every reconnect
// attempt failed.
var ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

const (
	DefaultRetryBase        = time.Second
	DefaultRetryMaxAttempts = 5
)

// Supervisor restarts a session with exponential backoff.
type Supervisor struct {
	// Base is the delay before the first retry. Each following retry waits
	// twice as long as the previous one.
	Base time.Duration

	// MaxAttempts is the number of consecutive retries before giving up.
	MaxAttempts int

	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Delay returns the wait before retry number attempt, counting from 1.
func (s *Supervisor) Delay(attempt int) time.Duration {
	base := s.Base
	if base <= 0 {
		base = DefaultRetryBase
	}
	return base << (attempt - 1)
}

// Run calls session until it returns nil, ctx ends, or MaxAttempts retries
// in a row fail. session reports whether it got as far as establishing a
// connection; an established session resets the retry count.
func (s *Supervisor) Run(ctx context.Context, session func(ctx context.Context) (established bool, err error)) error {
	maxAttempts := s.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultRetryMaxAttempts
	}
	sleep := s.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	failures := 0
	for {
		established, err := session(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if established {
			failures = 0
		}
		failures++
		if failures > maxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, err)
		}

		delay := s.Delay(failures)
		if s.OnRetry != nil {
			s.OnRetry(failures, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
