// Package retry runs an operation a bounded number of times with a fixed
// pause between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Defaults used by registry and manifest fetches.
const (
	DefaultAttempts = 3
	DefaultDelay    = time.Second
)

// Options tunes [Do]. Zero values select the defaults; a negative Delay
// retries without pausing.
type Options struct {
	Attempts int
	Delay    time.Duration
	// Sleep waits between attempts; tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do calls op until it succeeds or shouldRetry reports false, at most
// opts.Attempts times. The last result and error are returned.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), shouldRetry func(err error) bool, opts Options) (T, error) {
	var zero T
	if op == nil {
		return zero, errors.New("operation is required")
	}
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	delay := opts.Delay
	switch {
	case delay == 0:
		delay = DefaultDelay
	case delay < 0:
		delay = 0
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	if shouldRetry == nil {
		shouldRetry = func(err error) bool { return err != nil }
	}

	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		result, err = op(ctx)
		if err == nil || attempt == attempts || !shouldRetry(err) {
			return result, err
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return zero, fmt.Errorf("retry sleep interrupted: %w", sleepErr)
		}
	}
	return result, err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
