// Package retry provides the single retry policy shared by the fetcher
// and every classifier-calling stage. Call sites receive a Policy value
// instead of growing their own backoff loops.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy describes how many times to attempt an operation and how long
// to wait between attempts. Delays[i] is the pause after attempt i; when
// there are more attempts than delays the last delay repeats.
type Policy struct {
	MaxAttempts int
	Delays      []time.Duration
}

// Default returns the standard policy: 3 attempts with 1s/2s/3s pauses.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		Delays:      []time.Duration{1 * time.Second, 2 * time.Second, 3 * time.Second},
	}
}

// delay returns the pause after the given zero-based attempt.
func (p Policy) delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt >= len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[attempt]
}

// Do runs fn until it succeeds, attempts are exhausted, or ctx is done.
// The last error is returned wrapped with the attempt count.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
