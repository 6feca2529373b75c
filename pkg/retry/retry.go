// Package retry provides bounded exponential backoff with
// deterministic jitter. Jitter is a PRF of the operation key and the
// attempt index, so two runs of the same operation back off on the
// same schedule and tests need no clock control.
package retry

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
	MaxAttempts int
}

// DefaultPolicy suits idempotent reads against a possibly flaky store.
func DefaultPolicy() Policy {
	return Policy{
		BaseMs:      250,
		MaxMs:       5000,
		MaxJitterMs: 100,
		MaxAttempts: 3,
	}
}

// Delay returns the pause before the given attempt (attempt 0 runs
// immediately). The base delay doubles per attempt, capped at MaxMs,
// plus deterministic jitter.
func Delay(key string, attempt int, p Policy) time.Duration {
	if attempt <= 0 {
		return 0
	}

	factor := int64(1)
	if attempt > 30 {
		factor = 1 << 30
	} else {
		factor = 1 << attempt
	}

	delay := p.BaseMs * factor
	if delay > p.MaxMs {
		delay = p.MaxMs
	}

	return time.Duration(delay+jitter(key, attempt, p.MaxJitterMs)) * time.Millisecond
}

func jitter(key string, attempt int, maxJitterMs int64) int64 {
	if maxJitterMs <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%d", key, attempt)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])
	return int64(basis % uint64(maxJitterMs)) //nolint:gosec // maxJitterMs is positive here
}

// Do runs op until it succeeds or the policy's attempts are exhausted.
// Only safe for idempotent operations. The context cancels both the
// in-flight attempt and the backoff sleep.
func Do(ctx context.Context, p Policy, key string, op func(context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(Delay(key, attempt, p))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: canceled after %d attempts (last error: %v): %w", key, attempt, lastErr, ctx.Err())
			case <-timer.C:
			}
		}

		if err := op(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%s: %d attempts exhausted: %w", key, p.MaxAttempts, lastErr)
}
