// Package retry implements the exponential-backoff-with-jitter policy shared
// by the enrichment, embedding, and LLM client steps (§4.8): base 1s, factor
// 2, jitter, cap 30s, up to a configurable number of attempts.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy configures the backoff schedule.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Factor      float64
	Cap         time.Duration
}

// DefaultPolicy matches the spec's enrichment/embedding retry policy.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Base: time.Second, Factor: 2, Cap: 30 * time.Second}
}

// Classifier reports whether an error is worth retrying. Callers typically
// pass apperr's Retryable check or a provider-specific status-code test.
type Classifier func(error) bool

// Do invokes fn up to Policy.MaxAttempts times, sleeping with exponential
// backoff and full jitter between attempts. It stops early if classify
// reports the error is not retryable, or if ctx is cancelled. The last
// error seen is returned if all attempts are exhausted.
func Do(ctx context.Context, p Policy, classify Classifier, fn func() error) error {
	var lastErr error
	delay := p.Base

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if classify != nil && !classify(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		sleep := time.Duration(rand.Int63n(int64(delay)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * p.Factor)
		if delay > p.Cap {
			delay = p.Cap
		}
	}
	return lastErr
}
