package registry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/tplbuild/tplbuild/src/tplerr"
)

// RetryPolicy bounds the exponential backoff applied to transient
// registry errors: connection failures and 5xx/408/429 responses.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
}

// withRetry runs fn up to policy.Attempts times, backing off between
// attempts on transient errors. Non-transient errors and context
// cancellation return immediately.
func withRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error
	delay := policy.Base

	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &tplerr.Cancelled{Reason: err.Error()}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var rerr *tplerr.RegistryError
		if !errors.As(lastErr, &rerr) || !rerr.Transient || attempt == policy.Attempts {
			return lastErr
		}

		jittered := delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))
		select {
		case <-ctx.Done():
			return &tplerr.Cancelled{Reason: ctx.Err().Error()}
		case <-time.After(jittered):
		}

		delay *= 2
		if delay > policy.Cap {
			delay = policy.Cap
		}
	}

	return lastErr
}
