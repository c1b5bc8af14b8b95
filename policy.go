package retrydlq

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 1 * time.Minute
)

// RetryPolicy is the immutable retry configuration of a single service.
type RetryPolicy struct {
	maxAttempts int
	retryDelay  time.Duration
	dlqEnabled  bool
}

func NewRetryPolicy(maxAttempts int, retryDelay time.Duration, dlqEnabled bool) (RetryPolicy, error) {
	if maxAttempts <= 0 {
		return RetryPolicy{}, fmt.Errorf("%w: max attempts must be > 0, got %d", ErrInvalidConfiguration, maxAttempts)
	}
	if retryDelay <= 0 {
		return RetryPolicy{}, fmt.Errorf("%w: retry delay must be > 0, got %v", ErrInvalidConfiguration, retryDelay)
	}

	return RetryPolicy{
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		dlqEnabled:  dlqEnabled,
	}, nil
}

// DefaultRetryPolicy returns 3 attempts, one minute apart, with dead-lettering enabled.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		dlqEnabled:  true,
	}
}

func (p RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

func (p RetryPolicy) RetryDelay() time.Duration {
	return p.retryDelay
}

func (p RetryPolicy) DLQEnabled() bool {
	return p.dlqEnabled
}

func (p RetryPolicy) valid() bool {
	return p.maxAttempts > 0 && p.retryDelay > 0
}

// newBackOff returns a fresh delay source for one attempt sequence.
func (p RetryPolicy) newBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(p.retryDelay)
}
