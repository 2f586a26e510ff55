package queue

import "time"

// RetryPolicy controls exponential backoff for failed deliveries.
type RetryPolicy struct {
	// BaseDelay is the wait after the first failure.
	BaseDelay time.Duration

	// MaxDelay caps every computed delay.
	MaxDelay time.Duration

	// MaxRetries is the number of failed attempts after which an action
	// becomes terminal. Zero means retry forever.
	MaxRetries int
}

// DefaultRetryPolicy returns a 1s base, 5m cap, 5 attempt policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:  time.Second,
		MaxDelay:   5 * time.Minute,
		MaxRetries: 5,
	}
}

// Delay returns BaseDelay * 2^retryCount, capped at MaxDelay.
// Consecutive delays are non-decreasing.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= 62 {
		return p.capped(time.Duration(1<<62 - 1))
	}
	d := p.BaseDelay << retryCount
	if d < p.BaseDelay || d>>retryCount != p.BaseDelay {
		// Shift overflowed int64.
		return p.capped(time.Duration(1<<62 - 1))
	}
	return p.capped(d)
}

func (p RetryPolicy) capped(d time.Duration) time.Duration {
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether retryCount failures make an action terminal.
func (p RetryPolicy) Exhausted(retryCount int) bool {
	return p.MaxRetries > 0 && retryCount >= p.MaxRetries
}
