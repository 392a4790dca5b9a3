package migrate

import "time"

// RetryPolicy bounds migration retries: attempts up to MaxAttempts, delays
// doubling from BaseDelay and capped at MaxDelay. It is a plain value so the
// curve can be tested without a queue or network.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy matches the queue's historical retry behavior: three
// attempts starting at ten seconds.
func DefaultPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Second, MaxDelay: 10 * time.Minute}
}

// Delay returns how long to wait before the given attempt number re-runs.
// attempt is 1-based: Delay(1) follows the first failure.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether the attempt ceiling has been reached and the
// entry should be frozen for operator triage.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
