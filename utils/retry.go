package utils

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// LinearBackOff waits step, 2*step, 3*step... between attempts and stops
// after maxRetries attempts. Quote fetches and standard transaction
// submission both retry on this schedule.
type LinearBackOff struct {
	Step       time.Duration
	MaxRetries uint64

	attempt uint64
}

var _ backoff.BackOff = (*LinearBackOff)(nil)

// NewLinearBackOff returns a bounded linear retry policy.
func NewLinearBackOff(step time.Duration, maxRetries uint64) *LinearBackOff {
	return &LinearBackOff{Step: step, MaxRetries: maxRetries}
}

// NextBackOff returns the delay before the next attempt, or backoff.Stop once
// the retry budget is exhausted.
func (l *LinearBackOff) NextBackOff() time.Duration {
	l.attempt++
	if l.attempt >= l.MaxRetries {
		return backoff.Stop
	}
	return time.Duration(l.attempt) * l.Step
}

// Reset rewinds the policy for reuse.
func (l *LinearBackOff) Reset() {
	l.attempt = 0
}
