package processor

import (
	"time"

	"github.com/nvasko/push-delivery-system/internal/domain"
	"github.com/nvasko/push-delivery-system/internal/gateway"
)

// BackoffPolicy fixes the retry delay curve: base * multiplier^n, capped.
type BackoffPolicy struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

// Delay returns the backoff before the retry following the given failure
// count. Strictly increasing up to the cap, constant thereafter.
func (p BackoffPolicy) Delay(retryCount int) time.Duration {
	delay := float64(p.Base)
	for i := 0; i < retryCount; i++ {
		delay *= p.Multiplier
		if delay >= float64(p.Max) {
			return p.Max
		}
	}
	if delay > float64(p.Max) {
		return p.Max
	}
	return time.Duration(delay)
}

// Decision is the next state for a queue item after one attempt cycle.
// The store performs the actual write.
type Decision struct {
	Status      domain.QueueStatus
	RetryCount  int
	NextRetryAt *time.Time
}

// Decide computes the post-attempt transition for an item. Pure: no
// clock reads, no side effects.
//
// An invalid token is terminal regardless of the retry budget — a bad
// token never becomes valid by waiting. A transient failure schedules a
// retry until the budget is exhausted, then dead-letters.
func Decide(now time.Time, policy BackoffPolicy, retryCount, maxRetries int, outcome gateway.OutcomeStatus) Decision {
	switch outcome {
	case gateway.OutcomeDelivered:
		return Decision{Status: domain.StatusSent, RetryCount: retryCount}

	case gateway.OutcomeInvalidToken:
		return Decision{Status: domain.StatusDeadLettered, RetryCount: retryCount}

	default: // gateway.OutcomeTransient
		next := retryCount + 1
		if next > maxRetries {
			next = maxRetries
		}
		if next >= maxRetries {
			return Decision{Status: domain.StatusDeadLettered, RetryCount: next}
		}
		retryAt := now.Add(policy.Delay(retryCount))
		return Decision{Status: domain.StatusFailed, RetryCount: next, NextRetryAt: &retryAt}
	}
}
