package engine

import (
	"math"
	"time"

	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/action"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
)

// retryState is the per-step retry machine: the attempts made so far and
// the delay owed before the next one.
type retryState struct {
	policy  domain.RetryPolicy
	attempt int
}

func newRetryState(policy domain.RetryPolicy) *retryState {
	return &retryState{policy: policy.Normalized()}
}

// begin starts the next attempt and returns its 1-based number.
func (s *retryState) begin() int {
	s.attempt++
	return s.attempt
}

func (s *retryState) exhausted() bool {
	return s.attempt >= s.policy.MaxAttempts
}

// nextDelay is the wait between the attempt just made and the following one.
func (s *retryState) nextDelay() time.Duration {
	return Backoff(s.policy, s.attempt)
}

// Backoff returns the delay after the given failed attempt (1-based).
func Backoff(policy domain.RetryPolicy, attempt int) time.Duration {
	p := policy.Normalized()
	if attempt < 1 {
		attempt = 1
	}
	switch p.Backoff {
	case domain.BackoffConstant:
		return p.InitialInterval
	case domain.BackoffLinear:
		return slidingInterval(p, attempt-1)
	default:
		d := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempt-1))
		if d >= float64(p.MaxInterval) || math.IsInf(d, 0) {
			return p.MaxInterval
		}
		return time.Duration(d)
	}
}

// slidingInterval moves from the initial to the max interval in equal steps
// spread over the retries the policy allows.
func slidingInterval(p domain.RetryPolicy, retryNum int) time.Duration {
	maxRetries := p.MaxAttempts - 1
	if retryNum <= 0 {
		return p.InitialInterval
	}
	if retryNum >= maxRetries {
		return p.MaxInterval
	}
	scale := float64(retryNum) / float64(maxRetries)
	return p.InitialInterval + time.Duration(scale*float64(p.MaxInterval-p.InitialInterval))
}

// shouldRetry decides whether a failed attempt may be repeated. Validation
// and permanent errors never are; non-idempotent handlers only for errors
// explicitly marked retryable.
func shouldRetry(h action.Handler, err error) bool {
	if action.IsPermanent(err) {
		return false
	}
	if _, ok := action.AsValidationError(err); ok {
		return false
	}
	return h.Idempotent() || action.IsRetryable(err)
}
