package retry

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// BackoffStrategy selects how the delay grows between attempts.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffFixed       BackoffStrategy = "fixed"
)

// ParseBackoffStrategy accepts "exponential" or "fixed" (case-insensitive).
func ParseBackoffStrategy(s string) (BackoffStrategy, error) {
	switch BackoffStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case BackoffExponential, "":
		return BackoffExponential, nil
	case BackoffFixed:
		return BackoffFixed, nil
	default:
		return "", fmt.Errorf("unknown backoff strategy %q", s)
	}
}

// Scheduler decides retry eligibility and computes retry timestamps.
type Scheduler struct {
	Base     time.Duration
	Cap      time.Duration
	Strategy BackoffStrategy
	codec    *Codec
}

func NewScheduler(base, cap time.Duration, strategy BackoffStrategy, codec *Codec) *Scheduler {
	if strategy == "" {
		strategy = BackoffExponential
	}
	if codec == nil {
		codec = NewCodec(false, nil)
	}
	return &Scheduler{Base: base, Cap: cap, Strategy: strategy, codec: codec}
}

// IsEligibleNow reports whether the message may be processed at now.
// It is false only when a RetryAfter header is present, well formed and
// strictly after now.
func (s *Scheduler) IsEligibleNow(headers map[string][]byte, now time.Time) bool {
	notBefore, ok := s.codec.ReadNotBefore(headers)
	if !ok {
		return true
	}
	return !notBefore.After(now)
}

// ComputeNextDelay returns the delay before attempt is retried.
func (s *Scheduler) ComputeNextDelay(attempt int) time.Duration {
	if s.Strategy == BackoffFixed {
		if s.Cap > 0 && s.Base > s.Cap {
			return s.Cap
		}
		return s.Base
	}
	return ExponentialBackoff(attempt, s.Base, s.Cap)
}

// ComputeNotBefore returns the earliest time the next attempt may run.
func (s *Scheduler) ComputeNotBefore(now time.Time, delay time.Duration) time.Time {
	return now.Add(delay)
}

// ExponentialBackoff returns min(cap, base*2^attempt). Negative attempts
// count as 0. The shift is bounded against cap before multiplying so large
// attempts never overflow.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if cap <= 0 {
		cap = time.Duration(math.MaxInt64)
	}
	if base >= cap {
		return cap
	}
	if attempt >= 62 || base > cap>>uint(attempt) {
		return cap
	}
	delay := base << uint(attempt)
	if delay > cap {
		return cap
	}
	return delay
}
