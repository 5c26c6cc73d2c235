package retry

import (
	"math"
	"testing"
	"time"

	"go-retry-consumer/pkg/models"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff(t *testing.T) {
	base := 2 * time.Second
	cap := time.Minute

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{attempt: -1, expected: 2 * time.Second},
		{attempt: 0, expected: 2 * time.Second},
		{attempt: 1, expected: 4 * time.Second},
		{attempt: 2, expected: 8 * time.Second},
		{attempt: 4, expected: 32 * time.Second},
		{attempt: 5, expected: time.Minute},
		{attempt: 62, expected: time.Minute},
		{attempt: 1000, expected: time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ExponentialBackoff(tt.attempt, base, cap), "attempt %d", tt.attempt)
	}
}

func TestExponentialBackoff_MonotonicAndCapped(t *testing.T) {
	cap := 6 * time.Hour
	for _, base := range []time.Duration{time.Millisecond, 2 * time.Second, 7 * time.Minute, 6 * time.Hour} {
		prev := time.Duration(0)
		for attempt := 0; attempt < 200; attempt++ {
			d := ExponentialBackoff(attempt, base, cap)
			assert.GreaterOrEqual(t, d, prev, "base %s attempt %d", base, attempt)
			assert.LessOrEqual(t, d, cap, "base %s attempt %d", base, attempt)
			prev = d
		}
	}
}

func TestExponentialBackoff_EdgeCases(t *testing.T) {
	assert.Equal(t, time.Duration(0), ExponentialBackoff(3, 0, time.Second))
	assert.Equal(t, time.Second, ExponentialBackoff(0, 5*time.Second, time.Second))
	// no cap never overflows into negative values
	assert.Equal(t, time.Duration(math.MaxInt64), ExponentialBackoff(80, time.Second, 0))
	assert.Greater(t, ExponentialBackoff(40, time.Second, 0), time.Duration(0))
}

func TestScheduler_FixedStrategy(t *testing.T) {
	s := NewScheduler(3*time.Second, time.Minute, BackoffFixed, nil)
	for attempt := 0; attempt < 5; attempt++ {
		assert.Equal(t, 3*time.Second, s.ComputeNextDelay(attempt))
	}

	capped := NewScheduler(3*time.Minute, time.Minute, BackoffFixed, nil)
	assert.Equal(t, time.Minute, capped.ComputeNextDelay(1))
}

func TestParseBackoffStrategy(t *testing.T) {
	s, err := ParseBackoffStrategy("Fixed")
	require.NoError(t, err)
	assert.Equal(t, BackoffFixed, s)

	s, err = ParseBackoffStrategy("")
	require.NoError(t, err)
	assert.Equal(t, BackoffExponential, s)

	_, err = ParseBackoffStrategy("fibonacci")
	assert.Error(t, err)
}

func TestScheduler_IsEligibleNow(t *testing.T) {
	mClock := quartz.NewMock(t)
	start := time.UnixMilli(1_750_000_000_000)
	mClock.Set(start)

	codec := NewCodec(false, nil)
	s := NewScheduler(2*time.Second, time.Hour, BackoffExponential, codec)

	t.Run("absent header", func(t *testing.T) {
		assert.True(t, s.IsEligibleNow(map[string][]byte{}, mClock.Now()))
	})

	t.Run("malformed header", func(t *testing.T) {
		assert.True(t, s.IsEligibleNow(map[string][]byte{
			models.HeaderRetryAfter: []byte("not-a-number"),
		}, mClock.Now()))
	})

	t.Run("equal to now", func(t *testing.T) {
		headers := codec.WriteRetryHeaders(nil, 1, mClock.Now())
		assert.True(t, s.IsEligibleNow(headers, mClock.Now()))
	})

	// RetryAfter 1000ms in the future, then the clock passes it.
	t.Run("future then past", func(t *testing.T) {
		headers := codec.WriteRetryHeaders(nil, 1, mClock.Now().Add(time.Second))
		assert.False(t, s.IsEligibleNow(headers, mClock.Now()))

		mClock.Advance(999 * time.Millisecond)
		assert.False(t, s.IsEligibleNow(headers, mClock.Now()))

		mClock.Advance(2 * time.Millisecond)
		assert.True(t, s.IsEligibleNow(headers, mClock.Now()))
	})
}

func TestScheduler_RetryTimeline(t *testing.T) {
	now := time.UnixMilli(1_750_000_000_000)
	s := NewScheduler(2000*time.Millisecond, 6*time.Hour, BackoffExponential, nil)

	first := s.ComputeNotBefore(now, s.ComputeNextDelay(1))
	second := s.ComputeNotBefore(now, s.ComputeNextDelay(2))

	assert.Equal(t, now.Add(4000*time.Millisecond), first)
	assert.Equal(t, now.Add(8000*time.Millisecond), second)
}
