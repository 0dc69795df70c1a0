package circuitbreaker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kalbasit/sharedlock/pkg/circuitbreaker"
)

func TestNew(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		threshold int
		timeout   time.Duration
	}{
		{
			name:      "defaults",
			threshold: 0,
			timeout:   0,
		},
		{
			name:      "custom values",
			threshold: 10,
			timeout:   5 * time.Minute,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cb := circuitbreaker.New("redisstore", tc.threshold, tc.timeout)

			assert.NotNil(t, cb)
			assert.Equal(t, "redisstore", cb.Name())
		})
	}
}

//nolint:paralleltest // modifying global timeNow
func TestCircuitBreaker_Flow(t *testing.T) {
	// Not parallel because we mock timeNow
	currentTime := time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)

	cleanup := circuitbreaker.SetTimeNow(func() time.Time {
		return currentTime
	})
	t.Cleanup(cleanup)

	cb := circuitbreaker.New("redisstore", 3, 1*time.Minute)

	// Initially closed
	assert.True(t, cb.AllowRequest())
	assert.False(t, cb.IsOpen())

	// Record 2 failures (below threshold)
	cb.RecordFailure()
	cb.RecordFailure()

	assert.True(t, cb.AllowRequest())
	assert.False(t, cb.IsOpen())

	// Record 3rd failure (threshold reached)
	cb.RecordFailure()

	assert.False(t, cb.AllowRequest())
	assert.True(t, cb.IsOpen())

	// Advance time by 30 seconds (still within timeout)
	currentTime = currentTime.Add(30 * time.Second)

	assert.False(t, cb.AllowRequest())
	assert.True(t, cb.IsOpen())

	// Advance time by another 31 seconds (total 61s, timeout expired)
	currentTime = currentTime.Add(31 * time.Second)

	// Circuit should be half-open (allows one request)
	assert.True(t, cb.AllowRequest())

	// Immediately subsequent request should be blocked (thundering herd protection)
	assert.False(t, cb.AllowRequest())

	// If that one allowed request succeeds
	cb.RecordSuccess()

	assert.True(t, cb.AllowRequest())
	assert.False(t, cb.IsOpen())
}

//nolint:paralleltest // modifying global timeNow
func TestCircuitBreaker_HalfOpen_Failure(t *testing.T) {
	// Not parallel because we mock timeNow
	currentTime := time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)

	cleanup := circuitbreaker.SetTimeNow(func() time.Time {
		return currentTime
	})
	t.Cleanup(cleanup)

	cb := circuitbreaker.New("sqlstore", 3, 1*time.Minute)

	// Force open
	cb.ForceOpen()

	assert.False(t, cb.AllowRequest())

	// Advance time past timeout
	currentTime = currentTime.Add(61 * time.Second)

	// Allow one request (half-open)
	assert.True(t, cb.AllowRequest())

	// That request fails
	cb.RecordFailure()

	// Should be open again immediately
	assert.False(t, cb.AllowRequest())
	assert.True(t, cb.IsOpen())
}

func TestCircuitBreaker_StateChangeHook(t *testing.T) {
	t.Parallel()

	var transitions []bool

	cb := circuitbreaker.New("redisstore", 2, 1*time.Minute)
	cb.WithStateChangeHook(func(name string, open bool) {
		assert.Equal(t, "redisstore", name)
		transitions = append(transitions, open)
	})

	cb.RecordFailure()
	assert.Empty(t, transitions, "below threshold must not fire the hook")

	cb.RecordFailure()
	assert.Equal(t, []bool{true}, transitions, "reaching the threshold must fire an open transition")

	cb.RecordFailure()
	assert.Equal(t, []bool{true}, transitions, "repeated failures while already open must not refire")

	cb.RecordSuccess()
	assert.Equal(t, []bool{true, false}, transitions, "a success while open must fire a close transition")

	cb.RecordSuccess()
	assert.Equal(t, []bool{true, false}, transitions, "a success while already closed must not refire")
}

func TestForceOpen(t *testing.T) {
	t.Parallel()

	cb := circuitbreaker.New("sqlstore", 5, 1*time.Minute)
	assert.True(t, cb.AllowRequest())

	cb.ForceOpen()

	assert.False(t, cb.AllowRequest())
	assert.True(t, cb.IsOpen())
}
