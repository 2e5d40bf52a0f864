package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// advanceClock replaces the breaker's clock with one the test controls.
func advanceClock(b *CircuitBreaker) *time.Time {
	current := time.Now()
	b.now = func() time.Time { return current }
	return &current
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
		assert.Equal(t, StateClosed, b.State(), "breaker must stay closed below the threshold")
	}

	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State(), "breaker must open on the third consecutive failure")

	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewCircuitBreaker(2, time.Minute)

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State(), "non-consecutive failures must not open the breaker")
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	b := NewCircuitBreaker(1, time.Minute)
	clock := advanceClock(b)

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	// Still cooling down.
	*clock = clock.Add(30 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	// Cooldown elapsed: exactly one trial call is admitted.
	*clock = clock.Add(31 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen, "only one half-open trial may proceed")
}

func TestBreakerHalfOpenTrialSuccessCloses(t *testing.T) {
	b := NewCircuitBreaker(1, time.Minute)
	clock := advanceClock(b)

	b.RecordFailure()
	*clock = clock.Add(2 * time.Minute)
	require.NoError(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerHalfOpenTrialFailureReopens(t *testing.T) {
	b := NewCircuitBreaker(1, time.Minute)
	clock := advanceClock(b)

	b.RecordFailure()
	*clock = clock.Add(2 * time.Minute)
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen, "cooldown restarts after a failed trial")

	// And the restarted cooldown admits a new trial once it elapses.
	*clock = clock.Add(2 * time.Minute)
	assert.NoError(t, b.Allow())
}
