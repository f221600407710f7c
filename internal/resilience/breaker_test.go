package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pumpshort/internal/domain"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	require.ErrorIs(t, b.Allow(), domain.ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	assert.Equal(t, 0, b.Failures())

	// The streak starts over; two more failures do not trip it.
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())
	require.ErrorIs(t, b.Allow(), domain.ErrCircuitOpen)

	time.Sleep(15 * time.Millisecond)

	// The recovery timeout elapsed: one probe is let through.
	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	require.NoError(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	require.ErrorIs(t, b.Allow(), domain.ErrCircuitOpen)
}

func TestBreakerOnStateChange(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	type change struct{ from, to BreakerState }
	var changes []change
	b.OnStateChange = func(from, to BreakerState) {
		changes = append(changes, change{from, to})
	}

	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	require.NoError(t, b.Allow())
	b.RecordSuccess()

	require.Equal(t, []change{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, changes)
}

func TestBreakerZeroConfigGetsDefaults(t *testing.T) {
	b := NewBreaker(0, 0)
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State(), "default threshold is five failures")
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}
