package circuit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_StartsClosed(t *testing.T) {
	b := New("reviewer:1001")
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "reviewer:1001", b.Name())
	assert.Equal(t, "closed", b.State().String())
}

func TestBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	b := New("reviewer", WithFailureThreshold(2))

	degraded, change := b.RecordFailure()
	assert.False(t, degraded)
	assert.False(t, change.Opened)

	degraded, change = b.RecordFailure()
	assert.True(t, degraded)
	assert.True(t, change.Opened)
	assert.True(t, b.IsOpen())

	// already open: degraded, but no new transition
	degraded, change = b.RecordFailure()
	assert.True(t, degraded)
	assert.False(t, change.Opened)
}

func TestBreaker_RecoversAfterSuccessStreak(t *testing.T) {
	b := New("reviewer", WithFailureThreshold(1), WithSuccessThreshold(2))
	b.RecordFailure()

	healthy, change := b.RecordSuccess()
	assert.False(t, healthy)
	assert.False(t, change.Closed)

	// a failure in between restarts the streak
	b.RecordFailure()
	b.RecordSuccess()
	assert.True(t, b.IsOpen())

	healthy, change = b.RecordSuccess()
	assert.True(t, healthy)
	assert.True(t, change.Closed)
	assert.False(t, b.IsOpen())
}

func TestBreaker_SuccessClearsPartialFailures(t *testing.T) {
	b := New("reviewer", WithFailureThreshold(2))
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.False(t, b.IsOpen())
}

func TestBreaker_Reset(t *testing.T) {
	b := New("reviewer", WithFailureThreshold(1))
	b.RecordFailure()
	assert.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
}
