package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("dependency down")

func testBreaker() *CircuitBreaker {
	return New(Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             20 * time.Millisecond,
		MaxRequestsHalfOpen: 1,
	})
}

func fail() error    { return errDown }
func succeed() error { return nil }

func trip(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Execute(context.Background(), fail), errDown)
	}
	require.Equal(t, StateOpen, cb.State())
}

func TestBreakerStartsClosed(t *testing.T) {
	cb := testBreaker()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Execute(context.Background(), succeed))
}

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	cb := testBreaker()
	trip(t, cb)

	err := cb.Execute(context.Background(), succeed)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := testBreaker()
	require.ErrorIs(t, cb.Execute(context.Background(), fail), errDown)
	require.ErrorIs(t, cb.Execute(context.Background(), fail), errDown)
	require.NoError(t, cb.Execute(context.Background(), succeed))
	require.ErrorIs(t, cb.Execute(context.Background(), fail), errDown)
	require.ErrorIs(t, cb.Execute(context.Background(), fail), errDown)

	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpensAfterTimeout(t *testing.T) {
	cb := testBreaker()
	trip(t, cb)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestBreakerClosesAfterSuccessThreshold(t *testing.T) {
	cb := testBreaker()
	trip(t, cb)
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, cb.Execute(context.Background(), succeed))
	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := testBreaker()
	trip(t, cb)
	time.Sleep(30 * time.Millisecond)

	require.ErrorIs(t, cb.Execute(context.Background(), fail), errDown)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(context.Background(), succeed), ErrCircuitOpen)
}

func TestBreakerLimitsHalfOpenProbes(t *testing.T) {
	cb := testBreaker()
	trip(t, cb)
	time.Sleep(30 * time.Millisecond)

	// seed one in-flight probe by tripping allow without recording yet
	require.NoError(t, cb.allow())
	assert.ErrorIs(t, cb.Execute(context.Background(), succeed), ErrCircuitOpen)
}

func TestBreakerNotifiesStateChanges(t *testing.T) {
	cb := testBreaker()
	var transitions []string
	cb.OnStateChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	trip(t, cb)
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Execute(context.Background(), succeed))
	require.NoError(t, cb.Execute(context.Background(), succeed))

	assert.Equal(t, []string{
		"closed->open",
		"open->half-open",
		"half-open->closed",
	}, transitions)
}

func TestBreakerCountsContextErrorAsFailure(t *testing.T) {
	cb := testBreaker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Execute(ctx, succeed), context.Canceled)
	}
	assert.Equal(t, StateOpen, cb.State())
}
