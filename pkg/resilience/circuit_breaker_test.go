package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failing(context.Context) (interface{}, error) {
	return nil, errors.New("boom")
}

func TestCircuitBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	breaker := NewCircuitBreaker(Settings{
		Name:             "geocoding-test",
		Timeout:          50 * time.Millisecond,
		Interval:         50 * time.Millisecond,
		FailureThreshold: 2,
		SuccessThreshold: 1,
	}, nil)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := breaker.Execute(ctx, failing)
		require.Error(t, err)
	}

	assert.False(t, breaker.Allow(), "breaker should be open after consecutive failures")

	_, err := breaker.Execute(ctx, func(context.Context) (interface{}, error) {
		return "ok", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreakerPassesThroughOnSuccess(t *testing.T) {
	breaker := NewCircuitBreaker(Settings{
		Name:             "traffic-test",
		Timeout:          time.Second,
		Interval:         time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
	}, nil)

	result, err := breaker.Execute(context.Background(), func(context.Context) (interface{}, error) {
		return "response", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "response", result)
}

func TestCircuitBreakerOpenUsesFallback(t *testing.T) {
	fallback := func(ctx context.Context, err error) (interface{}, error) {
		return "canned", nil
	}
	breaker := NewCircuitBreaker(Settings{
		Name:             "llm-test",
		Timeout:          time.Second,
		Interval:         time.Second,
		FailureThreshold: 1,
		SuccessThreshold: 1,
	}, fallback)

	ctx := context.Background()
	_, err := breaker.Execute(ctx, failing)
	require.Error(t, err)
	require.False(t, breaker.Allow())

	result, err := breaker.Execute(ctx, failing)
	require.NoError(t, err)
	assert.Equal(t, "canned", result, "open breaker should answer from the fallback")
}

func TestNilBreakerExecutesDirectly(t *testing.T) {
	var breaker *CircuitBreaker

	assert.True(t, breaker.Allow())

	result, err := breaker.Execute(context.Background(), func(context.Context) (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestBuildSettingsConvertsEnvironmentUnits(t *testing.T) {
	s := BuildSettings("dispatch-geocoding", 60, 30000, 5, 2)

	assert.Equal(t, "dispatch-geocoding", s.Name)
	assert.Equal(t, time.Minute, s.Interval)
	assert.Equal(t, 30*time.Second, s.Timeout)
	assert.Equal(t, uint32(5), s.FailureThreshold)
	assert.Equal(t, uint32(2), s.SuccessThreshold)
}
