package clients

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/syncforge/pkg/errors"
)

func failing() error {
	return errors.New(errors.ErrorTypeConnection, "boom")
}

func succeeding() error { return nil }

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 2, time.Minute, zap.NewNop())

	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Execute(failing))
	}
	assert.Equal(t, StateOpen, cb.State())

	// Open circuit rejects without executing
	executed := false
	err := cb.Execute(func() error {
		executed = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, executed)
	assert.True(t, errors.IsRetryable(err))
}

func TestCircuitBreakerRecovers(t *testing.T) {
	cb := NewCircuitBreaker(2, 2, time.Minute, zap.NewNop())

	now := time.Now()
	cb.now = func() time.Time { return now }

	require.Error(t, cb.Execute(failing))
	require.Error(t, cb.Execute(failing))
	assert.Equal(t, StateOpen, cb.State())

	// After the cooldown a probe is allowed
	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(succeeding))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(succeeding))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerReopensOnProbeFailure(t *testing.T) {
	cb := NewCircuitBreaker(1, 1, time.Minute, zap.NewNop())

	now := time.Now()
	cb.now = func() time.Time { return now }

	require.Error(t, cb.Execute(failing))
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Minute)
	require.Error(t, cb.Execute(failing))
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, 1, time.Minute, zap.NewNop())

	require.Error(t, cb.Execute(failing))
	require.Error(t, cb.Execute(failing))
	require.NoError(t, cb.Execute(succeeding))
	require.Error(t, cb.Execute(failing))
	require.Error(t, cb.Execute(failing))

	assert.Equal(t, StateClosed, cb.State())
}
