package base

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/syncforge/pkg/config"
	"github.com/ajitpratap0/syncforge/pkg/errors"
)

func fastPolicy(retries int) *RetryPolicy {
	return NewRetryPolicy(config.ReliabilityConfig{
		RetryAttempts:   retries,
		RetryDelay:      time.Millisecond,
		RetryMultiplier: 2.0,
		MaxRetryDelay:   5 * time.Millisecond,
	})
}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	retries, err := fastPolicy(3).ExecuteWithCondition(context.Background(), func() error {
		calls++
		return nil
	}, errors.IsRetryable)

	require.NoError(t, err)
	assert.Equal(t, 0, retries)
	assert.Equal(t, 1, calls)
}

func TestExecuteRetriesTransientErrors(t *testing.T) {
	calls := 0
	retries, err := fastPolicy(3).ExecuteWithCondition(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New(errors.ErrorTypeConnection, "refused")
		}
		return nil
	}, errors.IsRetryable)

	require.NoError(t, err)
	assert.Equal(t, 2, retries)
	assert.Equal(t, 3, calls)
}

func TestExecutePermanentErrorBypassesRetry(t *testing.T) {
	calls := 0
	retries, err := fastPolicy(3).ExecuteWithCondition(context.Background(), func() error {
		calls++
		return errors.New(errors.ErrorTypePermission, "write rejected")
	}, errors.IsRetryable)

	require.Error(t, err)
	assert.Equal(t, 0, retries)
	assert.Equal(t, 1, calls, "permanent errors must not be retried")
	assert.True(t, errors.IsType(err, errors.ErrorTypePermission))
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	calls := 0
	retries, err := fastPolicy(2).ExecuteWithCondition(context.Background(), func() error {
		calls++
		return errors.New(errors.ErrorTypeConnection, "refused")
	}, errors.IsRetryable)

	require.Error(t, err)
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
	assert.Equal(t, 2, retries)
	assert.Contains(t, err.Error(), "all 3 attempts failed")
}

func TestExecuteStopsOnContextCancel(t *testing.T) {
	policy := NewRetryPolicy(config.ReliabilityConfig{
		RetryAttempts: 5,
		RetryDelay:    time.Hour, // backoff far longer than the test
	})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := policy.ExecuteWithCondition(ctx, func() error {
			calls++
			return errors.New(errors.ErrorTypeConnection, "refused")
		}, errors.IsRetryable)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retry cancelled")
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Multiplier:   2.0,
	}

	assert.Equal(t, 10*time.Millisecond, policy.GetDelay(0))
	assert.Equal(t, 20*time.Millisecond, policy.GetDelay(1))
	assert.Equal(t, 40*time.Millisecond, policy.GetDelay(2))
	assert.Equal(t, 40*time.Millisecond, policy.GetDelay(3), "delay is capped")
}

func TestNewRetryPolicyDefaults(t *testing.T) {
	policy := NewRetryPolicy(config.ReliabilityConfig{RetryAttempts: 2})
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, time.Second, policy.InitialDelay)
	assert.Equal(t, 60*time.Second, policy.MaxDelay)
	assert.Equal(t, 2.0, policy.Multiplier)
}
