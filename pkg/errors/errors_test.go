package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorRendering(t *testing.T) {
	err := New(ErrorTypeValidation, "page size must be positive")
	assert.Equal(t, "validation: page size must be positive", err.Error())

	wrapped := Wrap(fmt.Errorf("dial tcp: refused"), ErrorTypeConnection, "source unreachable")
	assert.Equal(t, "connection: source unreachable: dial tcp: refused", wrapped.Error())
	assert.Equal(t, "connection", wrapped.Code())
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeInternal, "never happens"))
}

func TestIsRetryable(t *testing.T) {
	retryable := []ErrorType{ErrorTypeConnection, ErrorTypeRateLimit, ErrorTypeTimeout}
	for _, et := range retryable {
		assert.True(t, IsRetryable(New(et, "transient")), string(et))
	}

	permanent := []ErrorType{
		ErrorTypeValidation, ErrorTypePermission, ErrorTypeAuthentication,
		ErrorTypeBatchSize, ErrorTypeRefinement, ErrorTypeConfig,
		ErrorTypeData, ErrorTypeQuery, ErrorTypeNotFound, ErrorTypeInternal,
	}
	for _, et := range permanent {
		assert.False(t, IsRetryable(New(et, "permanent")), string(et))
	}

	assert.False(t, IsRetryable(fmt.Errorf("plain error")))
}

func TestIsTypeThroughWrapping(t *testing.T) {
	inner := New(ErrorTypeRateLimit, "throttled")
	outer := fmt.Errorf("pull failed: %w", inner)

	assert.True(t, IsType(outer, ErrorTypeRateLimit))
	assert.False(t, IsType(outer, ErrorTypeConnection))
	assert.True(t, IsRetryable(outer))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, "batch_size", CodeOf(New(ErrorTypeBatchSize, "too many records")))
	assert.Equal(t, "internal", CodeOf(fmt.Errorf("untyped")))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeNotFound, "batch not found").
		WithDetail("batch_id", "b-1").
		WithDetail("tenant_id", "t-1")

	require.NotNil(t, err.Details)
	assert.Equal(t, "b-1", err.Details["batch_id"])
	assert.Equal(t, "t-1", err.Details["tenant_id"])
}

func TestWrapPreservesStack(t *testing.T) {
	inner := New(ErrorTypeConnection, "refused")
	require.NotEmpty(t, inner.Stack)

	outer := Wrap(inner, ErrorTypeInternal, "pull failed")
	assert.Equal(t, inner.Stack, outer.Stack)
}
