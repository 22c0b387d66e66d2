package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_New_Retryable(t *testing.T) {
	assert.True(t, New(ErrCodeSendFailed, "queue full").Retryable)
	assert.False(t, New(ErrCodeSubscriptionFailed, "refused").Retryable)
	assert.False(t, New(ErrCodeAlreadyRunning, "running").Retryable)
}

func TestAppError_Error_WithCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := ConnectionFailed([]string{"b1:9092", "b2:9092"}, cause)

	assert.Equal(t, ErrCodeConnectionFailed, err.Code)
	assert.Contains(t, err.Error(), "b1:9092,b2:9092")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Same(t, cause, stderrors.Unwrap(err))
}

func TestAppError_Is_MatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("start pool: %w", AlreadyRunning(4))

	assert.True(t, stderrors.Is(wrapped, AlreadyRunning(0)))
	assert.False(t, stderrors.Is(wrapped, NoWorkers()))
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("connect: %w", SubscriptionFailed("orders", stderrors.New("unknown topic")))

	assert.True(t, HasCode(err, ErrCodeSubscriptionFailed))
	assert.False(t, HasCode(err, ErrCodeConnectionFailed))
	assert.False(t, HasCode(stderrors.New("plain"), ErrCodeSubscriptionFailed))
	assert.False(t, HasCode(nil, ErrCodeSubscriptionFailed))
}

func TestFlushTimeout_Details(t *testing.T) {
	err := FlushTimeout("events", 42, 10*time.Second)

	assert.Equal(t, ErrCodeFlushTimeout, err.Code)
	assert.Equal(t, 42, err.Details["remaining"])
	assert.Equal(t, "10s", err.Details["deadline"])
	assert.False(t, err.Retryable)
}

func TestAsAppError(t *testing.T) {
	appErr, ok := AsAppError(fmt.Errorf("wrap: %w", SendFailed("t", nil)))
	require.True(t, ok)
	assert.Equal(t, ErrCodeSendFailed, appErr.Code)

	_, ok = AsAppError(stderrors.New("plain"))
	assert.False(t, ok)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(DeliveryFailed("t", nil)))
	assert.False(t, IsRetryable(FlushTimeout("t", 1, time.Second)))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}

func TestWithDetails(t *testing.T) {
	err := InvalidConfig("topic", "topic is required").
		WithDetail("role", "consumer").
		WithDetails(map[string]any{"driver": "kafkago"})

	assert.Equal(t, "topic", err.Details["field"])
	assert.Equal(t, "consumer", err.Details["role"])
	assert.Equal(t, "kafkago", err.Details["driver"])
}
