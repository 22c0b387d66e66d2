package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Session construction errors (fatal to the session)
const (
	// ErrCodeConnectionFailed indicates the broker was unreachable or the
	// client library rejected the configuration.
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	// ErrCodeSubscriptionFailed indicates the topic subscription was refused.
	ErrCodeSubscriptionFailed ErrorCode = "SUBSCRIPTION_FAILED"
	// ErrCodeInvalidConfig indicates the configuration failed validation.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// Steady-state errors (logged, never fatal to a worker)
const (
	// ErrCodeSendFailed indicates a message could not be enqueued locally.
	ErrCodeSendFailed ErrorCode = "SEND_FAILED"
	// ErrCodeFlushTimeout indicates outstanding messages were dropped because
	// the flush deadline expired.
	ErrCodeFlushTimeout ErrorCode = "FLUSH_TIMEOUT"
	// ErrCodeDeliveryFailed indicates a per-message delivery error.
	ErrCodeDeliveryFailed ErrorCode = "DELIVERY_FAILED"
	// ErrCodeSinkFailed indicates the downstream sink rejected a write.
	ErrCodeSinkFailed ErrorCode = "SINK_FAILED"
	// ErrCodeSessionClosed indicates an operation on a closed session.
	ErrCodeSessionClosed ErrorCode = "SESSION_CLOSED"
)

// Pool errors
const (
	// ErrCodeAlreadyRunning indicates Start was called on a running pool.
	ErrCodeAlreadyRunning ErrorCode = "ALREADY_RUNNING"
	// ErrCodeNoWorkers indicates the pool could not size itself.
	ErrCodeNoWorkers ErrorCode = "NO_WORKERS"
)

// Internal errors
const (
	// ErrCodeInternal indicates an unexpected failure.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeConnectionFailed: true,
	ErrCodeSendFailed:       true,
	ErrCodeDeliveryFailed:   true,
	ErrCodeSinkFailed:       true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
