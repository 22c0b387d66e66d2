package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// Is reports whether target is an AppError with the same code, so that
// errors.Is(err, errors.AlreadyRunning()) works across wrapping.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryableCode(code),
	}
}

// --- Broker session errors ---

// ConnectionFailed creates an error for a broker that could not be reached or
// a configuration the client library rejected.
func ConnectionFailed(brokers []string, cause error) *AppError {
	return &AppError{
		Code:      ErrCodeConnectionFailed,
		Message:   fmt.Sprintf("unable to connect to brokers %s", strings.Join(brokers, ",")),
		Retryable: true,
		Details:   map[string]any{"brokers": brokers},
		Cause:     cause,
	}
}

// SubscriptionFailed creates an error for a refused topic subscription.
func SubscriptionFailed(topic string, cause error) *AppError {
	return &AppError{
		Code:    ErrCodeSubscriptionFailed,
		Message: fmt.Sprintf("subscription to topic %s refused", topic),
		Details: map[string]any{"topic": topic},
		Cause:   cause,
	}
}

// SendFailed creates an error for a message that could not be enqueued.
func SendFailed(topic string, cause error) *AppError {
	return &AppError{
		Code:      ErrCodeSendFailed,
		Message:   fmt.Sprintf("failed to enqueue message for topic %s", topic),
		Retryable: true,
		Details:   map[string]any{"topic": topic},
		Cause:     cause,
	}
}

// FlushTimeout creates an error for a flush whose deadline expired with
// messages still outstanding.
func FlushTimeout(topic string, remaining int, deadline time.Duration) *AppError {
	return &AppError{
		Code:    ErrCodeFlushTimeout,
		Message: fmt.Sprintf("flush deadline %s expired, %d messages dropped", deadline, remaining),
		Details: map[string]any{
			"topic":     topic,
			"remaining": remaining,
			"deadline":  deadline.String(),
		},
	}
}

// DeliveryFailed creates an error for a single message that failed delivery.
func DeliveryFailed(topic string, cause error) *AppError {
	return &AppError{
		Code:      ErrCodeDeliveryFailed,
		Message:   fmt.Sprintf("delivery failed on topic %s", topic),
		Retryable: true,
		Details:   map[string]any{"topic": topic},
		Cause:     cause,
	}
}

// SessionClosed creates an error for an operation attempted on a session
// that is not connected or was already closed.
func SessionClosed(op string) *AppError {
	return &AppError{
		Code:    ErrCodeSessionClosed,
		Message: fmt.Sprintf("%s on a closed session", op),
		Details: map[string]any{"operation": op},
	}
}

// SinkFailed creates an error for a rejected downstream write.
func SinkFailed(sink string, cause error) *AppError {
	return &AppError{
		Code:      ErrCodeSinkFailed,
		Message:   fmt.Sprintf("write to %s failed", sink),
		Retryable: true,
		Details:   map[string]any{"sink": sink},
		Cause:     cause,
	}
}

// --- Pool errors ---

// AlreadyRunning creates an error for a Start on a running pool.
func AlreadyRunning(workers int) *AppError {
	return &AppError{
		Code:    ErrCodeAlreadyRunning,
		Message: "worker pool is already running",
		Details: map[string]any{"workers": workers},
	}
}

// NoWorkers creates an error for a pool that could not determine its size.
func NoWorkers() *AppError {
	return &AppError{
		Code:    ErrCodeNoWorkers,
		Message: "unable to detect the number of cores and no worker count configured",
	}
}

// --- Configuration errors ---

// InvalidConfig creates an error for a configuration field that failed validation.
func InvalidConfig(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code:    ErrCodeInvalidConfig,
		Message: fmt.Sprintf("invalid config: %s", reason),
		Details: details,
	}
}

// Internal creates an error for an unexpected failure.
func Internal(cause error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: "an unexpected error occurred",
		Cause:   cause,
	}
}

// --- Inspection helpers ---

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err (or anything it wraps) is an AppError with code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// IsRetryable reports whether err is an AppError marked retryable.
func IsRetryable(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Retryable
}
