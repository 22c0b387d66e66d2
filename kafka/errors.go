package kafka

import (
	stderrors "errors"
	"strings"

	"github.com/kbukum/brokerpool/errors"
)

// Driver sentinel errors. Drivers wrap client errors with these so the
// sessions can classify them without knowing the client library.
var (
	ErrClientClosed      = stderrors.New("kafka: client closed")
	ErrQueueFull         = stderrors.New("kafka: local queue full")
	ErrUnknownTopic      = stderrors.New("kafka: unknown topic or partition")
	ErrBrokerUnreachable = stderrors.New("kafka: broker unreachable")
)

// IsConnectionError checks if a client error is a connection-level error.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrBrokerUnreachable) {
		return true
	}
	return containsAny(err, []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"no route to host",
		"network is unreachable",
		"broker not available",
		"leader not available",
		"connection closed",
		"dial tcp",
		"network exception",
		"no such host",
		"all brokers down",
		"all broker connections are down",
		"broker transport failure",
		"client has run out of available brokers",
	})
}

// IsSubscriptionError checks if a client error means the topic cannot be
// subscribed to.
func IsSubscriptionError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrUnknownTopic) {
		return true
	}
	return containsAny(err, []string{
		"unknown topic",
		"invalid topic",
		"topic authorization failed",
		"authorization failed",
		"group authorization failed",
	})
}

// ConnectError maps a client construction error to CONNECTION_FAILED.
func ConnectError(cfg Config, err error) error {
	if errors.IsAppError(err) {
		return err
	}
	return errors.ConnectionFailed(cfg.Brokers, err)
}

// SubscribeError maps a subscribe error to SUBSCRIPTION_FAILED, or to
// CONNECTION_FAILED when the broker turned out to be unreachable.
func SubscribeError(cfg Config, err error) error {
	if errors.IsAppError(err) {
		return err
	}
	if IsConnectionError(err) && !IsSubscriptionError(err) {
		return errors.ConnectionFailed(cfg.Brokers, err)
	}
	return errors.SubscriptionFailed(cfg.Topic, err)
}

func containsAny(err error, patterns []string) bool {
	errStr := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}
