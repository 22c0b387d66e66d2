package kafka

import (
	"context"
	"fmt"
	"time"
)

// Message is one record handed to a consumer handler. A Message with Err
// set carries a delivery error instead of a payload.
type Message struct {
	Key       []byte
	Payload   []byte
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Headers   map[string]string
	// Err is a per-message delivery error reported by the client.
	Err error
}

// SinkKey is the key a consumed message is stored under downstream.
func (m *Message) SinkKey() string {
	return fmt.Sprintf("%s:%d:%d", m.Topic, m.Partition, m.Offset)
}

// DeliveryReport is the outcome of one produced message.
type DeliveryReport struct {
	Topic     string
	Partition int
	Offset    int64
	Err       error
	// Opaque is the payload length, kept for logging.
	Opaque int
}

// Handler processes one consumed message. Errors are logged by the
// session and never stop the consume loop.
type Handler func(ctx context.Context, msg *Message) error

// Session is a per-worker broker client binding. It is owned by exactly
// one worker and must be closed on every exit path.
type Session interface {
	Connect(ctx context.Context) error
	Close() error
}
