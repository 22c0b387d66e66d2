package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MessageContext tracks the handling of one consumed message.
type MessageContext struct {
	Worker    int
	Topic     string
	GroupID   string
	Partition int
	Offset    int64
	StartTime time.Time
	Metrics   *Metrics
}

// NewMessageContext creates a message context. If metrics is nil, metric
// recording is skipped.
func NewMessageContext(worker int, topic, groupID string, partition int, offset int64, metrics *Metrics) *MessageContext {
	return &MessageContext{
		Worker:    worker,
		Topic:     topic,
		GroupID:   groupID,
		Partition: partition,
		Offset:    offset,
		StartTime: time.Now(),
		Metrics:   metrics,
	}
}

type messageContextKey struct{}

// WithMessageContext stores mc in ctx.
func WithMessageContext(ctx context.Context, mc *MessageContext) context.Context {
	return context.WithValue(ctx, messageContextKey{}, mc)
}

// MessageContextFromContext retrieves the MessageContext from ctx, or nil.
func MessageContextFromContext(ctx context.Context) *MessageContext {
	if mc, ok := ctx.Value(messageContextKey{}).(*MessageContext); ok {
		return mc
	}
	return nil
}

// StartSpan starts a consume span for the message and records the receive.
func (mc *MessageContext) StartSpan(ctx context.Context) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrPartition, mc.Partition),
		attribute.Int64(AttrOffset, mc.Offset),
		attribute.Int(AttrWorker, mc.Worker),
	}
	if mc.GroupID != "" {
		attrs = append(attrs, attribute.String(AttrConsumerGroup, mc.GroupID))
	}
	ctx, span := StartMessageSpan(ctx, SpanConsume, mc.Topic, trace.SpanKindConsumer, attrs...)
	mc.Metrics.RecordReceived(ctx, mc.Topic)
	return WithMessageContext(ctx, mc), span
}

// End ends the span and records the handling duration.
func (mc *MessageContext) End(ctx context.Context, span trace.Span, err error) {
	d := mc.Duration()
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(AttrErrorMessage, err.Error()))
	}
	span.SetAttributes(
		attribute.String(AttrStatus, status),
		attribute.Int64(AttrDurationMs, d.Milliseconds()),
	)
	span.End()
	mc.Metrics.RecordHandle(ctx, mc.Topic, d)
}

// Duration returns the time since the message was received.
func (mc *MessageContext) Duration() time.Duration {
	return time.Since(mc.StartTime)
}
