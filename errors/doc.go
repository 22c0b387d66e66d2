// Package errors provides the structured error type shared by the broker
// sessions, the worker pool and the sink.
//
// Every failure carries a machine-readable code so callers can tell fatal
// session-construction failures (CONNECTION_FAILED, SUBSCRIPTION_FAILED) apart
// from the non-fatal ones that are only logged (SEND_FAILED, FLUSH_TIMEOUT,
// DELIVERY_FAILED).
package errors
