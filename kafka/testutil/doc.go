// Package testutil provides in-memory broker fixtures for kafka tests.
//
// # Quick Start
//
//	b := testutil.NewBroker(t, memory.WithPartitions(2))
//	cfg := testutil.ConsumerConfig(b, "orders", "billing")
//
//	// Publish directly, then read what producers wrote
//	b.Publish("orders", nil, []byte("hello"))
//	msgs := testutil.WaitForMessages(t, b, "orders", 1, time.Second)
package testutil
