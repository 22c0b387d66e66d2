// Package kafka defines the broker configuration and the client contract
// shared by the consumer and producer sessions.
//
// The wire protocol lives in drivers that register themselves by name:
//
//   - kafkago: segmentio/kafka-go (default)
//   - sarama: IBM/sarama
//   - confluent: confluent-kafka-go, built with -tags confluent
//   - memory: in-process broker for tests and dry runs
//
// A session looks up cfg.Driver, creates one client per worker and owns it
// until Close. Drivers report failures through the sentinel errors in this
// package, which ConnectError and SubscribeError turn into CONNECTION_FAILED
// and SUBSCRIPTION_FAILED.
//
// # Configuration
//
//	kafka:
//	  driver: kafkago
//	  brokers: ["localhost:9092"]
//	  topic: events
//	  group_id: pipeline   # consumers only
//	  offset_reset: earliest
//	  ack_mode: fire_and_forget
package kafka
