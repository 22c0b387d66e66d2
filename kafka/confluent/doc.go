// Package confluent is a kafka driver built on confluent-kafka-go
// (librdkafka). It needs cgo and is only compiled with the confluent build
// tag:
//
//	go build -tags confluent ./cmd/brokerpool
//
// and selected with kafka.driver: confluent.
package confluent
