//go:build confluent

package main

import _ "github.com/kbukum/brokerpool/kafka/confluent"
