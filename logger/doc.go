// Package logger provides structured logging using zerolog.
//
// Loggers are scoped per component (`kafka.consumer`, `workerpool`, ...) and
// every broker-facing log line carries the broker list, topic and operation
// so failures can be diagnosed from logs alone.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//	  output: "/var/log/brokerpool/pool.log"   # rotated with lumberjack
//	  max_size: 100
//
// # Usage
//
//	log := logger.New(&cfg, "brokerpool").WithComponent("workerpool")
//	log.Info("Starting workers", logger.Fields("count", 8))
package logger
