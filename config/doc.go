// Package config loads brokerpool configuration.
//
// Values come from a YAML file (config.yml), an optional .env file and the
// process environment, in that order of increasing precedence. Environment
// variables map onto nested keys by splitting on underscores, so
// KAFKA_BROKERS sets kafka.brokers and POOL_MAX_WORKERS sets
// pool.max_workers.
//
//	var cfg harness.Config
//	err := config.LoadConfig("brokerpool", &cfg, config.WithConfigFile(path))
package config
