// Package redis is the key-value store consumed messages are written to.
//
// Client wraps go-redis with the brokerpool logger and a Write method that
// stores one message under its sink key with the configured TTL.
// Component wraps Client for the component registry: it connects on Start,
// pings on Health and closes on Stop.
//
//	comp := redis.NewComponent(cfg.Redis, log)
//	registry.Register(comp)
//	// after StartAll:
//	comp.Client().Write(ctx, "orders:0:42", payload)
package redis
