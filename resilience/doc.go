// Package resilience provides the fault-tolerance primitives used around
// broker and sink calls:
//   - Retry: exponential backoff for session connects (opt-in)
//   - CircuitBreaker: fails sink writes fast while the sink is down
//   - RateLimiter: token bucket pacing for producer workers
//
// Each primitive takes a config struct with mapstructure tags so it can be
// set from the config file directly.
package resilience
