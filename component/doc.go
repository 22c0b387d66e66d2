// Package component manages the lifecycle of the long-lived pieces of a
// brokerpool process: the Redis sink connection and the worker-pool runner.
//
// Components start in registration order and stop in reverse. A component
// that fails to start causes every component already started to be stopped
// again, so a failed start never leaves half the process running.
package component
