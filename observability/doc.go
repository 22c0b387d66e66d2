// Package observability wires OpenTelemetry metrics and tracing into the
// worker pool and broker sessions.
//
// Providers are exported over OTLP/HTTP when enabled:
//
//	shutdown, err := observability.Init(ctx, cfg.Metrics, "brokerpool", version, env)
//	defer shutdown(ctx)
//
//	metrics, err := observability.NewMetrics(observability.Meter("brokerpool"))
//
// A nil *Metrics is valid and records nothing, so sessions built without
// telemetry need no special casing.
package observability
