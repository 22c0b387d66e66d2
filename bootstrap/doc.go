// Package bootstrap runs a brokerpool process: it starts the registered
// components, waits for the caller's stop condition, then shuts everything
// down within a graceful timeout.
//
//	app := bootstrap.NewApp("brokerpool", version, bootstrap.WithLogger(log))
//	_ = app.Register(redisComponent)
//	_ = app.Register(runner)
//	err := app.Run(ctx, bootstrap.WaitForSignal)
//
// The produce command waits with WaitForEnterOrSignal so that pressing
// Enter stops the pool, as does SIGINT or SIGTERM.
package bootstrap
