package bootstrap

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/kbukum/brokerpool/component"
	"github.com/kbukum/brokerpool/logger"
)

// DefaultGracefulTimeout bounds shutdown when no option overrides it.
const DefaultGracefulTimeout = 30 * time.Second

// WaitFunc blocks until the process should shut down.
type WaitFunc func(ctx context.Context, log *logger.Logger)

// App owns the component registry and the start/wait/stop sequence.
type App struct {
	Name       string
	Version    string
	Components *component.Registry
	Logger     *logger.Logger
	Summary    *Summary

	gracefulTimeout time.Duration

	onStart []Hook
	onReady []Hook
	onStop  []Hook
}

// NewApp creates an application with an empty registry.
func NewApp(name, version string, opts ...Option) *App {
	app := &App{
		Name:            name,
		Version:         version,
		gracefulTimeout: DefaultGracefulTimeout,
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.Logger == nil {
		app.Logger = logger.GetGlobalLogger()
	}
	app.Components = component.NewRegistry(app.Logger)
	app.Summary = NewSummary(name, version)
	return app
}

// Register adds a component. Register dependencies first.
func (a *App) Register(c component.Component) error {
	return a.Components.Register(c)
}

// GracefulTimeout returns the shutdown bound.
func (a *App) GracefulTimeout() time.Duration { return a.gracefulTimeout }

// ReadyCheck returns an error naming every component that is not healthy.
func (a *App) ReadyCheck(ctx context.Context) error {
	var unhealthy []string
	for _, h := range a.Components.HealthAll(ctx) {
		if !h.Healthy() {
			unhealthy = append(unhealthy, h.String())
		}
	}
	if len(unhealthy) > 0 {
		return fmt.Errorf("unhealthy components: %v", unhealthy)
	}
	return nil
}

// Run starts every component, blocks in wait, then shuts down. A failed
// start has already been rolled back by the registry.
func (a *App) Run(ctx context.Context, wait WaitFunc) error {
	if err := a.startup(ctx); err != nil {
		return err
	}
	wait(ctx, a.Logger)
	return a.stop()
}

// Shutdown runs the stop sequence. Use it when managing the wait yourself.
func (a *App) Shutdown() error {
	return a.stop()
}

func (a *App) startup(ctx context.Context) error {
	start := time.Now()
	a.Logger.Info("Starting application", logger.Fields(
		"name", a.Name,
		"version", a.Version,
	))

	if err := a.Components.StartAll(ctx); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	if err := runUntilError(ctx, "start", a.onStart); err != nil {
		a.rollback()
		return err
	}

	if err := a.ReadyCheck(ctx); err != nil {
		a.Logger.Warn("Ready check reported issues", logger.Fields(logger.FieldError, err.Error()))
	}

	if err := runUntilError(ctx, "ready", a.onReady); err != nil {
		a.rollback()
		return err
	}

	a.Summary.SetStartupDuration(time.Since(start))
	a.Summary.Log(ctx, a.Components, a.Logger)
	return nil
}

func (a *App) rollback() {
	if err := a.stop(); err != nil {
		a.Logger.Warn("Rollback after failed startup was incomplete", logger.ErrorFields("rollback", err))
	}
}

// stop runs OnStop hooks then stops every component within the graceful
// timeout.
func (a *App) stop() error {
	a.Logger.Info("Shutting down application", logger.Fields(
		"timeout", a.gracefulTimeout.String(),
	))

	ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()

	hookErr := runAll(ctx, "stop", a.onStop)
	if hookErr != nil {
		a.Logger.Error("Stop hooks failed", logger.ErrorFields("stop_hooks", hookErr))
	}
	stopErr := a.Components.StopAll(ctx)
	if stopErr != nil {
		a.Logger.Error("Shutdown completed with errors", logger.ErrorFields("stop_components", stopErr))
	}

	a.Logger.Info("Application shutdown complete")
	return stderrors.Join(hookErr, stopErr)
}
