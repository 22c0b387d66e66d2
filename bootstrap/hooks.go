package bootstrap

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Hook is a lifecycle callback.
type Hook func(ctx context.Context) error

// OnStart adds hooks that run once every component has started. A failing
// hook rolls the startup back.
func (a *App) OnStart(hooks ...Hook) { a.onStart = append(a.onStart, hooks...) }

// OnReady adds hooks that run after the ready check, right before wait.
func (a *App) OnReady(hooks ...Hook) { a.onReady = append(a.onReady, hooks...) }

// OnStop adds hooks that run before components are stopped. Every stop
// hook runs even if an earlier one fails.
func (a *App) OnStop(hooks ...Hook) { a.onStop = append(a.onStop, hooks...) }

// runUntilError runs hooks in order and stops at the first failure.
func runUntilError(ctx context.Context, phase string, hooks []Hook) error {
	for i, h := range hooks {
		if err := h(ctx); err != nil {
			return fmt.Errorf("%s hook %d: %w", phase, i, err)
		}
	}
	return nil
}

// runAll runs every hook and joins their failures.
func runAll(ctx context.Context, phase string, hooks []Hook) error {
	var errs []error
	for i, h := range hooks {
		if err := h(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s hook %d: %w", phase, i, err))
		}
	}
	return stderrors.Join(errs...)
}
