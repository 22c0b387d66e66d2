package bootstrap

import (
	"time"

	"github.com/kbukum/brokerpool/logger"
)

// Option configures the App during creation.
type Option func(*App)

// WithLogger sets the application logger. Defaults to the global logger.
func WithLogger(l *logger.Logger) Option {
	return func(a *App) { a.Logger = l }
}

// WithGracefulTimeout bounds shutdown. The producer flush deadline should
// fit inside it.
func WithGracefulTimeout(d time.Duration) Option {
	return func(a *App) { a.gracefulTimeout = d }
}
