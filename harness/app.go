package harness

import (
	"context"
	"time"

	"github.com/kbukum/brokerpool/bootstrap"
	"github.com/kbukum/brokerpool/kafka"
	"github.com/kbukum/brokerpool/logger"
	"github.com/kbukum/brokerpool/observability"
	"github.com/kbukum/brokerpool/redis"
	"github.com/kbukum/brokerpool/sink"
)

// shutdownSlack is added to the producer flush deadline to form the
// graceful shutdown bound.
const shutdownSlack = 5 * time.Second

// App is a runnable consume or produce process.
type App struct {
	*bootstrap.App

	Config *Config
	Runner *Runner
	// Redis is set when the consumer writes to the Redis sink.
	Redis *redis.Component

	shutdownTelemetry func(context.Context) error
}

// NewApp assembles the registry for role: the Redis component first when
// the consumer sink needs it, then the runner. Options are passed to the
// runner and override the sink chosen from the config.
func NewApp(cfg *Config, role kafka.Role, version string, log *logger.Logger, opts ...Option) (*App, error) {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	metrics, err := observability.NewMetrics(observability.Meter(AppName))
	if err != nil {
		return nil, err
	}

	a := &App{
		App: bootstrap.NewApp(cfg.Name, version,
			bootstrap.WithLogger(log),
			bootstrap.WithGracefulTimeout(cfg.Kafka.FlushTimeout+shutdownSlack),
		),
		Config: cfg,
	}

	runnerOpts := []Option{WithLogger(log), WithMetrics(metrics)}
	if role == kafka.RoleConsumer {
		s, comp := a.buildSink(log, metrics)
		a.Redis = comp
		runnerOpts = append(runnerOpts, WithSink(s))
	}
	runnerOpts = append(runnerOpts, opts...)

	runner, err := NewRunner(*cfg, role, runnerOpts...)
	if err != nil {
		return nil, err
	}
	a.Runner = runner

	if a.Redis != nil {
		if err := a.Register(a.Redis); err != nil {
			return nil, err
		}
	}
	if err := a.Register(runner); err != nil {
		return nil, err
	}
	return a, nil
}

// buildSink returns the sink named by consumer.sink, plus the Redis
// component backing it when that sink is redis.
func (a *App) buildSink(log *logger.Logger, metrics *observability.Metrics) (sink.Sink, *redis.Component) {
	switch a.Config.Consumer.Sink {
	case SinkNone:
		return sink.Nop{}, nil
	case SinkRedis:
		comp := redis.NewComponent(a.Config.Redis, log)
		w := sink.WriterFunc(func(ctx context.Context, key string, value []byte) error {
			client := comp.Client()
			if client == nil {
				return redis.ErrClosed
			}
			return client.Write(ctx, key, value)
		})
		opts := []sink.Option{sink.WithLogger(log), sink.WithMetrics(metrics)}
		if a.Config.Consumer.Breaker.MaxFailures > 0 {
			opts = append(opts, sink.WithBreaker(a.Config.Consumer.Breaker))
		}
		return sink.New(SinkRedis, w, opts...), comp
	default:
		return sink.Log{Logger: log}, nil
	}
}

// Run starts telemetry export and every component, blocks in wait, then
// shuts down in reverse order.
func (a *App) Run(ctx context.Context, wait bootstrap.WaitFunc) error {
	shutdown, err := observability.Init(ctx, a.Config.Metrics, a.Config.Name, a.Version, a.Config.Environment)
	if err != nil {
		return err
	}
	a.shutdownTelemetry = shutdown
	defer a.flushTelemetry()

	return a.App.Run(ctx, wait)
}

func (a *App) flushTelemetry() {
	if a.shutdownTelemetry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownSlack)
	defer cancel()
	if err := a.shutdownTelemetry(ctx); err != nil {
		a.Logger.Warn("Telemetry shutdown failed", logger.ErrorFields("shutdown", err))
	}
}
