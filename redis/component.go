package redis

import (
	"context"
	"fmt"

	"github.com/kbukum/brokerpool/component"
	"github.com/kbukum/brokerpool/logger"
)

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// Component connects the Redis client on Start and closes it on Stop.
type Component struct {
	cfg    Config
	log    *logger.Logger
	client *Client
	lazy   *component.Lazy
}

// NewComponent creates a Redis component for the component registry.
func NewComponent(cfg Config, log *logger.Logger) *Component {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	c := &Component{
		cfg: cfg,
		log: log.WithComponent("redis"),
	}
	c.lazy = component.NewLazy("redis", c.connect).
		WithHealthCheck(func(ctx context.Context) error { return c.client.Ping(ctx) }).
		WithCloser(func() error { return c.client.Close() })
	return c
}

func (c *Component) connect(ctx context.Context) error {
	client, err := New(c.cfg, c.log)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return err
	}
	c.client = client
	return nil
}

// Client returns the connected client, or nil before Start.
func (c *Component) Client() *Client {
	if !c.lazy.IsInitialized() {
		return nil
	}
	return c.client
}

// Name returns the component name.
func (c *Component) Name() string { return "redis" }

// Start connects and pings Redis.
func (c *Component) Start(ctx context.Context) error {
	if err := c.lazy.Initialize(ctx); err != nil {
		return fmt.Errorf("redis start: %w", err)
	}
	c.log.Info("Redis component started", logger.Fields("addr", c.cfg.Addr))
	return nil
}

// Stop closes the Redis connection.
func (c *Component) Stop(_ context.Context) error {
	return c.lazy.Close()
}

// Health pings Redis.
func (c *Component) Health(ctx context.Context) component.Health {
	if err := c.lazy.HealthCheck(ctx); err != nil {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: err.Error(),
		}
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}

// Describe summarizes the connection for the startup log.
func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "Redis",
		Type:    "redis",
		Details: fmt.Sprintf("%s db=%d pool=%d", c.cfg.Addr, c.cfg.DB, c.cfg.PoolSize),
	}
}
