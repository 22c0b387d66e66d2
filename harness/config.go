package harness

import (
	"fmt"

	"github.com/kbukum/brokerpool/config"
	"github.com/kbukum/brokerpool/kafka"
	"github.com/kbukum/brokerpool/observability"
	"github.com/kbukum/brokerpool/redis"
	"github.com/kbukum/brokerpool/resilience"
	"github.com/kbukum/brokerpool/validation"
	"github.com/kbukum/brokerpool/workerpool"
)

// AppName names the config file and the environment prefix.
const AppName = "brokerpool"

// Sink names for consumer.sink.
const (
	SinkRedis = "redis"
	SinkLog   = "log"
	SinkNone  = "none"
)

// ProducerConfig configures the produce command's workers.
type ProducerConfig struct {
	// RateLimit throttles each worker's sends. A zero rate sends flat out.
	RateLimit resilience.RateLimiterConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	// Message replaces the generated payload when set.
	Message string `yaml:"message" mapstructure:"message"`
}

// ConsumerConfig configures the consume command's workers.
type ConsumerConfig struct {
	// Sink is where handled messages are written: redis, log or none.
	Sink string `yaml:"sink" mapstructure:"sink" validate:"oneof=redis log none"`
	// Breaker guards the Redis sink. MaxFailures zero disables it.
	Breaker resilience.CircuitBreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// Config is the brokerpool configuration file.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Kafka    kafka.Config         `yaml:"kafka" mapstructure:"kafka"`
	Pool     workerpool.Config    `yaml:"pool" mapstructure:"pool"`
	Producer ProducerConfig       `yaml:"producer" mapstructure:"producer"`
	Consumer ConsumerConfig       `yaml:"consumer" mapstructure:"consumer"`
	Redis    redis.Config         `yaml:"redis" mapstructure:"redis"`
	Metrics  observability.Config `yaml:"metrics" mapstructure:"metrics"`
}

// ApplyDefaults applies defaults to every section.
func (c *Config) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	c.Kafka.ApplyDefaults()
	c.Pool.ApplyDefaults()
	c.Redis.ApplyDefaults()
	c.Metrics.ApplyDefaults()
	if c.Consumer.Sink == "" {
		if c.Redis.Enabled {
			c.Consumer.Sink = SinkRedis
		} else {
			c.Consumer.Sink = SinkLog
		}
	}
}

// Validate checks every section for role.
func (c *Config) Validate(role kafka.Role) error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Kafka.ValidateFor(role); err != nil {
		return err
	}
	if err := c.Pool.Validate(); err != nil {
		return err
	}
	if err := c.Redis.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}

	v := validation.New("")
	v.Merge(validation.Validate("consumer", &c.Consumer))
	if role == kafka.RoleConsumer && c.Consumer.Sink == SinkRedis {
		v.Custom(c.Redis.Enabled, "consumer.sink", "redis sink requires redis.enabled")
	}
	if c.Producer.RateLimit.Rate < 0 {
		v.AddError("producer.rate_limit.rate", "must be >= 0")
	}
	return v.Error()
}

// defaults registers every section with the loader so environment
// variables bind even when no config file is present.
func defaults() map[string]any {
	return map[string]any{
		"name":                     AppName,
		"environment":              "development",
		"logging.level":            "",
		"kafka.driver":             kafka.DefaultDriver,
		"kafka.brokers":            []string{"localhost:9092"},
		"kafka.topic":              "",
		"pool.workers":             0,
		"producer.message":         "",
		"producer.rate_limit.rate": 0.0,
		"consumer.sink":            "",
		"redis.enabled":            false,
		"metrics.enabled":          false,
	}
}

// Load reads the config file at path (or the default search locations when
// path is empty), the .env file and BROKERPOOL_* variables, then applies
// defaults. It does not validate.
func Load(path string) (*Config, error) {
	opts := []config.LoaderOption{
		config.WithEnvPrefix(AppName),
		config.WithDefaults(defaults()),
	}
	if path != "" {
		opts = append(opts, config.WithConfigFile(path))
	}

	var cfg Config
	if err := config.LoadConfig(AppName, &cfg, opts...); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}
