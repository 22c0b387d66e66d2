package redis

import (
	"time"

	"github.com/kbukum/brokerpool/validation"
)

// Config holds Redis connection and sink settings.
type Config struct {
	// Enabled controls whether consumed messages are written to Redis.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr" mapstructure:"addr" validate:"required,hostname_port"`

	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db" validate:"gte=0"`

	// KeyPrefix is prepended to every sink key, joined with a colon.
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`

	// TTL expires written keys. Zero keeps them forever.
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl" validate:"gte=0"`

	// PoolSize is the maximum number of socket connections.
	PoolSize     int `yaml:"pool_size" mapstructure:"pool_size" validate:"gte=0"`
	MinIdleConns int `yaml:"min_idle_conns" mapstructure:"min_idle_conns" validate:"gte=0"`

	// MaxRetries is the go-redis command retry count.
	MaxRetries      int           `yaml:"max_retries" mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `yaml:"min_retry_backoff" mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `yaml:"max_retry_backoff" mapstructure:"max_retry_backoff"`

	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	PoolTimeout  time.Duration `yaml:"pool_timeout" mapstructure:"pool_timeout"`

	ConnMaxIdleTime time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ConnMaxLifetime time.Duration `yaml:"max_conn_age" mapstructure:"max_conn_age"`
}

// ApplyDefaults sets defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.MinIdleConns <= 0 {
		c.MinIdleConns = 2
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.MinRetryBackoff == 0 {
		c.MinRetryBackoff = 8 * time.Millisecond
	}
	if c.MaxRetryBackoff == 0 {
		c.MaxRetryBackoff = 512 * time.Millisecond
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 3 * time.Second
	}
}

// Validate checks the fields. A disabled config is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	v := validation.New("redis")
	v.Merge(validation.Validate("redis", c))
	v.Custom(c.MaxRetryBackoff >= c.MinRetryBackoff, "max_retry_backoff",
		"must not be lower than min_retry_backoff")
	return v.Error()
}

// Key applies KeyPrefix to key.
func (c *Config) Key(key string) string {
	if c.KeyPrefix == "" {
		return key
	}
	return c.KeyPrefix + ":" + key
}
