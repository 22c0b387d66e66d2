package workerpool

import (
	"github.com/kbukum/brokerpool/validation"
)

// Config sizes a Pool.
type Config struct {
	// Workers is the worker count. Zero means one worker per hardware thread.
	Workers int `yaml:"workers" mapstructure:"workers" validate:"gte=0"`
	// MaxWorkers caps the resolved count. Zero means unbounded.
	MaxWorkers int `yaml:"max_workers" mapstructure:"max_workers" validate:"gte=0"`
}

// ApplyDefaults is a no-op; both fields default to zero.
func (c *Config) ApplyDefaults() {}

// Validate checks the worker bounds.
func (c *Config) Validate() error {
	v := validation.New("pool")
	v.Merge(validation.Validate("pool", c))
	if c.MaxWorkers > 0 && c.Workers > c.MaxWorkers {
		v.AddError("workers", "must not exceed max_workers")
	}
	return v.Error()
}
