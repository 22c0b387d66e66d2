package kafka

import (
	"fmt"
	"time"

	"github.com/kbukum/brokerpool/resilience"
	"github.com/kbukum/brokerpool/validation"
)

// Role selects which side of the pipeline a session plays.
type Role string

const (
	RoleConsumer Role = "consumer"
	RoleProducer Role = "producer"
)

// OffsetReset is where a consumer group without a committed offset starts.
type OffsetReset string

const (
	OffsetEarliest OffsetReset = "earliest"
	OffsetLatest   OffsetReset = "latest"
)

// AckMode controls whether Send waits for the local delivery-report queue.
type AckMode string

const (
	// AckFireAndForget returns as soon as the message is enqueued.
	AckFireAndForget AckMode = "fire_and_forget"
	// AckWaitLocal polls the delivery-report queue once before returning.
	AckWaitLocal AckMode = "wait_local_ack"
)

// Default timings.
const (
	DefaultReceiveTimeout = time.Second
	DefaultFlushTimeout   = 10 * time.Second
	DefaultAckPollTimeout = 100 * time.Millisecond
	DefaultQueueSize      = 10000
)

// ConnectRetryConfig enables retrying CONNECTION_FAILED during Connect.
// Disabled by default: a failed connect is fatal to the session.
type ConnectRetryConfig struct {
	Enabled                bool `yaml:"enabled" mapstructure:"enabled"`
	resilience.RetryConfig `yaml:",inline" mapstructure:",squash"`
}

// Config holds broker connection and session settings.
type Config struct {
	// Driver selects the registered client implementation.
	Driver string `yaml:"driver" mapstructure:"driver" validate:"required"`

	// Brokers is the ordered list of host:port bootstrap addresses.
	Brokers []string `yaml:"brokers" mapstructure:"brokers" validate:"required,min=1,dive,hostname_port"`

	// Topic is the single topic every session binds to.
	Topic string `yaml:"topic" mapstructure:"topic" validate:"required"`

	// GroupID is the consumer group. Present iff the role is consumer.
	GroupID string `yaml:"group_id" mapstructure:"group_id"`

	OffsetReset OffsetReset `yaml:"offset_reset" mapstructure:"offset_reset" validate:"oneof=earliest latest"`
	AckMode     AckMode     `yaml:"ack_mode" mapstructure:"ack_mode" validate:"oneof=fire_and_forget wait_local_ack"`

	// ClientIDPrefix is combined with a per-session UUID to form client.id.
	ClientIDPrefix string `yaml:"client_id_prefix" mapstructure:"client_id_prefix"`

	// TLS
	EnableTLS     bool   `yaml:"enable_tls" mapstructure:"enable_tls"`
	TLSSkipVerify bool   `yaml:"tls_skip_verify" mapstructure:"tls_skip_verify"`
	TLSCAFile     string `yaml:"tls_ca_file" mapstructure:"tls_ca_file"`
	TLSCertFile   string `yaml:"tls_cert_file" mapstructure:"tls_cert_file"`
	TLSKeyFile    string `yaml:"tls_key_file" mapstructure:"tls_key_file"`

	// SASL
	EnableSASL    bool   `yaml:"enable_sasl" mapstructure:"enable_sasl"`
	SASLMechanism string `yaml:"sasl_mechanism" mapstructure:"sasl_mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username      string `yaml:"username" mapstructure:"username"`
	Password      string `yaml:"password" mapstructure:"password"`

	// Producer settings
	Compression  string        `yaml:"compression" mapstructure:"compression" validate:"oneof=none gzip snappy lz4 zstd"`
	RequiredAcks int           `yaml:"required_acks" mapstructure:"required_acks" validate:"oneof=-1 0 1"`
	BatchSize    int           `yaml:"batch_size" mapstructure:"batch_size" validate:"gte=1"`
	BatchTimeout time.Duration `yaml:"batch_timeout" mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	// QueueSize bounds messages enqueued but not yet reported. Send fails
	// with SEND_FAILED when it is reached.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size" validate:"gte=1"`
	// FlushTimeout bounds the flush performed by producer Close.
	FlushTimeout time.Duration `yaml:"flush_timeout" mapstructure:"flush_timeout" validate:"gt=0"`
	// AckPollTimeout is how long Send polls for reports in wait_local_ack mode.
	AckPollTimeout time.Duration `yaml:"ack_poll_timeout" mapstructure:"ack_poll_timeout" validate:"gt=0"`

	// Consumer settings
	ReceiveTimeout    time.Duration `yaml:"receive_timeout" mapstructure:"receive_timeout" validate:"gt=0"`
	SessionTimeout    time.Duration `yaml:"session_timeout" mapstructure:"session_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	RebalanceTimeout  time.Duration `yaml:"rebalance_timeout" mapstructure:"rebalance_timeout"`

	// Connection settings
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MetadataTTL time.Duration `yaml:"metadata_ttl" mapstructure:"metadata_ttl"`

	ConnectRetry ConnectRetryConfig `yaml:"connect_retry" mapstructure:"connect_retry"`
}

// ApplyDefaults sets defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Driver == "" {
		c.Driver = DefaultDriver
	}
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.OffsetReset == "" {
		c.OffsetReset = OffsetEarliest
	}
	if c.AckMode == "" {
		c.AckMode = AckFireAndForget
	}
	if c.ClientIDPrefix == "" {
		c.ClientIDPrefix = "brokerpool"
	}
	if c.Compression == "" {
		c.Compression = "snappy"
	}
	if c.RequiredAcks == 0 {
		c.RequiredAcks = -1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 10 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	if c.AckPollTimeout <= 0 {
		c.AckPollTimeout = DefaultAckPollTimeout
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = DefaultReceiveTimeout
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 3 * time.Second
	}
	if c.RebalanceTimeout <= 0 {
		c.RebalanceTimeout = 30 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.MetadataTTL <= 0 {
		c.MetadataTTL = 6 * time.Second
	}
	if c.SASLMechanism == "" && c.EnableSASL {
		c.SASLMechanism = "PLAIN"
	}
	if c.ConnectRetry.Enabled {
		c.ConnectRetry.ApplyDefaults()
	}
}

// Validate checks the role-independent fields.
func (c *Config) Validate() error {
	v := validation.New("kafka")
	v.Merge(validation.Validate("kafka", c))

	if c.Driver != "" && !IsRegistered(c.Driver) {
		v.AddError("driver", fmt.Sprintf("unknown driver %q (registered: %v)", c.Driver, Drivers()))
	}
	if c.EnableSASL {
		v.OneOf("sasl_mechanism", c.SASLMechanism, []string{"PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"})
		v.Required("username", c.Username)
	}
	if c.EnableTLS {
		v.Custom((c.TLSCertFile == "") == (c.TLSKeyFile == ""), "tls_cert_file",
			"tls_cert_file and tls_key_file must be set together")
	}
	if c.ConnectRetry.Enabled {
		v.Min("connect_retry.max_attempts", c.ConnectRetry.MaxAttempts, 1)
	}
	return v.Error()
}

// ValidateFor checks Validate plus the role invariant: a consumer needs a
// group id and a producer must not have one.
func (c *Config) ValidateFor(role Role) error {
	v := validation.New("kafka")
	v.Merge(c.Validate())
	switch role {
	case RoleConsumer:
		v.Required("group_id", c.GroupID)
	case RoleProducer:
		v.Forbidden("group_id", c.GroupID, "must be empty for producers")
	default:
		v.AddError("role", fmt.Sprintf("unknown role %q", role))
	}
	return v.Error()
}

// ForRole returns a copy of c suitable for role. A producer copy drops the
// group id so one config file can drive both commands.
func (c Config) ForRole(role Role) Config {
	if role == RoleProducer {
		c.GroupID = ""
	}
	return c
}
