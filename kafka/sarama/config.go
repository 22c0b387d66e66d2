package sarama

import (
	"fmt"

	sr "github.com/IBM/sarama"
	"github.com/xdg-go/scram"

	"github.com/kbukum/brokerpool/kafka"
)

// Version is the protocol version negotiated with the cluster.
var Version = sr.V2_8_0_0

// newConfig maps the shared broker config onto a sarama config.
func newConfig(cfg kafka.Config, clientID string) (*sr.Config, error) {
	sc := sr.NewConfig()
	sc.Version = Version
	sc.ClientID = clientID

	sc.Net.DialTimeout = cfg.DialTimeout
	sc.Metadata.RefreshFrequency = cfg.MetadataTTL
	sc.Metadata.Retry.Max = 1

	tc, err := kafka.TLSConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("TLS config: %w", err)
	}
	if tc != nil {
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = tc
	}

	if cfg.EnableSASL {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User = cfg.Username
		sc.Net.SASL.Password = cfg.Password
		switch cfg.SASLMechanism {
		case "PLAIN":
			sc.Net.SASL.Mechanism = sr.SASLTypePlaintext
		case "SCRAM-SHA-256":
			sc.Net.SASL.Mechanism = sr.SASLTypeSCRAMSHA256
			sc.Net.SASL.SCRAMClientGeneratorFunc = func() sr.SCRAMClient {
				return &scramClient{HashGeneratorFcn: scram.SHA256}
			}
		case "SCRAM-SHA-512":
			sc.Net.SASL.Mechanism = sr.SASLTypeSCRAMSHA512
			sc.Net.SASL.SCRAMClientGeneratorFunc = func() sr.SCRAMClient {
				return &scramClient{HashGeneratorFcn: scram.SHA512}
			}
		default:
			return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.SASLMechanism)
		}
	}

	// consumer
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.Initial = sr.OffsetOldest
	if cfg.OffsetReset == kafka.OffsetLatest {
		sc.Consumer.Offsets.Initial = sr.OffsetNewest
	}
	sc.Consumer.Group.Session.Timeout = cfg.SessionTimeout
	sc.Consumer.Group.Heartbeat.Interval = cfg.HeartbeatInterval
	sc.Consumer.Group.Rebalance.Timeout = cfg.RebalanceTimeout

	// producer
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = sr.RequiredAcks(cfg.RequiredAcks)
	sc.Producer.Compression = resolveCompression(cfg.Compression)
	sc.Producer.Partitioner = sr.NewRoundRobinPartitioner
	sc.Producer.Flush.Messages = cfg.BatchSize
	sc.Producer.Flush.Frequency = cfg.BatchTimeout
	sc.Producer.Timeout = cfg.WriteTimeout
	sc.ChannelBufferSize = cfg.QueueSize

	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

func resolveCompression(name string) sr.CompressionCodec {
	switch name {
	case "gzip":
		return sr.CompressionGZIP
	case "lz4":
		return sr.CompressionLZ4
	case "zstd":
		return sr.CompressionZSTD
	case "none":
		return sr.CompressionNone
	default:
		return sr.CompressionSnappy
	}
}

// scramClient adapts xdg-go/scram to sarama's SCRAMClient.
type scramClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (c *scramClient) Begin(userName, password, authzID string) error {
	client, err := c.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	c.Client = client
	c.ClientConversation = client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	return c.ClientConversation.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.ClientConversation.Done()
}
