package kafkago

import (
	"context"
	stderrors "errors"
	"fmt"

	kgo "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/kbukum/brokerpool/kafka"
)

// newTransport builds the producer transport with optional TLS/SASL.
func newTransport(cfg kafka.Config, clientID string) (*kgo.Transport, error) {
	transport := &kgo.Transport{
		ClientID:    clientID,
		DialTimeout: cfg.DialTimeout,
		IdleTimeout: cfg.IdleTimeout,
		MetadataTTL: cfg.MetadataTTL,
	}

	tc, err := kafka.TLSConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("TLS config: %w", err)
	}
	transport.TLS = tc

	if cfg.EnableSASL {
		m, err := saslMechanism(cfg)
		if err != nil {
			return nil, fmt.Errorf("SASL config: %w", err)
		}
		transport.SASL = m
	}
	return transport, nil
}

// newDialer builds the consumer dialer with optional TLS/SASL.
func newDialer(cfg kafka.Config, clientID string) (*kgo.Dialer, error) {
	dialer := &kgo.Dialer{
		ClientID:  clientID,
		Timeout:   cfg.DialTimeout,
		DualStack: true,
	}

	tc, err := kafka.TLSConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("TLS config: %w", err)
	}
	dialer.TLS = tc

	if cfg.EnableSASL {
		m, err := saslMechanism(cfg)
		if err != nil {
			return nil, fmt.Errorf("SASL config: %w", err)
		}
		dialer.SASLMechanism = m
	}
	return dialer, nil
}

func saslMechanism(cfg kafka.Config) (sasl.Mechanism, error) {
	switch cfg.SASLMechanism {
	case "PLAIN":
		return plain.Mechanism{
			Username: cfg.Username,
			Password: cfg.Password,
		}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.SASLMechanism)
	}
}

// ResolveCompression maps a compression name to a kafka-go codec.
func ResolveCompression(name string) kgo.Compression {
	switch name {
	case "gzip":
		return kgo.Gzip
	case "lz4":
		return kgo.Lz4
	case "zstd":
		return kgo.Zstd
	case "snappy":
		return kgo.Snappy
	case "none":
		return 0
	default:
		return kgo.Snappy
	}
}

// probe dials the bootstrap brokers in order and succeeds on the first
// reachable one. kafka-go connects lazily, so this is what turns an
// unreachable cluster into a connect-time error.
func probe(cfg kafka.Config, dialer *kgo.Dialer) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	var errs []error
	for _, addr := range cfg.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_ = conn.Close()
		return addr, nil
	}
	return "", stderrors.Join(errs...)
}
