package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// NewClientID returns a unique client.id for one session.
func NewClientID(cfg Config, role Role, worker int) string {
	id := uuid.New().String()
	return fmt.Sprintf("%s-%s-%d-%s", cfg.ClientIDPrefix, role, worker, id[:8])
}

// TLSConfig builds the client TLS settings shared by every driver. It
// returns nil when TLS is disabled.
func TLSConfig(cfg Config) (*tls.Config, error) {
	if !cfg.EnableTLS {
		return nil, nil
	}
	tc := &tls.Config{
		InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // opt-in for test clusters
		MinVersion:         tls.VersionTLS12,
	}

	if cfg.TLSCAFile != "" {
		caCert, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parse CA certificate %s", cfg.TLSCAFile)
		}
		tc.RootCAs = pool
	}

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

// BrokerList joins brokers the way librdkafka-style clients expect.
func BrokerList(cfg Config) string {
	return strings.Join(cfg.Brokers, ",")
}
