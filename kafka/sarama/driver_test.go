package sarama

import (
	"testing"
	"time"

	sr "github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/brokerpool/kafka"
)

func testConfig() kafka.Config {
	cfg := kafka.Config{
		Driver:  DriverName,
		Brokers: []string{"127.0.0.1:1"},
		Topic:   "orders",
		GroupID: "billing",
	}
	cfg.ApplyDefaults()
	cfg.DialTimeout = 200 * time.Millisecond
	return cfg
}

func TestRegistered(t *testing.T) {
	assert.True(t, kafka.IsRegistered(DriverName))
}

func TestNewConfigMapsSettings(t *testing.T) {
	cfg := testConfig()
	cfg.OffsetReset = kafka.OffsetLatest
	cfg.Compression = "zstd"
	cfg.RequiredAcks = 1

	sc, err := newConfig(cfg, "bp-consumer-0-1234")
	require.NoError(t, err)
	assert.Equal(t, "bp-consumer-0-1234", sc.ClientID)
	assert.Equal(t, sr.OffsetNewest, sc.Consumer.Offsets.Initial)
	assert.Equal(t, sr.CompressionZSTD, sc.Producer.Compression)
	assert.Equal(t, sr.WaitForLocal, sc.Producer.RequiredAcks)
	assert.True(t, sc.Producer.Return.Successes)
	assert.True(t, sc.Consumer.Return.Errors)
	assert.Equal(t, cfg.QueueSize, sc.ChannelBufferSize)
	assert.False(t, sc.Net.TLS.Enable)
}

func TestNewConfigSASL(t *testing.T) {
	cfg := testConfig()
	cfg.EnableSASL = true
	cfg.Username, cfg.Password = "svc", "secret"

	cfg.SASLMechanism = "SCRAM-SHA-256"
	sc, err := newConfig(cfg, "c")
	require.NoError(t, err)
	assert.Equal(t, sr.SASLMechanism(sr.SASLTypeSCRAMSHA256), sc.Net.SASL.Mechanism)
	require.NotNil(t, sc.Net.SASL.SCRAMClientGeneratorFunc)
	assert.NoError(t, sc.Net.SASL.SCRAMClientGeneratorFunc().Begin("svc", "secret", ""))

	cfg.SASLMechanism = "OAUTHBEARER"
	_, err = newConfig(cfg, "c")
	assert.ErrorContains(t, err, "unsupported SASL mechanism")
}

func TestResolveCompression(t *testing.T) {
	assert.Equal(t, sr.CompressionGZIP, resolveCompression("gzip"))
	assert.Equal(t, sr.CompressionNone, resolveCompression("none"))
	assert.Equal(t, sr.CompressionSnappy, resolveCompression(""))
}

func TestUnreachableBrokerIsConnectionError(t *testing.T) {
	cfg := testConfig()

	_, err := Driver{}.NewConsumer(cfg, "c")
	require.Error(t, err)
	assert.True(t, kafka.IsConnectionError(err), "got %v", err)

	_, err = Driver{}.NewProducer(cfg, "p")
	require.Error(t, err)
	assert.True(t, kafka.IsConnectionError(err), "got %v", err)
}
