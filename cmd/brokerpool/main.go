// Command brokerpool runs a pool of Kafka consumer or producer workers,
// one broker session per worker.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kbukum/brokerpool/bootstrap"
	"github.com/kbukum/brokerpool/hardware"
	"github.com/kbukum/brokerpool/harness"
	"github.com/kbukum/brokerpool/kafka"
	"github.com/kbukum/brokerpool/logger"
	"github.com/kbukum/brokerpool/version"

	_ "github.com/kbukum/brokerpool/kafka/kafkago"
	_ "github.com/kbukum/brokerpool/kafka/memory"
	_ "github.com/kbukum/brokerpool/kafka/sarama"
)

// Globals are shared by every command.
type Globals struct {
	Config string `help:"Config file path. Defaults to ./brokerpool.yml and the usual search locations." short:"c" type:"path"`

	stdin  io.Reader
	stdout io.Writer
}

// KafkaFlags override the kafka and pool sections of the config file.
type KafkaFlags struct {
	Brokers     []string `help:"Bootstrap brokers (host:port), comma separated." sep:","`
	Topic       string   `help:"Topic to consume from or produce to." short:"t"`
	Driver      string   `help:"Client driver: kafkago, sarama, confluent or memory."`
	OffsetReset string   `help:"Where a new consumer group starts: earliest or latest." name:"offset-reset"`
	AckMode     string   `help:"Producer acks: fire_and_forget or wait_local_ack." name:"ack-mode"`
	Workers     int      `help:"Worker count. Zero sizes the pool to the hardware threads." short:"w"`
}

func (f KafkaFlags) apply(cfg *harness.Config) {
	if len(f.Brokers) > 0 {
		cfg.Kafka.Brokers = f.Brokers
	}
	if f.Topic != "" {
		cfg.Kafka.Topic = f.Topic
	}
	if f.Driver != "" {
		cfg.Kafka.Driver = f.Driver
	}
	if f.OffsetReset != "" {
		cfg.Kafka.OffsetReset = kafka.OffsetReset(f.OffsetReset)
	}
	if f.AckMode != "" {
		cfg.Kafka.AckMode = kafka.AckMode(f.AckMode)
	}
	if f.Workers > 0 {
		cfg.Pool.Workers = f.Workers
	}
}

// ConsumeCmd runs consumer workers until SIGINT or SIGTERM.
type ConsumeCmd struct {
	KafkaFlags

	Group string `help:"Consumer group id." short:"g"`
	Sink  string `help:"Where messages are written: redis, log or none."`
}

func (c *ConsumeCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return err
	}
	c.apply(cfg)
	if c.Group != "" {
		cfg.Kafka.GroupID = c.Group
	}
	if c.Sink != "" {
		cfg.Consumer.Sink = c.Sink
	}
	return runApp(cfg, kafka.RoleConsumer, bootstrap.WaitForSignal)
}

// ProduceCmd runs producer workers until Enter, SIGINT or SIGTERM.
type ProduceCmd struct {
	KafkaFlags

	Message string  `help:"Fixed payload instead of the generated one." short:"m"`
	Rate    float64 `help:"Sends per second per worker. Zero is unthrottled."`
}

func (c *ProduceCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return err
	}
	c.apply(cfg)
	if c.Message != "" {
		cfg.Producer.Message = c.Message
	}
	if c.Rate > 0 {
		cfg.Producer.RateLimit.Rate = c.Rate
	}
	return runApp(cfg, kafka.RoleProducer, bootstrap.WaitForEnterOrSignal(g.stdin))
}

// CoresCmd prints the hardware thread count the pool would size to.
type CoresCmd struct {
	JSON bool `help:"Print the full CPU description as JSON."`
}

func (c *CoresCmd) Run(g *Globals) error {
	if !c.JSON {
		_, err := fmt.Fprintf(g.stdout, "Number of cores: %d\n", hardware.Cores())
		return err
	}
	enc := json.NewEncoder(g.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(hardware.Detect())
}

// VersionCmd prints the build identity.
type VersionCmd struct{}

func (VersionCmd) Run(g *Globals) error {
	_, err := fmt.Fprintln(g.stdout, version.Banner(harness.AppName))
	return err
}

// CLI is the brokerpool command line.
type CLI struct {
	Globals

	Consume ConsumeCmd `cmd:"" help:"Consume a topic with one consumer session per worker."`
	Produce ProduceCmd `cmd:"" help:"Produce to a topic with one producer session per worker."`
	Cores   CoresCmd   `cmd:"" help:"Print the number of hardware threads."`
	Version VersionCmd `cmd:"" help:"Print the version."`
}

func loadConfig(path string) (*harness.Config, error) {
	cfg, err := harness.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(&cfg.Logging)
	return cfg, nil
}

func runApp(cfg *harness.Config, role kafka.Role, wait bootstrap.WaitFunc) error {
	log := logger.GetGlobalLogger()
	app, err := harness.NewApp(cfg, role, version.Short(), log)
	if err != nil {
		return err
	}
	return app.Run(context.Background(), wait)
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	cli := CLI{Globals: Globals{stdin: stdin, stdout: stdout}}
	parser, err := kong.New(&cli,
		kong.Name(harness.AppName),
		kong.Description("Concurrent Kafka consume/produce harness."),
		kong.Writers(stdout, os.Stderr),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kctx.Run(&cli.Globals)
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "brokerpool:", err)
		os.Exit(1)
	}
}
