// Package config loads the daemon configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ttasket/qubes-events/payload"
)

// Transport kinds accepted in QUBES_EVENTS_TRANSPORT.
const (
	TransportChannel = "channel"
	TransportRedis   = "redis"
	TransportNATS    = "nats"
	TransportKafka   = "kafka"
	TransportGRPC    = "grpc"
)

var transports = []string{TransportChannel, TransportRedis, TransportNATS, TransportKafka, TransportGRPC}

// Validation errors.
var (
	ErrUnknownTransport = errors.New("unknown transport")
	ErrUnknownCodec     = errors.New("unknown codec")
)

// Config is the daemon configuration.
type Config struct {
	ServiceName string     `env:"QUBES_EVENTS_SERVICE_NAME" envDefault:"qubes-eventsd"`
	LogLevel    slog.Level `env:"QUBES_EVENTS_LOG_LEVEL" envDefault:"info"`

	Transport string `env:"QUBES_EVENTS_TRANSPORT" envDefault:"channel"`
	Topic     string `env:"QUBES_EVENTS_TOPIC" envDefault:"qubes.events"`
	Codec     string `env:"QUBES_EVENTS_CODEC" envDefault:"application/json"`

	// Relay throttling; zero disables it.
	RelayRate  float64 `env:"QUBES_EVENTS_RELAY_RATE" envDefault:"0"`
	RelayBurst int     `env:"QUBES_EVENTS_RELAY_BURST" envDefault:"100"`

	RedisAddr      string        `env:"QUBES_EVENTS_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisMaxLen    int64         `env:"QUBES_EVENTS_REDIS_MAXLEN" envDefault:"10000"`
	RedisMaxAge    time.Duration `env:"QUBES_EVENTS_REDIS_MAXAGE"`
	NATSURL        string        `env:"QUBES_EVENTS_NATS_URL" envDefault:"nats://localhost:4222"`
	NATSJetStream  bool          `env:"QUBES_EVENTS_NATS_JETSTREAM"`
	KafkaBrokers   []string      `env:"QUBES_EVENTS_KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	GRPCAddr       string        `env:"QUBES_EVENTS_GRPC_ADDR" envDefault:":7443"`
	MongoURI       string        `env:"QUBES_EVENTS_MONGO_URI"`
	MongoDatabase  string        `env:"QUBES_EVENTS_MONGO_DATABASE" envDefault:"qubes"`
	MonitorTTL     time.Duration `env:"QUBES_EVENTS_MONITOR_TTL" envDefault:"168h"`
	OTLPEndpoint   string        `env:"QUBES_EVENTS_OTLP_ENDPOINT"`
	StatsInterval  time.Duration `env:"QUBES_EVENTS_STATS_INTERVAL" envDefault:"30s"`
	ShutdownPeriod time.Duration `env:"QUBES_EVENTS_SHUTDOWN_PERIOD" envDefault:"10s"`

	// MonitorHTTPAddr serves the monitor query API. Without a Mongo URI the
	// entries are kept in memory.
	MonitorHTTPAddr string `env:"QUBES_EVENTS_MONITOR_HTTP_ADDR"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the daemon configuration.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the transport kind and its required settings.
func (c *Config) Validate() error {
	if !slices.Contains(transports, c.Transport) {
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport)
	}
	if _, ok := payload.Lookup(c.Codec); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCodec, c.Codec)
	}
	if c.Transport == TransportKafka && len(c.KafkaBrokers) == 0 {
		return errors.New("kafka transport needs QUBES_EVENTS_KAFKA_BROKERS")
	}
	if c.StatsInterval <= 0 {
		return fmt.Errorf("stats interval must be positive: %v", c.StatsInterval)
	}
	if c.RelayRate < 0 {
		return fmt.Errorf("relay rate must not be negative: %v", c.RelayRate)
	}
	return nil
}

// MonitorEnabled reports whether handler invocations are recorded.
func (c *Config) MonitorEnabled() bool {
	return c.MongoURI != "" || c.MonitorHTTPAddr != ""
}
