package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	goredis "github.com/redis/go-redis/v9"
	"github.com/ttasket/qubes-events/internal/config"
	"github.com/ttasket/qubes-events/payload"
	"github.com/ttasket/qubes-events/ratelimit"
	"github.com/ttasket/qubes-events/transport"
	"github.com/ttasket/qubes-events/transport/channel"
	grpctransport "github.com/ttasket/qubes-events/transport/grpc"
	"github.com/ttasket/qubes-events/transport/kafka"
	natstransport "github.com/ttasket/qubes-events/transport/nats"
	redistransport "github.com/ttasket/qubes-events/transport/redis"
)

// relayTarget is the publisher the relay forwards to and an optional limiter
// shared with other daemons on the same backend.
type relayTarget struct {
	publisher transport.Publisher
	limiter   ratelimit.Limiter
	cleanup   []func() error
}

func (t *relayTarget) close(ctx context.Context) error {
	err := t.publisher.Close(ctx)
	for _, fn := range t.cleanup {
		if cerr := fn(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// newRelayTarget connects the configured transport. The grpc transport
// publishes to the feed every daemon serves anyway.
func newRelayTarget(ctx context.Context, cfg *config.Config, feed *grpctransport.Server, logger *slog.Logger) (*relayTarget, error) {
	codec, ok := payload.Lookup(cfg.Codec)
	if !ok {
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownCodec, cfg.Codec)
	}
	target := &relayTarget{}
	if cfg.RelayRate > 0 {
		target.limiter = ratelimit.NewTokenBucket(cfg.RelayRate, cfg.RelayBurst)
	}

	switch cfg.Transport {
	case config.TransportChannel:
		pub := channel.New(channel.WithLogger(logger))
		sub, err := pub.Subscribe(ctx, cfg.Topic)
		if err != nil {
			return nil, err
		}
		go logRecords(sub, logger)
		target.publisher = pub

	case config.TransportRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		pub, err := redistransport.New(client,
			redistransport.WithCodec(codec),
			redistransport.WithMaxLen(cfg.RedisMaxLen),
			redistransport.WithMaxAge(cfg.RedisMaxAge),
			redistransport.WithCloseClient(),
			redistransport.WithLogger(logger),
		)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		if cfg.RelayRate > 0 {
			target.limiter = ratelimit.NewRedisLimiter(client, "relay:"+cfg.Topic, int(cfg.RelayRate), time.Second)
		}
		target.publisher = pub

	case config.TransportNATS:
		nc, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
		if err != nil {
			return nil, fmt.Errorf("nats %s: %w", cfg.NATSURL, err)
		}
		opts := []natstransport.Option{natstransport.WithCodec(codec), natstransport.WithLogger(logger)}
		var pub *natstransport.Transport
		if cfg.NATSJetStream {
			js, jerr := jetstream.New(nc)
			if jerr != nil {
				nc.Close()
				return nil, jerr
			}
			pub, err = natstransport.NewJetStream(js, opts...)
			target.cleanup = append(target.cleanup, nc.Drain)
		} else {
			pub, err = natstransport.New(nc, append(opts, natstransport.WithDrain())...)
		}
		if err != nil {
			nc.Close()
			return nil, err
		}
		target.publisher = pub

	case config.TransportKafka:
		sc := sarama.NewConfig()
		sc.ClientID = cfg.ServiceName
		sc.Producer.Return.Successes = true
		sc.Producer.RequiredAcks = sarama.WaitForAll
		client, err := sarama.NewClient(cfg.KafkaBrokers, sc)
		if err != nil {
			return nil, fmt.Errorf("kafka: %w", err)
		}
		pub, err := kafka.NewFromClient(client, kafka.WithCodec(codec), kafka.WithLogger(logger))
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		target.cleanup = append(target.cleanup, client.Close)
		target.publisher = pub

	case config.TransportGRPC:
		target.publisher = feed

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownTransport, cfg.Transport)
	}
	return target, nil
}

func logRecords(sub *channel.Subscription, logger *slog.Logger) {
	for rec := range sub.Records() {
		logger.Debug("record relayed",
			"record", rec.ID,
			"subject", rec.Subject,
			"event", rec.Event,
			"phase", rec.Phase)
	}
}
