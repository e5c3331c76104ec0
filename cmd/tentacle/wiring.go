package main

import (
	"context"

	"emperror.dev/errors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mrjvadi/tentacle/broker"
	"github.com/mrjvadi/tentacle/config"
	"github.com/mrjvadi/tentacle/remote"
	"github.com/mrjvadi/tentacle/transport/amqp"
	"github.com/mrjvadi/tentacle/transport/memory"
	"github.com/mrjvadi/tentacle/transport/redis"
)

// stack is the transport pair selected by configuration.
type stack struct {
	transport broker.Transport
	consumer  broker.Consumer
	close     func() error
}

func newStack(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stack, error) {
	switch cfg.Transport {
	case config.TransportAMQP:
		return &stack{
			transport: amqp.New(amqp.WithLogger(log)),
			consumer:  amqp.NewConsumer(cfg.BrokerURL, amqp.WithLogger(log), amqp.WithPrefetch(cfg.MaxJobs)),
			close:     func() error { return nil },
		}, nil
	case config.TransportRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, errors.WrapIfWithDetails(err, "redis ping", "addr", cfg.RedisAddr)
		}
		t := redis.New(client,
			redis.WithConsumerName(cfg.RedisConsumer),
			redis.WithClaimIdle(cfg.RedisClaimIdle),
			redis.WithLogger(log),
		)
		return &stack{transport: t, consumer: t, close: client.Close}, nil
	case config.TransportMemory:
		b := memory.New()
		return &stack{transport: b, consumer: b, close: func() error { return nil }}, nil
	}
	return nil, errors.WithDetails(config.ErrUnknownTransport, "transport", cfg.Transport)
}

// newRouter builds a publisher per configured remote. A remote without
// credentials is skipped with a warning.
func newRouter(cfg *config.Config, tr broker.Transport, log *zap.Logger) *remote.Router {
	router := remote.NewRouter(log)
	opts := cfg.BrokerOptions(log)

	kraken, err := remote.NewKraken(cfg.Kraken.Target(remote.KrakenTarget(broker.Credentials{})), tr, opts...)
	if err != nil {
		log.Warn("Kraken publisher disabled", zap.Error(err))
	} else {
		router.Add(kraken)
	}
	nautilus, err := remote.NewNautilus(cfg.Nautilus.Target(remote.NautilusTarget(broker.Credentials{})), tr, opts...)
	if err != nil {
		log.Warn("Nautilus publisher disabled", zap.Error(err))
	} else {
		router.Add(nautilus)
	}
	return router
}
