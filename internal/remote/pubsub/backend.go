package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Backend is the broker behind the transport.
type Backend interface {
	Publisher() message.Publisher
	// NewSubscriber returns a subscriber for topic that only sees messages
	// published after the call, plus a cleanup to run once done with it.
	NewSubscriber(ctx context.Context, topic, consumer string) (message.Subscriber, func() error, error)
	// Healthy reports whether the broker is reachable.
	Healthy(ctx context.Context) error
	Close() error
}

// Memory is an in-process broker. Every session in the process shares it.
type Memory struct {
	ch *gochannel.GoChannel
}

// NewMemory creates an in-process broker.
func NewMemory(logger watermill.LoggerAdapter) *Memory {
	return &Memory{ch: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)}
}

func (m *Memory) Publisher() message.Publisher { return m.ch }

func (m *Memory) NewSubscriber(context.Context, string, string) (message.Subscriber, func() error, error) {
	// Subscriptions on the shared channel end with their context; closing the
	// subscriber itself would tear down the whole broker.
	return m.ch, func() error { return nil }, nil
}

func (m *Memory) Healthy(context.Context) error { return nil }

func (m *Memory) Close() error { return m.ch.Close() }

// RedisConfig configures the Redis Streams broker.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis is a broker on Redis Streams. Each subscription gets its own consumer
// group created at the stream tail, so joining never replays history.
type Redis struct {
	client    *redis.Client
	publisher message.Publisher
	logger    watermill.LoggerAdapter
	log       zerolog.Logger
}

// NewRedis connects a Redis Streams broker.
func NewRedis(cfg RedisConfig, logger watermill.LoggerAdapter, zl *zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create redis publisher: %w", err)
	}
	return &Redis{
		client:    client,
		publisher: pub,
		logger:    logger,
		log:       zl.With().Str("component", "redis_broker").Logger(),
	}, nil
}

func (r *Redis) Publisher() message.Publisher { return r.publisher }

func (r *Redis) NewSubscriber(ctx context.Context, topic, consumer string) (message.Subscriber, func() error, error) {
	group := consumer + ":" + topic
	if err := r.ensureGroupAtTail(ctx, topic, group); err != nil {
		return nil, nil, err
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        r.client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      consumer,
	}, r.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create redis subscriber: %w", err)
	}
	cleanup := func() error {
		closeErr := sub.Close()
		destroyErr := r.client.XGroupDestroy(context.Background(), topic, group).Err()
		return errors.Join(closeErr, destroyErr)
	}
	return sub, cleanup, nil
}

func (r *Redis) Healthy(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return errors.Join(r.publisher.Close(), r.client.Close())
}

func (r *Redis) ensureGroupAtTail(ctx context.Context, stream, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("create consumer group %s on %s: %w", group, stream, err)
	}
	r.log.Debug().Str("stream", stream).Str("group", group).Msg("created consumer group at tail")
	return nil
}
