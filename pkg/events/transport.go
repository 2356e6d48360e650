package events

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Settings holds the event transport configuration.
type Settings struct {
	// RedisEnabled switches from the in-process gochannel to Redis Streams.
	RedisEnabled bool
	RedisAddr    string
	Group        string
	Consumer     string
}

func DefaultSettings() Settings {
	return Settings{
		RedisAddr: "localhost:6379",
		Group:     "supportchat",
		Consumer:  "cli-1",
	}
}

// Transport bundles the publisher and subscriber for lifecycle events.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	redis  *redis.Client
	shared bool
	closed bool
}

// BuildTransport returns an in-memory gochannel transport unless Redis
// Streams are enabled.
func BuildTransport(s Settings, logger watermill.LoggerAdapter) (*Transport, error) {
	if logger == nil {
		logger = NewWatermillLogger(log.Logger)
	}
	if !s.RedisEnabled {
		pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
		return &Transport{Publisher: pubSub, Subscriber: pubSub, shared: true}, nil
	}

	if strings.TrimSpace(s.RedisAddr) == "" {
		return nil, errors.New("redis address is empty")
	}
	client := redis.NewClient(&redis.Options{Addr: s.RedisAddr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis stream publisher")
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis stream subscriber")
	}

	return &Transport{Publisher: pub, Subscriber: sub, redis: client}, nil
}

// EnsureGroupAtTail creates the consumer group for stream at the tail ($) so
// a new consumer does not replay the whole history.
func (t *Transport) EnsureGroupAtTail(ctx context.Context, stream, group string) error {
	if t == nil || t.redis == nil {
		return nil
	}
	err := t.redis.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrap(err, "create consumer group")
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}

func (t *Transport) Close() error {
	if t == nil || t.closed {
		return nil
	}
	t.closed = true

	var firstErr error
	if err := t.Publisher.Close(); err != nil {
		firstErr = err
	}
	if !t.shared {
		if err := t.Subscriber.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.redis != nil {
		if err := t.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
