// Package redisstream wires Watermill's Redis Streams pub/sub for handler event topics.
package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Transport holds the redis client that handler sessions build their subscribers on.
type Transport struct {
	Client   redis.UniversalClient
	settings Settings
}

// NewTransport connects to redis with the given settings.
func NewTransport(s Settings) (*Transport, error) {
	if s.Addr == "" {
		return nil, errors.New("redis address is empty")
	}
	return &Transport{Client: redis.NewClient(&redis.Options{Addr: s.Addr}), settings: s}, nil
}

// SessionGroup names the consumer group of one session key. Every session reading a
// stream gets a group of its own, so two sessions on one stream both see every message.
func SessionGroup(group, key string) string {
	return group + ":" + key
}

// SessionSubscriber builds a subscriber dedicated to the session key, in its own
// consumer group created at the tail of stream. The caller owns and closes it.
func (t *Transport) SessionSubscriber(ctx context.Context, key, stream string) (message.Subscriber, bool, error) {
	if key == "" {
		return nil, false, errors.New("session key is empty")
	}
	group := SessionGroup(t.settings.Group, key)
	if err := EnsureGroupAtTail(ctx, t.Client, stream, group); err != nil {
		return nil, false, err
	}
	sub, err := BuildGroupSubscriber(t.Client, group, t.settings.Consumer+":"+key)
	if err != nil {
		return nil, false, err
	}
	log.Debug().Str("component", "redisstream").Str("stream", stream).Str("group", group).Msg("built session subscriber")
	return sub, true, nil
}

func BuildPublisher(client redis.UniversalClient) (message.Publisher, error) {
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, NewWatermillLogger(log.Logger))
	if err != nil {
		return nil, errors.Wrap(err, "build redis publisher")
	}
	return pub, nil
}

// BuildGroupSubscriber returns a Redis Streams subscriber bound to the given consumer group/name.
func BuildGroupSubscriber(client redis.UniversalClient, group, consumer string) (message.Subscriber, error) {
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      consumer,
	}, NewWatermillLogger(log.Logger))
	if err != nil {
		return nil, errors.Wrap(err, "build redis subscriber")
	}
	return sub, nil
}

// EnsureGroupAtTail creates the consumer group for a given stream at the tail ($) if it doesn't exist.
// This prevents full historical replay on first subscribe.
func EnsureGroupAtTail(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// Ignore BUSYGROUP errors (group already exists)
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create consumer group %s on %s", group, stream)
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}

func (t *Transport) Close() error {
	if t == nil || t.Client == nil {
		return nil
	}
	return t.Client.Close()
}
