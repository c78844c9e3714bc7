package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/handlerstream/pkg/events"
	"github.com/go-go-golems/handlerstream/pkg/streammanager"
)

// TopicForHandler is the watermill topic carrying a handler's events.
func TopicForHandler(handlerID string) string { return "handler:" + handlerID }

// Watermill returns an executor consuming a handler topic. Topics do not end on their
// own, so the executor returns after the stop event. Redelivered messages are skipped.
func Watermill(sub message.Subscriber, topic string) streammanager.Executor {
	return func(ctx context.Context, sink streammanager.Sink) error {
		if sub == nil {
			return errors.New("watermill subscriber is nil")
		}
		ch, err := sub.Subscribe(ctx, topic)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrapf(err, "subscribe %s", topic)
		}
		sink.Start()

		seen := map[string]struct{}{}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg, ok := <-ch:
				if !ok {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return nil
				}
				done, skip := handleMessage(sink, topic, msg, seen)
				msg.Ack()
				if skip {
					continue
				}
				if done {
					return nil
				}
			}
		}
	}
}

// SubscriberFactory builds the subscriber of one session. When owned is true the
// session closes it once it ends.
type SubscriberFactory func(ctx context.Context, key, topic string) (sub message.Subscriber, owned bool, err error)

// WatermillSession is Watermill on a subscriber built for the session key.
func WatermillSession(subscribers SubscriberFactory, key, topic string) streammanager.Executor {
	return func(ctx context.Context, sink streammanager.Sink) error {
		if subscribers == nil {
			return errors.New("watermill subscriber factory is nil")
		}
		sub, owned, err := subscribers(ctx, key, topic)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrapf(err, "build subscriber for %s", key)
		}
		if owned {
			defer func() {
				if cerr := sub.Close(); cerr != nil {
					log.Warn().Err(cerr).Str("component", "transport").Str("key", key).Msg("failed to close session subscriber")
				}
			}()
		}
		return Watermill(sub, topic)(ctx, sink)
	}
}

func handleMessage(sink streammanager.Sink, topic string, msg *message.Message, seen map[string]struct{}) (done bool, skip bool) {
	if id := messageID(msg); id != "" {
		if _, dup := seen[id]; dup {
			log.Debug().Str("component", "transport").Str("topic", topic).Str("id", id).Msg("skipping redelivered message")
			return false, true
		}
		seen[id] = struct{}{}
	}
	ev, err := events.Decode(msg.Payload)
	if err != nil {
		if !errors.Is(err, events.ErrMissingType) {
			log.Warn().Err(err).Str("component", "transport").Str("topic", topic).Msg("dropping undecodable message")
		}
		return false, true
	}
	sink.Data(ev)
	return events.IsStop(ev), false
}

// messageID prefers the redis stream id over the watermill uuid.
func messageID(msg *message.Message) string {
	for _, k := range []string{"xid", "redis_xid"} {
		if v := msg.Metadata.Get(k); v != "" {
			return v
		}
	}
	return msg.UUID
}
