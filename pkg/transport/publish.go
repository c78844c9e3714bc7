package transport

import (
	"context"
	"encoding/json"
	"io"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/handlerstream/pkg/events"
)

// PublishNDJSON reads newline-delimited events from r and publishes each one on topic,
// in the shape the Watermill executor consumes. It returns the number published.
func PublishNDJSON(ctx context.Context, pub message.Publisher, topic string, r io.Reader) (int, error) {
	var dec LineDecoder
	buf := make([]byte, 32*1024)
	n := 0
	publish := func(evs []events.Event) error {
		for _, ev := range evs {
			if err := ctx.Err(); err != nil {
				return err
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				return errors.Wrapf(err, "encode %s", ev.Type)
			}
			msg := message.NewMessage(watermill.NewUUID(), payload)
			msg.Metadata.Set("event_type", ev.Type)
			if err := pub.Publish(topic, msg); err != nil {
				return errors.Wrapf(err, "publish to %s", topic)
			}
			n++
			log.Debug().Str("component", "transport").Str("topic", topic).Str("event_type", ev.Type).Msg("published event")
		}
		return nil
	}

	for {
		read, err := r.Read(buf)
		if read > 0 {
			if perr := publish(dec.Write(buf[:read])); perr != nil {
				return n, perr
			}
			if derr := dec.Err(); derr != nil {
				return n, derr
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return n, errors.Wrap(err, "read events")
			}
			if perr := publish(dec.Flush()); perr != nil {
				return n, perr
			}
			return n, dec.Err()
		}
	}
}
