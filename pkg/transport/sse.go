package transport

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/handlerstream/pkg/streammanager"
)

// SSE returns an executor reading one JSON event per `message` server-sent event. An
// `error` event ends the stream with a RemoteError carrying its message.
func SSE(client *http.Client, url string) streammanager.Executor {
	return func(ctx context.Context, sink streammanager.Sink) error {
		resp, err := openStream(ctx, client, url, "text/event-stream")
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		sink.Start()
		return readSSE(ctx, resp.Body, func(name string, data []byte) error {
			switch name {
			case "", "message":
				emitRaw(sink, "sse", data)
			case "error":
				return decodeRemoteError(data)
			}
			return nil
		})
	}
}

// readSSE parses an event stream and calls fn for each dispatched event, stopping at
// the first error fn returns. It returns nil when r ends cleanly. An event cut off by
// the end of the stream, with no blank line after it, is discarded.
func readSSE(ctx context.Context, r io.Reader, fn func(name string, data []byte) error) error {
	br := bufio.NewReader(r)
	var name string
	var data strings.Builder
	hasData := false

	dispatch := func() error {
		var err error
		if hasData {
			err = fn(name, []byte(data.String()))
		}
		name = ""
		data.Reset()
		hasData = false
		return err
	}

	for {
		line, err := br.ReadString('\n')
		// only a terminated line counts; a fragment before EOF belongs to a cut-off event
		if err == nil {
			line = strings.TrimRight(line, "\r\n")
			switch {
			case line == "":
				if derr := dispatch(); derr != nil {
					return derr
				}
			case strings.HasPrefix(line, ":"):
			default:
				field, value, _ := strings.Cut(line, ":")
				value = strings.TrimPrefix(value, " ")
				switch field {
				case "event":
					name = value
				case "data":
					if hasData {
						data.WriteByte('\n')
					}
					data.WriteString(value)
					hasData = true
				}
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			if hasData {
				log.Debug().Str("component", "transport").Str("source", "sse").Int("len", data.Len()).Msg("discarding event cut off by end of stream")
			}
			return nil
		}
		return errors.Wrap(err, "read event stream")
	}
}
