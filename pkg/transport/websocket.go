package transport

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/go-go-golems/handlerstream/pkg/streammanager"
)

// WebSocket returns an executor reading one JSON event per text frame.
func WebSocket(dialer *websocket.Dialer, url string, header http.Header) streammanager.Executor {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return func(ctx context.Context, sink streammanager.Sink) error {
		conn, resp, err := dialer.DialContext(ctx, url, header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
				return statusError(url, resp)
			}
			return errors.Wrapf(err, "dial %s", url)
		}
		defer func() { _ = conn.Close() }()

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()

		sink.Start()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return wsReadError(ctx, err)
			}
			if msgType != websocket.TextMessage {
				continue
			}
			emitRaw(sink, "websocket", data)
		}
	}
}

func wsReadError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case websocket.IsCloseError(err, websocket.CloseNormalClosure):
		return nil
	case websocket.IsCloseError(err, websocket.CloseGoingAway):
		return errors.Wrap(streammanager.ErrNetwork, err.Error())
	default:
		return errors.Wrap(err, "read websocket")
	}
}
