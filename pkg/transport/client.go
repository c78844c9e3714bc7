package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/go-go-golems/handlerstream/pkg/events"
	"github.com/go-go-golems/handlerstream/pkg/streammanager"
)

type Framing string

const (
	FramingSSE       Framing = "sse"
	FramingNDJSON    Framing = "ndjson"
	FramingWebSocket Framing = "websocket"
	FramingRedis     Framing = "redis"
)

func ParseFraming(s string) (Framing, error) {
	switch f := Framing(strings.ToLower(strings.TrimSpace(s))); f {
	case FramingSSE, FramingNDJSON, FramingWebSocket, FramingRedis:
		return f, nil
	case "":
		return FramingNDJSON, nil
	default:
		return "", errors.Errorf("unknown framing %q", s)
	}
}

// Client knows how to reach the handler endpoints of a workflow server:
// `GET {base}/events/{id}` for the event feed (`?sse=true` for SSE,
// `/ws` suffix for websocket) and `POST {base}/handlers/{id}/cancel`.
type Client struct {
	BaseURL string
	Framing Framing
	HTTP    *http.Client
	Dialer  *websocket.Dialer
	// Subscribers builds one subscriber per session for FramingRedis.
	Subscribers SubscriberFactory
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// EventsURL returns the feed URL of a handler for the client's framing.
func (c *Client) EventsURL(handlerID string, includeInternal bool) string {
	base := strings.TrimRight(c.BaseURL, "/") + "/events/" + url.PathEscape(handlerID)
	q := url.Values{}
	if includeInternal {
		q.Set("include_internal", "true")
	}
	switch c.Framing {
	case FramingSSE:
		q.Set("sse", "true")
	case FramingWebSocket:
		base = toWebSocketScheme(base) + "/ws"
	}
	if len(q) == 0 {
		return base
	}
	return base + "?" + q.Encode()
}

// Executor returns the executor reading a handler's feed.
func (c *Client) Executor(handlerID string, includeInternal bool) streammanager.Executor {
	switch c.Framing {
	case FramingSSE:
		return SSE(c.httpClient(), c.EventsURL(handlerID, includeInternal))
	case FramingWebSocket:
		return WebSocket(c.Dialer, c.EventsURL(handlerID, includeInternal), nil)
	case FramingRedis:
		return WatermillSession(c.Subscribers, events.StreamKey(handlerID, includeInternal), TopicForHandler(handlerID))
	default:
		return NDJSON(c.httpClient(), c.EventsURL(handlerID, includeInternal))
	}
}

// CancelFunc returns a callback asking the server to stop the handler.
func (c *Client) CancelFunc(handlerID string) streammanager.CancelFunc {
	return func(ctx context.Context) error {
		u := strings.TrimRight(c.BaseURL, "/") + "/handlers/" + url.PathEscape(handlerID) + "/cancel"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
		if err != nil {
			return errors.Wrap(err, "build cancel request")
		}
		resp, err := c.httpClient().Do(req)
		if err != nil {
			return errors.Wrapf(err, "cancel handler %s", handlerID)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return statusError(u, resp)
		}
		_ = resp.Body.Close()
		return nil
	}
}

func toWebSocketScheme(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return u
	}
}
