package relay

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/handlerstream/pkg/events"
	"github.com/go-go-golems/handlerstream/pkg/streammanager"
)

type frameKind int

const (
	frameEvent frameKind = iota
	frameError
)

type frame struct {
	kind frameKind
	raw  []byte
}

// client is one downstream connection. Events are queued by the stream goroutine and
// written by the request goroutine that owns the connection.
type client struct {
	id     string
	key    string
	frames chan frame

	mu       sync.Mutex
	closed   bool
	overflow bool
}

func newClient(key string, buffer int) *client {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	return &client{
		id:     uuid.NewString(),
		key:    key,
		frames: make(chan frame, buffer),
	}
}

func (c *client) subscriber() streammanager.Subscriber {
	return streammanager.Subscriber{
		OnData: func(ev events.Event) {
			b, err := json.Marshal(ev)
			if err != nil {
				log.Warn().Err(err).Str("component", "relay").Str("client_id", c.id).Msg("failed to encode event")
				return
			}
			c.push(frame{kind: frameEvent, raw: b})
		},
		OnError: func(err error) {
			c.push(errorFrame(err.Error()))
		},
		OnComplete: c.close,
	}
}

func errorFrame(message string) frame {
	b, _ := json.Marshal(map[string]string{"message": message})
	return frame{kind: frameError, raw: b}
}

// push never blocks. A client that falls a full buffer behind is dropped.
func (c *client) push(f frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.frames <- f:
	default:
		log.Warn().Str("component", "relay").Str("key", c.key).Str("client_id", c.id).Msg("client buffer full, dropping client")
		c.overflow = true
		c.closed = true
		close(c.frames)
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.frames)
}

func (c *client) overflowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overflow
}
