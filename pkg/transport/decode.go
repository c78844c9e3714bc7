// Package transport provides stream executors that read a handler's event feed over
// SSE, newline-delimited JSON, websocket or a watermill topic.
package transport

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/handlerstream/pkg/events"
	"github.com/go-go-golems/handlerstream/pkg/streammanager"
)

// emitRaw decodes one JSON event and pushes it into sink. Events without a type are
// dropped silently, undecodable payloads with a warning.
func emitRaw(sink streammanager.Sink, source string, raw []byte) {
	ev, err := events.Decode(raw)
	if err != nil {
		if !errors.Is(err, events.ErrMissingType) {
			log.Warn().Err(err).Str("component", "transport").Str("source", source).Int("len", len(raw)).Msg("dropping undecodable event")
		}
		return
	}
	sink.Data(ev)
}

// RemoteError is a failure the upstream reported inside the feed: an SSE `error` event
// or an NDJSON `{"error":{"message":...}}` line. It is terminal.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "upstream failed: " + e.Message
}

// decodeRemoteError reads a `{"message":...}` payload or a bare JSON string, falling
// back to the raw text.
func decodeRemoteError(raw []byte) *RemoteError {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil && text != "" {
		return &RemoteError{Message: text}
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Message == "" {
		return &RemoteError{Message: strings.TrimSpace(string(raw))}
	}
	return &RemoteError{Message: body.Message}
}
