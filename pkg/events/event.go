// Package events defines the in-memory event shape streamed from a workflow handler,
// the wire decoding into it, and the classification helpers the rest of the module
// uses to tell text deltas apart from control events.
package events

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

const (
	// EventTypeStop marks the handler as finished producing output.
	EventTypeStop = "workflows.events.StopEvent"
	// EventTypeInputRequired marks the handler as waiting for the next external input.
	EventTypeInputRequired = "workflows.events.InputRequiredEvent"
)

var ErrMissingType = errors.New("event has no type")

// Event is a single item of a handler event feed.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	// AncestorTypes is only populated when decoded from the raw marker wire shape.
	AncestorTypes []string `json:"ancestor_types,omitempty"`
}

// NewEvent marshals data into a new Event of the given type.
func NewEvent(typ string, data any) (Event, error) {
	if typ == "" {
		return Event{}, ErrMissingType
	}
	if data == nil {
		return Event{Type: typ}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Event{}, errors.Wrapf(err, "marshal data for %s", typ)
	}
	return Event{Type: typ, Data: b}, nil
}

// NewDelta builds a delta event carrying a single text fragment.
func NewDelta(typ, delta string) Event {
	b, _ := json.Marshal(map[string]string{"delta": delta})
	return Event{Type: typ, Data: b}
}

func (e Event) Valid() bool {
	return strings.TrimSpace(e.Type) != ""
}

// DecodeData unmarshals the event payload into v. Events without data leave v untouched.
func (e Event) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// wireEvent is the union of both accepted wire shapes.
type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`

	IsPydanticMarker bool            `json:"is_pydantic_marker"`
	QualifiedName    string          `json:"qualified_name"`
	Value            json.RawMessage `json:"value"`
	AncestorTypes    []string        `json:"ancestor_types"`
}

// Decode parses one JSON object in either the plain `{type, data}` shape or the
// raw marker shape `{qualified_name, value, ancestor_types}`.
func Decode(b []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return Event{}, errors.Wrap(err, "decode event")
	}
	ev := Event{Type: w.Type, Data: w.Data, AncestorTypes: w.AncestorTypes}
	if w.QualifiedName != "" {
		ev = Event{
			Type:          w.QualifiedName,
			Data:          w.Value,
			AncestorTypes: w.AncestorTypes,
		}
	}
	if isNull(ev.Data) {
		ev.Data = nil
	}
	if !ev.Valid() {
		return ev, ErrMissingType
	}
	return ev, nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
