package events

import (
	"encoding/json"
	"strings"
)

// DeltaText returns the text fragment of a delta event. Any event whose data is an
// object with a string `delta` field counts as a delta.
func DeltaText(e Event) (string, bool) {
	if len(e.Data) == 0 || e.Data[0] != '{' {
		return "", false
	}
	var payload struct {
		Delta *string `json:"delta"`
	}
	if err := json.Unmarshal(e.Data, &payload); err != nil || payload.Delta == nil {
		return "", false
	}
	return *payload.Delta, true
}

func IsDelta(e Event) bool {
	_, ok := DeltaText(e)
	return ok
}

// IsStop reports whether e signals that the handler finished its computation.
func IsStop(e Event) bool {
	return is(e, EventTypeStop)
}

// IsInputRequired reports whether e signals that the handler waits for external input.
// This is distinct from IsStop: the computation is still alive.
func IsInputRequired(e Event) bool {
	return is(e, EventTypeInputRequired)
}

// IsTerminator reports whether e ends the current turn or the whole computation.
func IsTerminator(e Event) bool {
	return IsStop(e) || IsInputRequired(e)
}

func is(e Event, qualified string) bool {
	short := shortName(qualified)
	if e.Type == qualified || shortName(e.Type) == short {
		return true
	}
	for _, a := range e.AncestorTypes {
		if a == qualified || shortName(a) == short {
			return true
		}
	}
	return false
}

func shortName(typ string) string {
	if i := strings.LastIndex(typ, "."); i >= 0 {
		return typ[i+1:]
	}
	return typ
}

// StreamKey identifies the event feed of one handler. Asking for internal events
// yields a different key for the same handler.
func StreamKey(handlerID string, includeInternal bool) string {
	if includeInternal {
		return "handler:" + handlerID + ":internal"
	}
	return "handler:" + handlerID
}
