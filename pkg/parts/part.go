// Package parts holds the ordered message parts produced from a streamed message and
// the merge rule used to fold newly parsed parts into accumulated ones.
package parts

import (
	"encoding/json"
	"strings"
)

const (
	TypeText               = "text"
	TypeSources            = "data-sources"
	TypeSuggestedQuestions = "data-suggested_questions"
	TypeArtifact           = "data-artifact"
	TypeEvent              = "data-event"
)

// Kind groups part types for consumers that switch on the union.
type Kind int

const (
	KindText Kind = iota
	KindSources
	KindSuggestedQuestions
	KindArtifact
	KindEvent
	// KindGeneric covers parts from unrecognized tags and raw handler events.
	KindGeneric
)

// Part is one element of a message. Text parts carry Text, all others carry Data.
type Part struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func Text(s string) Part {
	return Part{Type: TypeText, Text: s}
}

// FromTag maps a marker tag and its JSON payload to a part.
func FromTag(tag string, data json.RawMessage) Part {
	return Part{Type: TypeForTag(tag), Data: data}
}

// TypeForTag returns the part type a marker tag produces.
func TypeForTag(tag string) string {
	return "data-" + tag
}

// Generic wraps a raw handler event as a part.
func Generic(typ string, data json.RawMessage) Part {
	return Part{Type: typ, Data: data}
}

func (p Part) IsText() bool {
	return p.Type == TypeText
}

func (p Part) Kind() Kind {
	switch p.Type {
	case TypeText:
		return KindText
	case TypeSources:
		return KindSources
	case TypeSuggestedQuestions:
		return KindSuggestedQuestions
	case TypeArtifact:
		return KindArtifact
	case TypeEvent:
		return KindEvent
	default:
		return KindGeneric
	}
}

// Tag returns the marker tag a structured part came from, if any.
func (p Part) Tag() (string, bool) {
	return strings.CutPrefix(p.Type, "data-")
}
