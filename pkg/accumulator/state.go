// Package accumulator folds the events of one in-flight message into ordered parts.
//
// State transitions are plain functions over a State value. Like append, a transition
// may reuse the backing arrays of its input, so only the returned State should be
// used afterwards.
package accumulator

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/handlerstream/pkg/events"
	"github.com/go-go-golems/handlerstream/pkg/markers"
	"github.com/go-go-golems/handlerstream/pkg/parts"
)

type Status string

const (
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
)

type State struct {
	Events         []events.Event
	TextBuffer     string
	PreviewParts   []parts.Part
	FinalizedParts []parts.Part
	Status         Status
}

func NewState() State {
	return State{Status: StatusStreaming}
}

// ApplyEvent returns the state after ev. Deltas grow the text buffer and refresh the
// preview; any other non-terminator event finalizes the buffered text and is appended
// as a part of its own.
func ApplyEvent(s State, ev events.Event) State {
	if s.Status == StatusCompleted {
		log.Warn().Str("component", "accumulator").Str("event_type", ev.Type).Msg("ignoring event after completion")
		return s
	}
	if !ev.Valid() {
		return s
	}

	s.Events = append(s.Events, ev)
	if events.IsTerminator(ev) {
		return s
	}

	if delta, ok := events.DeltaText(ev); ok {
		s.TextBuffer += delta
		if s.TextBuffer == "" {
			s.PreviewParts = nil
		} else {
			s.PreviewParts = markers.ParseText(s.TextBuffer)
		}
		return s
	}

	s = flush(s)
	s.FinalizedParts = append(s.FinalizedParts, parts.Generic(ev.Type, ev.Data))
	return s
}

// Complete finalizes any buffered text and marks the message completed.
func Complete(s State) State {
	if s.Status == StatusCompleted {
		return s
	}
	s = flush(s)
	s.Status = StatusCompleted
	return s
}

// Parts returns the finalized parts followed by the live preview.
func (s State) Parts() []parts.Part {
	return parts.Merge(s.FinalizedParts, s.PreviewParts)
}

func flush(s State) State {
	if strings.TrimSpace(s.TextBuffer) == "" {
		return s
	}
	s.FinalizedParts = parts.Merge(s.FinalizedParts, s.PreviewParts)
	s.TextBuffer = ""
	s.PreviewParts = nil
	return s
}
