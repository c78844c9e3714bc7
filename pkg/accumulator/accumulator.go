package accumulator

import (
	"sync"

	"github.com/go-go-golems/handlerstream/pkg/events"
	"github.com/go-go-golems/handlerstream/pkg/parts"
)

// Accumulator guards a State for use from stream callbacks and readers on other
// goroutines.
type Accumulator struct {
	mu    sync.Mutex
	state State
}

func New() *Accumulator {
	return &Accumulator{state: NewState()}
}

func (a *Accumulator) AddEvent(ev events.Event) {
	a.mu.Lock()
	a.state = ApplyEvent(a.state, ev)
	a.mu.Unlock()
}

func (a *Accumulator) Complete() {
	a.mu.Lock()
	a.state = Complete(a.state)
	a.mu.Unlock()
}

// Parts returns a copy of the current part list.
func (a *Accumulator) Parts() []parts.Part {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]parts.Part(nil), a.state.Parts()...)
}

func (a *Accumulator) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Status
}

func (a *Accumulator) Events() []events.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]events.Event(nil), a.state.Events...)
}

// Snapshot returns a State that shares nothing with the accumulator.
func (a *Accumulator) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.state
	s.Events = append([]events.Event(nil), s.Events...)
	s.PreviewParts = append([]parts.Part(nil), s.PreviewParts...)
	s.FinalizedParts = append([]parts.Part(nil), s.FinalizedParts...)
	return s
}
