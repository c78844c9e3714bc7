// Package handler tracks the state of one remote workflow handler from its event feed:
// whether it is still running, whether the current turn waits for input, and the
// message parts produced so far.
package handler

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/handlerstream/pkg/accumulator"
	"github.com/go-go-golems/handlerstream/pkg/events"
	"github.com/go-go-golems/handlerstream/pkg/parts"
	"github.com/go-go-golems/handlerstream/pkg/streammanager"
)

type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Source builds the transport and remote cancellation for a handler.
type Source interface {
	Executor(handlerID string, includeInternal bool) streammanager.Executor
	CancelFunc(handlerID string) streammanager.CancelFunc
}

type Options struct {
	IncludeInternal bool
	// OnChange is called after every state change, on the stream's goroutine.
	OnChange func(Snapshot)
}

type Snapshot struct {
	HandlerID  string       `json:"handler_id" yaml:"handler_id"`
	Status     Status       `json:"status" yaml:"status"`
	TurnEnded  bool         `json:"turn_ended" yaml:"turn_ended"`
	Error      string       `json:"error,omitempty" yaml:"error,omitempty"`
	EventCount int          `json:"event_count" yaml:"event_count"`
	Parts      []parts.Part `json:"parts" yaml:"parts"`
}

// Tracker follows one handler through a shared stream manager.
type Tracker struct {
	handlerID string
	acc       *accumulator.Accumulator
	onChange  func(Snapshot)
	log       zerolog.Logger
	done      chan struct{}
	doneOnce  sync.Once

	mu        sync.Mutex
	status    Status
	turnEnded bool
	err       error
	events    int

	handle *streammanager.Handle
}

// Watch subscribes to the handler's feed. Several trackers of the same handler share
// one transport.
func Watch(m *streammanager.Manager, src Source, handlerID string, opts Options) (*Tracker, error) {
	t := &Tracker{
		handlerID: handlerID,
		acc:       accumulator.New(),
		onChange:  opts.OnChange,
		log:       log.With().Str("component", "handler").Str("handler_id", handlerID).Logger(),
		done:      make(chan struct{}),
		status:    StatusRunning,
	}
	key := events.StreamKey(handlerID, opts.IncludeInternal)
	h, err := m.Subscribe(key, t.subscriber(), src.Executor(handlerID, opts.IncludeInternal), src.CancelFunc(handlerID))
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.handle = h
	t.mu.Unlock()
	return t, nil
}

func (t *Tracker) subscriber() streammanager.Subscriber {
	return streammanager.Subscriber{
		OnData:     t.onData,
		OnError:    t.onError,
		OnSuccess:  t.onSuccess,
		OnComplete: t.markDone,
	}
}

func (t *Tracker) onData(ev events.Event) {
	t.acc.AddEvent(ev)

	t.mu.Lock()
	t.events++
	switch {
	case events.IsStop(ev):
		t.acc.Complete()
		if t.status == StatusRunning {
			t.status = StatusComplete
		}
	case events.IsInputRequired(ev):
		t.turnEnded = true
	default:
		t.turnEnded = false
	}
	t.mu.Unlock()
	t.notify()
}

func (t *Tracker) onError(err error) {
	t.log.Warn().Err(err).Msg("handler stream failed")
	t.acc.Complete()
	t.mu.Lock()
	t.status = StatusFailed
	t.err = err
	t.mu.Unlock()
	t.notify()
}

func (t *Tracker) onSuccess([]events.Event) {
	t.acc.Complete()
	t.mu.Lock()
	if t.status == StatusRunning {
		t.status = StatusComplete
	}
	t.mu.Unlock()
	t.notify()
}

func (t *Tracker) markDone() {
	t.doneOnce.Do(func() { close(t.done) })
}

func (t *Tracker) notify() {
	if t.onChange != nil {
		t.onChange(t.Snapshot())
	}
}

func (t *Tracker) HandlerID() string { return t.handlerID }

func (t *Tracker) Parts() []parts.Part {
	return t.acc.Parts()
}

func (t *Tracker) Events() []events.Event {
	return t.acc.Events()
}

func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Tracker) TurnEnded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.turnEnded
}

func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	s := Snapshot{
		HandlerID:  t.handlerID,
		Status:     t.status,
		TurnEnded:  t.turnEnded,
		EventCount: t.events,
	}
	if t.err != nil {
		s.Error = t.err.Error()
	}
	t.mu.Unlock()
	s.Parts = t.acc.Parts()
	return s
}

// Done is closed once the tracker stops receiving events for any reason.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Close stops this tracker from listening. Other trackers of the handler are unaffected.
func (t *Tracker) Close() {
	t.mu.Lock()
	h := t.handle
	t.mu.Unlock()
	h.Unsubscribe()
	t.markDone()
}

// Stop asks the server to stop the handler and detaches every listener of its stream.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	h := t.handle
	t.mu.Unlock()
	err := h.Cancel(ctx)
	t.markDone()
	return err
}
