package streammanager

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/handlerstream/pkg/events"
)

// Subscriber is a set of optional callbacks. Callbacks run on the executor's goroutine
// and must not block.
type Subscriber struct {
	OnStart    func()
	OnData     func(events.Event)
	OnError    func(error)
	OnSuccess  func([]events.Event)
	OnComplete func()
}

// Sink is what an executor pushes into. It fans out to every current subscriber of the
// session.
type Sink interface {
	Start()
	Data(ev events.Event)
	Error(err error)
	Success(evs []events.Event)
}

type subscriberEntry struct {
	id  string
	sub Subscriber

	// held while delivering, so a replay finishes before live events reach the entry
	mu      sync.Mutex
	removed atomic.Bool
}

func newSubscriberEntry(sub Subscriber) *subscriberEntry {
	return &subscriberEntry{id: uuid.NewString(), sub: sub}
}

func (e *subscriberEntry) deliver(key, what string, fn func(Subscriber)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed.Load() {
		return
	}
	e.call(key, what, fn)
}

// call runs fn without checking removal. Callers must hold e.mu.
func (e *subscriberEntry) call(key, what string, fn func(Subscriber)) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().
				Str("component", "streammanager").
				Str("key", key).
				Str("subscriber", e.id).
				Str("callback", what).
				Interface("panic", r).
				Msg("subscriber callback panicked")
		}
	}()
	fn(e.sub)
}

func onStart(s Subscriber) {
	if s.OnStart != nil {
		s.OnStart()
	}
}

func onData(ev events.Event) func(Subscriber) {
	return func(s Subscriber) {
		if s.OnData != nil {
			s.OnData(ev)
		}
	}
}

func onError(err error) func(Subscriber) {
	return func(s Subscriber) {
		if s.OnError != nil {
			s.OnError(err)
		}
	}
}

func onSuccess(evs []events.Event) func(Subscriber) {
	return func(s Subscriber) {
		if s.OnSuccess != nil {
			s.OnSuccess(evs)
		}
	}
}

func onComplete(s Subscriber) {
	if s.OnComplete != nil {
		s.OnComplete()
	}
}
