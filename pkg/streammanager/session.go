package streammanager

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/handlerstream/pkg/events"
)

// session is the shared state of one transport for one key. It implements Sink.
type session struct {
	key      string
	manager  *Manager
	ctx      context.Context
	abort    context.CancelFunc
	cancelFn CancelFunc
	result   *Result

	// dispatchMu keeps fan-out ordered when an executor pushes from several goroutines.
	dispatchMu sync.Mutex

	mu        sync.Mutex
	history   []events.Event
	subs      []*subscriberEntry
	started   bool
	completed bool
	err       error
}

var _ Sink = (*session)(nil)

func (s *session) snapshotSubs() []*subscriberEntry {
	return slices.Clone(s.subs)
}

func (s *session) Start() {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if s.started || s.completed {
		s.mu.Unlock()
		return
	}
	s.started = true
	subs := s.snapshotSubs()
	s.mu.Unlock()

	for _, e := range subs {
		e.deliver(s.key, "start", onStart)
	}
}

func (s *session) Data(ev events.Event) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return
	}
	s.history = append(s.history, ev)
	subs := s.snapshotSubs()
	s.mu.Unlock()

	deliver := onData(ev)
	for _, e := range subs {
		e.deliver(s.key, "data", deliver)
	}
}

func (s *session) Error(err error) {
	if err == nil {
		err = errors.Errorf("stream %s failed", s.key)
	}
	s.finish(err, onError(err), false)
}

func (s *session) Success(evs []events.Event) {
	s.mu.Lock()
	if evs == nil {
		evs = slices.Clone(s.history)
	}
	s.mu.Unlock()
	s.finish(nil, onSuccess(evs), false)
}

// abandon ends the session after a transient failure: subscribers still attached only
// see OnComplete.
func (s *session) abandon(cause error) {
	log.Debug().Err(cause).Str("component", "streammanager").Str("key", s.key).Msg("stream ended by cancellation or network drop")
	s.finish(nil, nil, true)
}

func (s *session) finish(err error, terminal func(Subscriber), canceled bool) {
	s.dispatchMu.Lock()

	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		s.dispatchMu.Unlock()
		return
	}
	s.completed = true
	s.err = err
	history := slices.Clone(s.history)
	subs := s.snapshotSubs()
	s.mu.Unlock()

	for _, e := range subs {
		e.mu.Lock()
		if !e.removed.Load() {
			if terminal != nil {
				e.call(s.key, "terminal", terminal)
			}
			e.call(s.key, "complete", onComplete)
		}
		e.mu.Unlock()
	}
	s.dispatchMu.Unlock()

	s.manager.forget(s)
	s.abort()
	s.result.resolve(history, err, canceled)
}

// run drives the executor and turns its return value into the terminal outcome.
func (s *session) run(exec Executor) {
	err := s.safeExec(exec)
	switch {
	case err == nil:
		s.Success(nil)
	case IsTransient(err) || s.ctx.Err() != nil:
		s.abandon(err)
	default:
		log.Warn().Err(err).Str("component", "streammanager").Str("key", s.key).Msg("stream failed")
		s.Error(err)
	}
}

func (s *session) safeExec(exec Executor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("executor panicked: %v", r)
		}
	}()
	return exec(s.ctx, s)
}
