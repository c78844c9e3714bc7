// Package streammanager keeps at most one live transport per stream key and fans its
// events out to any number of subscribers, replaying history to late joiners.
package streammanager

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/handlerstream/pkg/events"
)

// Executor runs the transport of a stream, pushing into sink until the remote side is
// done or ctx is canceled. Returning nil ends the session successfully unless the
// executor already reported an outcome on sink.
type Executor func(ctx context.Context, sink Sink) error

// CancelFunc asks the remote side to stop the computation behind a stream.
type CancelFunc func(ctx context.Context) error

type Manager struct {
	baseCtx context.Context

	mu       sync.Mutex
	sessions map[string]*session
}

type Option func(*Manager)

// WithBaseContext sets the parent context of every transport.
func WithBaseContext(ctx context.Context) Option {
	return func(m *Manager) {
		if ctx != nil {
			m.baseCtx = ctx
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		baseCtx:  context.Background(),
		sessions: map[string]*session{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Handle is a single subscription to a stream.
type Handle struct {
	Result *Result

	m     *Manager
	s     *session
	entry *subscriberEntry
}

// Subscribe attaches sub to the session of key, creating it and starting exec if none
// exists. A joiner receives the history so far before any live event, and the outcome
// directly if the session already ended.
func (m *Manager) Subscribe(key string, sub Subscriber, exec Executor, cancelFn CancelFunc) (*Handle, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	entry := newSubscriberEntry(sub)

	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		entry.mu.Lock()
		s.mu.Lock()
		history := slices.Clone(s.history)
		started, completed, err := s.started, s.completed, s.err
		if completed {
			entry.removed.Store(true)
		} else {
			s.subs = append(s.subs, entry)
		}
		s.mu.Unlock()
		m.mu.Unlock()

		log.Debug().Str("component", "streammanager").Str("key", key).Int("replay", len(history)).Msg("joined existing stream")
		if started {
			entry.call(key, "start", onStart)
		}
		for _, ev := range history {
			entry.call(key, "data", onData(ev))
		}
		if completed {
			if err != nil {
				entry.call(key, "terminal", onError(err))
			} else {
				entry.call(key, "terminal", onSuccess(history))
			}
			entry.call(key, "complete", onComplete)
		}
		entry.mu.Unlock()
		return &Handle{Result: s.result, m: m, s: s, entry: entry}, nil
	}

	if exec == nil {
		m.mu.Unlock()
		return nil, ErrNilExecutor
	}
	ctx, abort := context.WithCancel(m.baseCtx)
	s := &session{
		key:      key,
		manager:  m,
		ctx:      ctx,
		abort:    abort,
		cancelFn: cancelFn,
		result:   newResult(),
		subs:     []*subscriberEntry{entry},
	}
	m.sessions[key] = s
	m.mu.Unlock()

	log.Debug().Str("component", "streammanager").Str("key", key).Msg("starting stream")
	go s.run(exec)
	return &Handle{Result: s.result, m: m, s: s, entry: entry}, nil
}

// Unsubscribe stops this subscriber from receiving events. The last subscriber to leave
// aborts the transport and discards the session.
func (h *Handle) Unsubscribe() {
	if h == nil {
		return
	}
	h.m.unsubscribe(h.s, h.entry)
}

// Disconnect unsubscribes every subscriber of the session.
func (h *Handle) Disconnect() {
	if h == nil {
		return
	}
	h.m.disconnect(h.s)
}

// Cancel disconnects the session and asks the remote side to stop the computation.
func (h *Handle) Cancel(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.m.disconnect(h.s)
	if h.s.cancelFn == nil {
		return nil
	}
	return h.s.cancelFn(ctx)
}

func (m *Manager) unsubscribe(s *session, entry *subscriberEntry) {
	entry.removed.Store(true)

	m.mu.Lock()
	s.mu.Lock()
	idx := slices.Index(s.subs, entry)
	if idx < 0 {
		s.mu.Unlock()
		m.mu.Unlock()
		return
	}
	s.subs = slices.Delete(s.subs, idx, idx+1)
	empty := len(s.subs) == 0
	if empty {
		m.forgetLocked(s)
	}
	s.mu.Unlock()
	m.mu.Unlock()

	if empty {
		log.Debug().Str("component", "streammanager").Str("key", s.key).Msg("last subscriber left, aborting stream")
		s.abort()
	}
}

func (m *Manager) disconnect(s *session) {
	m.mu.Lock()
	s.mu.Lock()
	for _, e := range s.subs {
		e.removed.Store(true)
	}
	s.subs = nil
	m.forgetLocked(s)
	s.mu.Unlock()
	m.mu.Unlock()

	s.abort()
}

func (m *Manager) forget(s *session) {
	m.mu.Lock()
	m.forgetLocked(s)
	m.mu.Unlock()
}

func (m *Manager) forgetLocked(s *session) {
	if cur, ok := m.sessions[s.key]; ok && cur == s {
		delete(m.sessions, s.key)
	}
}

func (m *Manager) lookup(key string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Disconnect drops every subscriber of key, if a session exists.
func (m *Manager) Disconnect(key string) bool {
	s, ok := m.lookup(key)
	if !ok {
		return false
	}
	m.disconnect(s)
	return true
}

// Cancel disconnects key and invokes the cancel callback it was subscribed with.
func (m *Manager) Cancel(ctx context.Context, key string) (bool, error) {
	s, ok := m.lookup(key)
	if !ok {
		return false, nil
	}
	m.disconnect(s)
	if s.cancelFn == nil {
		return true, nil
	}
	return true, s.cancelFn(ctx)
}

// Close disconnects every session. Remote computations are left running.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()
	for _, s := range all {
		m.disconnect(s)
	}
}

func (m *Manager) IsActive(key string) bool {
	_, ok := m.lookup(key)
	return ok
}

// History returns a copy of the events delivered on key so far.
func (m *Manager) History(key string) []events.Event {
	s, ok := m.lookup(key)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

func (m *Manager) SubscriberCount(key string) int {
	s, ok := m.lookup(key)
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Keys returns the keys of all live sessions.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
