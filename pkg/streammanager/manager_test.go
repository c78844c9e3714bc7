package streammanager

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/handlerstream/pkg/events"
)

type fakeTransport struct {
	calls   atomic.Int32
	sinks   chan Sink
	release chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sinks: make(chan Sink, 8), release: make(chan error, 1)}
}

func (f *fakeTransport) exec(ctx context.Context, sink Sink) error {
	f.calls.Add(1)
	sink.Start()
	f.sinks <- sink
	select {
	case err := <-f.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) waitSink(t *testing.T) Sink {
	t.Helper()
	select {
	case s := <-f.sinks:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for executor")
		return nil
	}
}

type recorder struct {
	mu        sync.Mutex
	starts    int
	data      []string
	errs      []error
	successes [][]events.Event
	completes int
}

func (r *recorder) subscriber() Subscriber {
	return Subscriber{
		OnStart: func() {
			r.mu.Lock()
			r.starts++
			r.mu.Unlock()
		},
		OnData: func(ev events.Event) {
			r.mu.Lock()
			r.data = append(r.data, ev.Type)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnSuccess: func(evs []events.Event) {
			r.mu.Lock()
			r.successes = append(r.successes, evs)
			r.mu.Unlock()
		},
		OnComplete: func() {
			r.mu.Lock()
			r.completes++
			r.mu.Unlock()
		},
	}
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.data...)
}

func (r *recorder) completed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completes
}

func ev(typ string) events.Event {
	return events.Event{Type: typ}
}

func TestSubscribeSharesOneExecutor(t *testing.T) {
	m := NewManager()
	ft := newFakeTransport()

	recs := make([]*recorder, 5)
	for i := range recs {
		recs[i] = &recorder{}
		_, err := m.Subscribe("k", recs[i].subscriber(), ft.exec, nil)
		require.NoError(t, err)
	}
	sink := ft.waitSink(t)
	require.Equal(t, int32(1), ft.calls.Load())
	require.Equal(t, 5, m.SubscriberCount("k"))

	sink.Data(ev("a"))
	sink.Data(ev("b"))
	for _, r := range recs {
		require.Equal(t, []string{"a", "b"}, r.types())
	}
	require.Len(t, m.History("k"), 2)
}

func TestLateJoinerGetsHistoryFirst(t *testing.T) {
	m := NewManager()
	ft := newFakeTransport()
	first := &recorder{}
	_, err := m.Subscribe("k", first.subscriber(), ft.exec, nil)
	require.NoError(t, err)
	sink := ft.waitSink(t)

	sink.Data(ev("e1"))
	sink.Data(ev("e2"))

	late := &recorder{}
	_, err = m.Subscribe("k", late.subscriber(), ft.exec, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"e1", "e2"}, late.types())
	require.Equal(t, 1, late.starts)

	sink.Data(ev("e3"))
	require.Equal(t, []string{"e1", "e2", "e3"}, late.types())
	require.Equal(t, []string{"e1", "e2", "e3"}, first.types())
	require.Equal(t, int32(1), ft.calls.Load())
}

func TestLastUnsubscribeAbortsAndRestarts(t *testing.T) {
	m := NewManager()
	ft := newFakeTransport()
	h, err := m.Subscribe("k", Subscriber{}, ft.exec, nil)
	require.NoError(t, err)
	ft.waitSink(t)

	h.Unsubscribe()
	require.False(t, m.IsActive("k"))

	select {
	case <-h.Result.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("result not resolved after abort")
	}
	_, err = h.Result.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, h.Result.Canceled())

	h2, err := m.Subscribe("k", Subscriber{}, ft.exec, nil)
	require.NoError(t, err)
	ft.waitSink(t)
	require.Equal(t, int32(2), ft.calls.Load())
	require.NotSame(t, h.Result, h2.Result)
	h2.Unsubscribe()
}

func TestUnsubscribeKeepsOtherSubscribers(t *testing.T) {
	m := NewManager()
	ft := newFakeTransport()
	a, b := &recorder{}, &recorder{}
	ha, err := m.Subscribe("k", a.subscriber(), ft.exec, nil)
	require.NoError(t, err)
	_, err = m.Subscribe("k", b.subscriber(), ft.exec, nil)
	require.NoError(t, err)
	sink := ft.waitSink(t)

	ha.Unsubscribe()
	ha.Unsubscribe()
	require.True(t, m.IsActive("k"))
	require.Equal(t, 1, m.SubscriberCount("k"))

	sink.Data(ev("x"))
	require.Empty(t, a.types())
	require.Equal(t, []string{"x"}, b.types())
}

func TestPanickingSubscriberDoesNotStopFanOut(t *testing.T) {
	m := NewManager()
	ft := newFakeTransport()
	_, err := m.Subscribe("k", Subscriber{OnData: func(events.Event) { panic("boom") }}, ft.exec, nil)
	require.NoError(t, err)
	ok := &recorder{}
	_, err = m.Subscribe("k", ok.subscriber(), ft.exec, nil)
	require.NoError(t, err)
	sink := ft.waitSink(t)

	sink.Data(ev("a"))
	sink.Data(ev("b"))
	require.Equal(t, []string{"a", "b"}, ok.types())
	require.Equal(t, 2, m.SubscriberCount("k"))
}

func TestTerminalErrorReachesEverySubscriberOnce(t *testing.T) {
	m := NewManager()
	ft := newFakeTransport()
	a, b := &recorder{}, &recorder{}
	h, err := m.Subscribe("k", a.subscriber(), ft.exec, nil)
	require.NoError(t, err)
	_, err = m.Subscribe("k", b.subscriber(), ft.exec, nil)
	require.NoError(t, err)
	ft.waitSink(t)

	boom := errors.New("server exploded")
	ft.release <- boom

	_, werr := h.Result.Wait(context.Background())
	require.ErrorIs(t, werr, boom)
	for _, r := range []*recorder{a, b} {
		r.mu.Lock()
		require.Len(t, r.errs, 1)
		require.Equal(t, 1, r.completes)
		require.Empty(t, r.successes)
		r.mu.Unlock()
	}
	require.False(t, m.IsActive("k"))
}

func TestTransientErrorIsSwallowed(t *testing.T) {
	m := NewManager()
	ft := newFakeTransport()
	r := &recorder{}
	h, err := m.Subscribe("k", r.subscriber(), ft.exec, nil)
	require.NoError(t, err)
	ft.waitSink(t)

	ft.release <- errors.Wrap(ErrNetwork, "connection reset during shutdown")

	evs, werr := h.Result.Wait(context.Background())
	require.NoError(t, werr)
	require.Empty(t, evs)
	require.True(t, h.Result.Canceled())
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Empty(t, r.errs)
	require.Equal(t, 1, r.completes)
}

func TestSuccessDeliversHistory(t *testing.T) {
	m := NewManager()
	ft := newFakeTransport()
	r := &recorder{}
	h, err := m.Subscribe("k", r.subscriber(), ft.exec, nil)
	require.NoError(t, err)
	sink := ft.waitSink(t)
	sink.Data(ev("a"))
	ft.release <- nil

	evs, werr := h.Result.Wait(context.Background())
	require.NoError(t, werr)
	require.Equal(t, []events.Event{ev("a")}, evs)
	require.False(t, h.Result.Canceled())
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.successes, 1)
	require.Equal(t, []events.Event{ev("a")}, r.successes[0])
	require.Equal(t, 1, r.completes)
}

func TestJoiningEndedSessionOnlyNotifiesJoiner(t *testing.T) {
	m := NewManager()
	ft := newFakeTransport()
	first := &recorder{}
	joiner := &recorder{}

	var joinErr error
	sub := first.subscriber()
	sub.OnComplete = func() {
		first.mu.Lock()
		first.completes++
		first.mu.Unlock()
		// the session is ended but not yet discarded while callbacks run
		_, joinErr = m.Subscribe("k", joiner.subscriber(), nil, nil)
	}
	h, err := m.Subscribe("k", sub, ft.exec, nil)
	require.NoError(t, err)
	sink := ft.waitSink(t)
	sink.Data(ev("a"))
	sink.Error(errors.New("boom"))

	<-h.Result.Done()
	require.NoError(t, joinErr)
	require.Equal(t, []string{"a"}, joiner.types())
	joiner.mu.Lock()
	require.Len(t, joiner.errs, 1)
	require.Equal(t, 1, joiner.completes)
	joiner.mu.Unlock()

	first.mu.Lock()
	require.Len(t, first.errs, 1)
	require.Equal(t, 1, first.completes)
	first.mu.Unlock()
}

func TestCancelInvokesRemoteCancel(t *testing.T) {
	m := NewManager()
	ft := newFakeTransport()
	var cancels atomic.Int32
	cancelFn := func(context.Context) error {
		cancels.Add(1)
		return nil
	}
	h, err := m.Subscribe("k", Subscriber{}, ft.exec, cancelFn)
	require.NoError(t, err)
	_, err = m.Subscribe("k", Subscriber{}, ft.exec, nil)
	require.NoError(t, err)
	ft.waitSink(t)

	require.NoError(t, h.Cancel(context.Background()))
	require.Equal(t, int32(1), cancels.Load())
	require.False(t, m.IsActive("k"))
	require.Equal(t, 0, m.SubscriberCount("k"))
}

func TestUnsubscribeLeavesRemoteRunning(t *testing.T) {
	m := NewManager()
	ft := newFakeTransport()
	var cancels atomic.Int32
	h, err := m.Subscribe("k", Subscriber{}, ft.exec, func(context.Context) error {
		cancels.Add(1)
		return nil
	})
	require.NoError(t, err)
	ft.waitSink(t)

	h.Unsubscribe()
	<-h.Result.Done()
	require.Equal(t, int32(0), cancels.Load())
}

func TestDisconnectRemovesEverySubscriber(t *testing.T) {
	m := NewManager()
	ft := newFakeTransport()
	a, b := &recorder{}, &recorder{}
	h, err := m.Subscribe("k", a.subscriber(), ft.exec, nil)
	require.NoError(t, err)
	_, err = m.Subscribe("k", b.subscriber(), ft.exec, nil)
	require.NoError(t, err)
	sink := ft.waitSink(t)

	h.Disconnect()
	require.False(t, m.IsActive("k"))
	sink.Data(ev("late"))
	require.Empty(t, a.types())
	require.Empty(t, b.types())
	require.Eventually(t, func() bool { return a.completed() == 0 && h.Result.Canceled() }, 2*time.Second, 10*time.Millisecond)
}

func TestReentrantUnsubscribeDuringFanOut(t *testing.T) {
	m := NewManager()
	ft := newFakeTransport()
	b := &recorder{}
	var hb *Handle
	_, err := m.Subscribe("k", Subscriber{OnData: func(events.Event) { hb.Unsubscribe() }}, ft.exec, nil)
	require.NoError(t, err)
	hb, err = m.Subscribe("k", b.subscriber(), ft.exec, nil)
	require.NoError(t, err)
	sink := ft.waitSink(t)

	sink.Data(ev("a"))
	require.Empty(t, b.types())
	require.Equal(t, 1, m.SubscriberCount("k"))
}

func TestSubscribeValidation(t *testing.T) {
	m := NewManager()
	_, err := m.Subscribe("", Subscriber{}, newFakeTransport().exec, nil)
	require.ErrorIs(t, err, ErrEmptyKey)
	_, err = m.Subscribe("k", Subscriber{}, nil, nil)
	require.ErrorIs(t, err, ErrNilExecutor)
}

func TestManagerCancelByKey(t *testing.T) {
	m := NewManager()
	ft := newFakeTransport()
	var cancels atomic.Int32
	_, err := m.Subscribe("k", Subscriber{}, ft.exec, func(context.Context) error {
		cancels.Add(1)
		return nil
	})
	require.NoError(t, err)
	ft.waitSink(t)
	require.Equal(t, []string{"k"}, m.Keys())

	found, err := m.Cancel(context.Background(), "k")
	require.True(t, found)
	require.NoError(t, err)
	require.Equal(t, int32(1), cancels.Load())

	found, err = m.Cancel(context.Background(), "k")
	require.False(t, found)
	require.NoError(t, err)
}

func TestIsTransient(t *testing.T) {
	require.True(t, IsTransient(context.Canceled))
	require.True(t, IsTransient(errors.Wrap(ErrCanceled, "stop")))
	require.False(t, IsTransient(context.DeadlineExceeded))
	require.False(t, IsTransient(errors.New("500")))
	require.False(t, IsTransient(nil))
}
