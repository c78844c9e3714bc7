package streammanager

import (
	"context"
	"sync"

	"github.com/go-go-golems/handlerstream/pkg/events"
)

// Result resolves once the session of a stream ends.
type Result struct {
	done     chan struct{}
	once     sync.Once
	events   []events.Event
	err      error
	canceled bool
}

func newResult() *Result {
	return &Result{done: make(chan struct{})}
}

func (r *Result) resolve(evs []events.Event, err error, canceled bool) {
	r.once.Do(func() {
		r.events = evs
		r.err = err
		r.canceled = canceled
		close(r.done)
	})
}

func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the session ends or ctx is done. A session that was aborted or
// dropped by the network resolves with its history and no error; see Canceled.
func (r *Result) Wait(ctx context.Context) ([]events.Event, error) {
	select {
	case <-r.done:
		return r.events, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Canceled reports whether the session ended without success or failure. Only
// meaningful once Done is closed.
func (r *Result) Canceled() bool {
	select {
	case <-r.done:
		return r.canceled
	default:
		return false
	}
}
