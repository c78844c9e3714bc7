package streammanager

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

var (
	// ErrCanceled is returned by executors that stop because the stream was canceled.
	ErrCanceled = errors.New("stream canceled")
	// ErrNetwork marks a transport that went away underneath the client, such as a
	// connection dropped during shutdown.
	ErrNetwork = errors.New("network error")

	ErrEmptyKey    = errors.New("stream key is empty")
	ErrNilExecutor = errors.New("executor is nil")
)

// IsTransient reports whether err is a cancellation or network drop that must not be
// reported to subscribers as a failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrCanceled) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, net.ErrClosed)
}
