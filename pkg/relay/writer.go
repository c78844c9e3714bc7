package relay

import (
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// frameWriter writes queued frames as newline-delimited JSON or as server-sent events.
type frameWriter struct {
	w   http.ResponseWriter
	rc  *http.ResponseController
	sse bool
}

func newFrameWriter(w http.ResponseWriter, sse bool) *frameWriter {
	return &frameWriter{w: w, rc: http.NewResponseController(w), sse: sse}
}

func (fw *frameWriter) writeHeaders() {
	h := fw.w.Header()
	if fw.sse {
		h.Set("Content-Type", "text/event-stream")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
	} else {
		h.Set("Content-Type", "application/x-ndjson")
	}
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	fw.w.WriteHeader(http.StatusOK)
	fw.flush()
}

// write emits one frame. An error frame becomes an `error` event over SSE and a
// `{"error":{"message":...}}` line over NDJSON; either is the last frame of a response.
func (fw *frameWriter) write(f frame) error {
	var err error
	switch {
	case fw.sse && f.kind == frameError:
		err = writeSSEEvent(fw.w, "error", f.raw)
	case fw.sse:
		err = writeSSEEvent(fw.w, "message", f.raw)
	case f.kind == frameError:
		_, err = fmt.Fprintf(fw.w, "{\"error\":%s}\n", f.raw)
	default:
		_, err = fmt.Fprintf(fw.w, "%s\n", f.raw)
	}
	if err != nil {
		return errors.Wrap(err, "write frame")
	}
	fw.flush()
	return nil
}

func (fw *frameWriter) flush() {
	_ = fw.rc.Flush()
}

func writeSSEEvent(w io.Writer, event string, payload []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
