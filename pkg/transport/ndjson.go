package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/handlerstream/pkg/events"
	"github.com/go-go-golems/handlerstream/pkg/streammanager"
)

// LineDecoder splits newline-delimited JSON arriving in arbitrary chunks. A trailing
// partial line is kept and prefixed onto the next chunk. An error line ends decoding.
type LineDecoder struct {
	pending []byte
	err     *RemoteError
}

// Write consumes a chunk and returns the events of every line it completed.
func (d *LineDecoder) Write(chunk []byte) []events.Event {
	d.pending = append(d.pending, chunk...)
	var out []events.Event
	for {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		if ev, ok := d.decodeLine(d.pending[:i]); ok {
			out = append(out, ev)
		}
		d.pending = d.pending[i+1:]
	}
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return out
}

// Flush parses whatever is left once the stream ended.
func (d *LineDecoder) Flush() []events.Event {
	line := d.pending
	d.pending = nil
	if ev, ok := d.decodeLine(line); ok {
		return []events.Event{ev}
	}
	return nil
}

// Pending returns the number of buffered bytes of an unfinished line.
func (d *LineDecoder) Pending() int {
	return len(d.pending)
}

// Err returns the failure carried by an error line, if one was seen.
func (d *LineDecoder) Err() error {
	if d.err == nil {
		return nil
	}
	return d.err
}

func (d *LineDecoder) decodeLine(line []byte) (events.Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || d.err != nil {
		return events.Event{}, false
	}
	ev, err := events.Decode(line)
	if err == nil {
		return ev, true
	}
	if errors.Is(err, events.ErrMissingType) {
		if rerr := errorLine(line); rerr != nil {
			d.err = rerr
		}
		return events.Event{}, false
	}
	log.Warn().Err(err).Str("component", "transport").Str("source", "ndjson").Int("len", len(line)).Msg("dropping unparsable line")
	return events.Event{}, false
}

// errorLine matches `{"error":{"message":...}}`.
func errorLine(line []byte) *RemoteError {
	var w struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(line, &w); err != nil || len(w.Error) == 0 || string(w.Error) == "null" {
		return nil
	}
	return decodeRemoteError(w.Error)
}

// NDJSON returns an executor reading newline-delimited JSON events from a raw byte
// stream.
func NDJSON(client *http.Client, url string) streammanager.Executor {
	return func(ctx context.Context, sink streammanager.Sink) error {
		resp, err := openStream(ctx, client, url, "application/x-ndjson")
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		sink.Start()
		return readNDJSON(ctx, resp.Body, sink)
	}
}

func readNDJSON(ctx context.Context, r io.Reader, sink streammanager.Sink) error {
	var dec LineDecoder
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, ev := range dec.Write(buf[:n]) {
				sink.Data(ev)
			}
			if derr := dec.Err(); derr != nil {
				return derr
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				for _, ev := range dec.Flush() {
					sink.Data(ev)
				}
				return dec.Err()
			}
			return errors.Wrap(err, "read ndjson stream")
		}
	}
}
