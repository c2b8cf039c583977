package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hupe1980/convoflow/core"
)

// ContentType is the media type of streamed responses.
const ContentType = "text/plain; charset=utf-8"

// NDJSONWriter writes one JSON object per line and flushes after each line
// when the underlying writer supports it.
type NDJSONWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewNDJSONWriter wraps w.
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	flusher, _ := w.(http.Flusher)
	return &NDJSONWriter{w: w, flusher: flusher}
}

// Write encodes ev as a single line.
func (n *NDJSONWriter) Write(ev core.StreamEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	b = append(b, '\n')
	if _, err := n.w.Write(b); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if n.flusher != nil {
		n.flusher.Flush()
	}
	return nil
}

// Pipe copies events to w until the channel closes, ctx ends or a write
// fails. On failure the caller is expected to cancel the producer.
func Pipe(ctx context.Context, w *NDJSONWriter, events <-chan core.StreamEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := w.Write(ev); err != nil {
				return err
			}
		}
	}
}

// Decode reads an NDJSON stream back into events. Used by clients and tests.
func Decode(r io.Reader) ([]core.StreamEvent, error) {
	dec := json.NewDecoder(r)
	var events []core.StreamEvent
	for {
		var ev core.StreamEvent
		if err := dec.Decode(&ev); err != nil {
			if err == io.EOF {
				return events, nil
			}
			return events, err
		}
		events = append(events, ev)
	}
}
