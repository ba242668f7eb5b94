// Package sse frames protocol.SSEEvent values onto an http.ResponseWriter as
// Anthropic-shaped server-sent events. It is deliberately the one package in
// this gateway built on the standard library alone: no example repo in the
// retrieval pack carries a server-side SSE-framing library (the closest,
// anthropic-sdk-go's packages/ssestream, is a client-side consumer and is
// not used in this gateway).
package sse

import (
	"fmt"
	"net/http"

	"goa.design/bedrock-gateway/internal/protocol"
)

// Writer frames SSEEvent values as "event:"/"data:" lines terminated by a
// blank line, flushing after every event so clients see incremental
// progress rather than a buffered burst at stream close.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares w for SSE output: sets the standard streaming headers
// and returns a Writer, or an error if w does not support flushing.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Writer{w: w, flusher: flusher}, nil
}

// Send writes one event and flushes.
func (w *Writer) Send(ev protocol.SSEEvent) error {
	data, err := ev.MarshalData()
	if err != nil {
		return fmt.Errorf("sse: marshal event %q: %w", ev.Event, err)
	}
	if _, err := fmt.Fprintf(w.w, "event: %s\n", ev.Event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

// Pump drains events from ch, writing each to w, until ch closes or an
// error occurs. It is the shape the gateway HTTP handler calls for both a
// genuine backend stream (internal/backend.Client.Stream) and a PTC hybrid
// stream synthesized from a single non-streaming Response
// — both are just <-chan protocol.SSEEvent from here.
func Pump(w *Writer, ch <-chan protocol.SSEEvent) error {
	for ev := range ch {
		if err := w.Send(ev); err != nil {
			return err
		}
	}
	return nil
}
