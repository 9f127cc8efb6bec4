package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// sseWriter emits the streaming wire protocol: each content delta and
// error goes out as a JSON data frame, and the stream ends with a
// single data: [DONE] frame. Every frame is flushed immediately.
type sseWriter struct {
	w        io.Writer
	flusher  http.Flusher
	started  bool
	finished bool
}

// newSSEWriter sets streaming headers and wraps w. Fails when w cannot
// flush, since buffered SSE defeats the point.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	return &sseWriter{w: w, flusher: flusher}, nil
}

func (w *sseWriter) writeFrame(payload []byte) error {
	w.started = true
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// Started reports whether any frame has been written yet.
func (w *sseWriter) Started() bool {
	return w.started
}

// WriteContent sends one content delta.
func (w *sseWriter) WriteContent(content string) error {
	if w.finished {
		return nil
	}
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("marshal content frame: %w", err)
	}
	return w.writeFrame(payload)
}

// WriteStreamError sends an error frame. Error frames are terminal;
// nothing more goes out afterwards.
func (w *sseWriter) WriteStreamError(message string) error {
	if w.finished {
		return nil
	}
	w.finished = true
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return fmt.Errorf("marshal error frame: %w", err)
	}
	return w.writeFrame(payload)
}

// WriteDone terminates the stream with the sentinel frame. Once a
// terminal frame has gone out, further calls write nothing, so a
// stream can never carry more than one terminal frame.
func (w *sseWriter) WriteDone() error {
	if w.finished {
		return nil
	}
	w.finished = true
	return w.writeFrame([]byte("[DONE]"))
}
