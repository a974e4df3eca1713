// Package sse serializes StreamEvents onto an HTTP response as
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/alexmaze/aimemos/internal/models"
)

// Writer flushes one `data: <json>\n\n` frame per event. It never
// buffers deltas beyond the current event: the caller's iteration over
// the pipeline's event sequence is the only backpressure point.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares w for an SSE response. Returns an error if the
// underlying ResponseWriter cannot be flushed incrementally.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{w: w, flusher: flusher}, nil
}

func (s *Writer) Write(event models.StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write stream event: %w", err)
	}

	s.flusher.Flush()
	return nil
}
