package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("response writer does not support streaming")

// SSESink writes messages as Server-Sent Events frames. Send and Heartbeat
// may be called from different goroutines.
type SSESink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	timeout time.Duration
}

const sseWriteTimeout = wsWriteTimeout

// NewSSESink writes the event-stream headers and flushes them.
// extraHeaders (e.g. CORS) are applied before the status line.
func NewSSESink(w http.ResponseWriter, extraHeaders map[string]string) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	for k, v := range extraHeaders {
		h.Set(k, v)
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSESink{w: w, flusher: flusher, rc: http.NewResponseController(w), timeout: sseWriteTimeout}, nil
}

// Send writes one "data: <json>" frame.
func (s *SSESink) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}
	return s.write("data: " + string(payload) + "\n\n")
}

// Heartbeat writes an SSE comment line that clients ignore.
func (s *SSESink) Heartbeat() error {
	return s.write(": heartbeat\n\n")
}

// KeepAlive sends heartbeats every interval until ctx is done or a write fails.
func (s *SSESink) KeepAlive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Heartbeat(); err != nil {
				return
			}
		}
	}
}

// write bounds each frame by the sink timeout so a client that stops reading
// fails the send instead of blocking the crawl. The deadline is cleared
// afterwards so it never outlives the frame.
func (s *SSESink) write(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rc.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("set sse write deadline: %w", err)
	}
	defer func() { _ = s.rc.SetWriteDeadline(time.Time{}) }()
	if _, err := s.w.Write([]byte(frame)); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}
