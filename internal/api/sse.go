package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const sseDone = "[DONE]"

type chatDelta struct {
	Content string `json:"content"`
}

type chatStreamError struct {
	Error string `json:"error"`
}

// sseWriter frames chat output as server-sent events. Headers are committed
// on the first event, so a failure before that can still be answered with a
// plain JSON error.
type sseWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
	closed  bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *sseWriter) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	// Replies can outlive the server's write timeout.
	_ = s.rc.SetWriteDeadline(time.Time{})
	s.w.WriteHeader(http.StatusOK)
}

func (s *sseWriter) send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.write(string(b))
}

// done writes the terminal marker. Nothing is written after it.
func (s *sseWriter) done() error {
	err := s.write(sseDone)
	s.closed = true
	return err
}

func (s *sseWriter) write(data string) error {
	if s.closed {
		return errors.New("event stream already terminated")
	}
	s.start()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
