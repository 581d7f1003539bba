package sse

import (
	"errors"
	"net/http"
)

// ErrReceiverGone is returned by Send once a write to the client has failed.
var ErrReceiverGone = errors.New("sse receiver gone")

// Writer emits frames onto an HTTP response as a text/event-stream.
type Writer struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	gone   bool
	closed bool
}

// NewWriter writes the event-stream headers and flushes them, which commits
// the response status to 200.
func NewWriter(w http.ResponseWriter) *Writer {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sw := &Writer{w: w, rc: http.NewResponseController(w)}
	_ = sw.rc.Flush()
	return sw
}

// Send writes one event payload and flushes it. After the first failure every
// later call returns ErrReceiverGone without touching the connection.
func (s *Writer) Send(data []byte) error {
	if s.gone || s.closed {
		return ErrReceiverGone
	}
	if _, err := s.w.Write(Format(data)); err != nil {
		s.gone = true
		return errors.Join(ErrReceiverGone, err)
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.gone = true
		return errors.Join(ErrReceiverGone, err)
	}
	return nil
}

// Close ends the stream. It may be called any number of times, including after
// the client disconnected.
func (s *Writer) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.gone {
		_ = s.rc.Flush()
	}
	return nil
}

// Gone reports whether a write to the client has failed.
func (s *Writer) Gone() bool { return s.gone }

// Format frames a payload as a single event: the data line and a blank line.
func Format(data []byte) []byte {
	out := make([]byte, 0, len(DataPrefix)+len(data)+2)
	out = append(out, DataPrefix...)
	out = append(out, data...)
	return append(out, '\n', '\n')
}
