package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrClosed is returned once a sink has failed or been closed; nothing
// further is written.
var ErrClosed = errors.New("stream closed")

// Sink receives frames in order. Emit blocks until the frame is handed to
// the transport, which is what gives a slow reader backpressure.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// Writer writes NDJSON frames to w and flushes after each one when w
// supports it.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	flush  func()
	failed error
}

func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flush = f.Flush
	}
	return sw
}

func (s *Writer) Emit(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := Encode(e)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", e.Kind(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return s.failed
	}
	if _, err := s.w.Write(line); err != nil {
		s.failed = fmt.Errorf("%w: %v", ErrClosed, err)
		return s.failed
	}
	if s.flush != nil {
		s.flush()
	}
	return nil
}

// Recorder keeps frames in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds lists the recorded frame kinds in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind())
	}
	return out
}
