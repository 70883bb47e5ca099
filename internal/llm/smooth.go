package llm

import (
	"context"
	"errors"
	"io"
	"regexp"
	"time"
)

var wordChunk = regexp.MustCompile(`^\s*\S+\s+`)

// SmoothWords re-chunks a text stream into whole words and waits delay
// before handing out each one. Whatever is left in the buffer when the
// inner stream ends is flushed as a final chunk. Tool-call deltas pass
// through untouched.
func SmoothWords(ctx context.Context, inner Stream, delay time.Duration) Stream {
	return &smoothStream{ctx: ctx, inner: inner, delay: delay}
}

type smoothStream struct {
	ctx   context.Context
	inner Stream
	delay time.Duration
	buf   string
	done  bool
}

func (s *smoothStream) Recv() (Chunk, error) {
	for {
		if loc := wordChunk.FindStringIndex(s.buf); loc != nil {
			word := s.buf[:loc[1]]
			s.buf = s.buf[loc[1]:]
			if err := s.wait(); err != nil {
				return Chunk{}, err
			}
			return Chunk{Content: word}, nil
		}
		if s.done {
			if s.buf == "" {
				return Chunk{}, io.EOF
			}
			rest := s.buf
			s.buf = ""
			return Chunk{Content: rest}, nil
		}

		chunk, err := s.inner.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			continue
		}
		if err != nil {
			return Chunk{}, err
		}
		if len(chunk.ToolCalls) > 0 {
			out := Chunk{Content: s.buf + chunk.Content, ToolCalls: chunk.ToolCalls}
			s.buf = ""
			return out, nil
		}
		s.buf += chunk.Content
	}
}

func (s *smoothStream) wait() error {
	if s.delay <= 0 {
		return s.ctx.Err()
	}
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *smoothStream) Close() error {
	return s.inner.Close()
}
