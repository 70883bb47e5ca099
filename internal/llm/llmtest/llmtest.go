// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/mohammad-safakhou/yurei/internal/llm"
)

// Turn scripts one Stream call. Err fails the call itself; RecvErr is
// returned after Chunks are drained instead of io.EOF. Block makes the call
// wait for context cancellation.
type Turn struct {
	Chunks  []llm.Chunk
	Err     error
	RecvErr error
	Block   bool
}

// Object scripts one GenerateObject call.
type Object struct {
	JSON  string
	Err   error
	Block bool
}

// Client replays Turns and Objects in order and records every request.
type Client struct {
	mu       sync.Mutex
	turns    []Turn
	objects  []Object
	requests []llm.Request
	objReqs  []llm.ObjectRequest
}

var ErrUnscripted = errors.New("llmtest: no scripted response left")

func New(turns ...Turn) *Client {
	return &Client{turns: turns}
}

// WithObjects appends scripted structured-output replies.
func (c *Client) WithObjects(objects ...Object) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects = append(c.objects, objects...)
	return c
}

func (c *Client) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	if len(c.turns) == 0 {
		c.mu.Unlock()
		return nil, ErrUnscripted
	}
	turn := c.turns[0]
	c.turns = c.turns[1:]
	c.mu.Unlock()

	if turn.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if turn.Err != nil {
		return nil, turn.Err
	}
	return &stream{chunks: turn.Chunks, end: turn.RecvErr}, nil
}

func (c *Client) GenerateObject(ctx context.Context, req llm.ObjectRequest) (json.RawMessage, error) {
	c.mu.Lock()
	c.objReqs = append(c.objReqs, req)
	if len(c.objects) == 0 {
		c.mu.Unlock()
		return nil, ErrUnscripted
	}
	obj := c.objects[0]
	c.objects = c.objects[1:]
	c.mu.Unlock()

	if obj.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if obj.Err != nil {
		return nil, obj.Err
	}
	return json.RawMessage(obj.JSON), nil
}

// Requests returns the Stream requests seen so far.
func (c *Client) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Request(nil), c.requests...)
}

// ObjectRequests returns the GenerateObject requests seen so far.
func (c *Client) ObjectRequests() []llm.ObjectRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.ObjectRequest(nil), c.objReqs...)
}

type stream struct {
	chunks []llm.Chunk
	end    error
	closed bool
}

func (s *stream) Recv() (llm.Chunk, error) {
	if len(s.chunks) == 0 {
		if s.end != nil {
			return llm.Chunk{}, s.end
		}
		return llm.Chunk{}, io.EOF
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}

func (s *stream) Close() error {
	s.closed = true
	return nil
}

// Text splits each part into its own content chunk.
func Text(parts ...string) []llm.Chunk {
	out := make([]llm.Chunk, 0, len(parts))
	for _, p := range parts {
		out = append(out, llm.Chunk{Content: p})
	}
	return out
}

// ToolCall streams one call at index idx the way providers do: id and
// name first, then the arguments in two fragments.
func ToolCall(idx int, id, name, args string) []llm.Chunk {
	half := len(args) / 2
	return []llm.Chunk{
		{ToolCalls: []llm.ToolCallDelta{{Index: idx, ID: id, Name: name}}},
		{ToolCalls: []llm.ToolCallDelta{{Index: idx, Arguments: args[:half]}}},
		{ToolCalls: []llm.ToolCallDelta{{Index: idx, Arguments: args[half:]}}},
	}
}

// Concat joins chunk groups into one script.
func Concat(groups ...[]llm.Chunk) []llm.Chunk {
	var out []llm.Chunk
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
