// Package llm is the contract with the completion provider: a streamed chat
// turn that may call tools, and a one-shot structured-output request.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolChoice controls whether the model may, must or must not call tools.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"
)

type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall // assistant turns that invoked tools
	ToolCallID string     // tool turns
	Name       string
}

type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a complete tool invocation. Arguments is the raw JSON text the
// model produced and may not parse.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolCallDelta is one streamed fragment of a tool call. Fragments for the
// same call share an Index; ID and Name usually arrive on the first one.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

type Chunk struct {
	Content   string
	ToolCalls []ToolCallDelta
}

// Request is a chat turn.
type Request struct {
	System      string
	Messages    []Message
	Tools       []Tool
	ToolChoice  ToolChoice
	Temperature *float64
}

// ObjectRequest asks for a single JSON object matching Schema.
type ObjectRequest struct {
	System      string
	Prompt      string
	Messages    []Message
	SchemaName  string
	Schema      map[string]any
	Temperature *float64
	MaxTokens   int
}

type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Client is implemented by every provider.
type Client interface {
	Stream(ctx context.Context, req Request) (Stream, error)
	GenerateObject(ctx context.Context, req ObjectRequest) (json.RawMessage, error)
}

var (
	ErrEmptyResponse = errors.New("llm: empty response")
	ErrInvalidObject = errors.New("llm: response is not a JSON object")
)

// ProviderError is a non-2xx answer from the provider.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm: provider returned status %d: %s", e.StatusCode, e.Body)
}

// Temperature is a helper for the optional request field.
func Temperature(v float64) *float64 { return &v }
