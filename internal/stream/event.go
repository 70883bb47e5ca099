// Package stream defines the frames written to the caller and the sinks
// that write them.
package stream

import "encoding/json"

type Kind string

const (
	KindToolCall   Kind = "tool-call"
	KindToolResult Kind = "tool-result"
	KindText       Kind = "text"
	KindError      Kind = "error"
)

// Event is one outbound frame.
type Event interface {
	Kind() Kind
}

type ToolCall struct {
	CallID   string
	ToolName string
	Args     json.RawMessage
}

// ToolResult carries a tool's outcome. Result is encoded as is; a nil
// Result is written as an empty list.
type ToolResult struct {
	CallID   string
	ToolName string
	Args     json.RawMessage
	Result   any
}

type Text struct {
	Text string
}

// Error reports a tool call that could not be attempted at all, such as a
// tool outside the domain whitelist.
type Error struct {
	CallID   string
	ToolName string
	Message  string
}

func (ToolCall) Kind() Kind   { return KindToolCall }
func (ToolResult) Kind() Kind { return KindToolResult }
func (Text) Kind() Kind       { return KindText }
func (Error) Kind() Kind      { return KindError }

func rawOrEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return json.RawMessage(`{}`)
	}
	return raw
}

func (e ToolCall) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     Kind            `json:"type"`
		CallID   string          `json:"callId"`
		ToolName string          `json:"toolName"`
		Args     json.RawMessage `json:"args"`
	}{KindToolCall, e.CallID, e.ToolName, rawOrEmptyObject(e.Args)})
}

func (e ToolResult) MarshalJSON() ([]byte, error) {
	result := e.Result
	if result == nil {
		result = []any{}
	}
	var args json.RawMessage
	if len(e.Args) > 0 {
		args = rawOrEmptyObject(e.Args)
	}
	return json.Marshal(struct {
		Type     Kind            `json:"type"`
		CallID   string          `json:"callId"`
		ToolName string          `json:"toolName,omitempty"`
		Args     json.RawMessage `json:"args,omitempty"`
		Result   any             `json:"result"`
	}{KindToolResult, e.CallID, e.ToolName, args, result})
}

func (e Text) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type Kind   `json:"type"`
		Text string `json:"text"`
	}{KindText, e.Text})
}

func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     Kind   `json:"type"`
		CallID   string `json:"callId,omitempty"`
		ToolName string `json:"toolName,omitempty"`
		Error    string `json:"error"`
	}{KindError, e.CallID, e.ToolName, e.Message})
}

// Encode renders e as one NDJSON line including the trailing newline.
func Encode(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
