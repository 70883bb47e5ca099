package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/yurei/internal/helpers"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint
// (xAI, OpenAI, local gateways).
type OpenAIClient struct {
	client *http.Client
	apiKey string
	apiURL string
	model  string
}

type OpenAIOptions struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func NewOpenAIClient(opts OpenAIOptions) *OpenAIClient {
	apiURL := strings.TrimRight(opts.BaseURL, "/")
	if apiURL == "" {
		apiURL = "https://api.x.ai/v1"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIClient{
		client: &http.Client{Timeout: timeout},
		apiKey: opts.APIKey,
		apiURL: apiURL,
		model:  opts.Model,
	}
}

func (c *OpenAIClient) Stream(ctx context.Context, req Request) (Stream, error) {
	body := c.chatRequest(req.System, req.Messages, req.Temperature)
	body.Stream = true
	if len(req.Tools) > 0 {
		body.Tools = make([]openAITool, 0, len(req.Tools))
		for _, tool := range req.Tools {
			body.Tools = append(body.Tools, openAITool{
				Type: "function",
				Function: openAIFunction{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  tool.Parameters,
				},
			})
		}
		if req.ToolChoice != "" {
			body.ToolChoice = string(req.ToolChoice)
		}
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	return newSSEStream(resp, decodeOpenAIChunk), nil
}

func (c *OpenAIClient) GenerateObject(ctx context.Context, req ObjectRequest) (json.RawMessage, error) {
	messages := append([]Message(nil), req.Messages...)
	if req.Prompt != "" {
		messages = append(messages, Message{Role: RoleUser, Content: req.Prompt})
	}
	body := c.chatRequest(req.System, messages, req.Temperature)
	body.MaxTokens = req.MaxTokens
	name := req.SchemaName
	if name == "" {
		name = "response"
	}
	body.ResponseFormat = &openAIResponseFormat{
		Type: "json_schema",
		JSONSchema: &openAIJSONSchema{
			Name:   name,
			Schema: req.Schema,
		},
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out openAICompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("llm: decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return nil, ErrEmptyResponse
	}
	object, err := helpers.ExtractJSONObject(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidObject, err)
	}
	if !json.Valid([]byte(object)) {
		return nil, ErrInvalidObject
	}
	return json.RawMessage(object), nil
}

func (c *OpenAIClient) chatRequest(system string, messages []Message, temperature *float64) openAIRequest {
	wire := make([]openAIMessage, 0, len(messages)+1)
	if system != "" {
		wire = append(wire, openAIMessage{Role: string(RoleSystem), Content: system})
	}
	for _, m := range messages {
		wire = append(wire, toOpenAIMessage(m))
	}
	return openAIRequest{
		Model:       c.model,
		Messages:    wire,
		Temperature: temperature,
	}
}

func (c *OpenAIClient) post(ctx context.Context, body openAIRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: request failed: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	Stream         bool                  `json:"stream,omitempty"`
	Temperature    *float64              `json:"temperature,omitempty"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	Tools          []openAITool          `json:"tools,omitempty"`
	ToolChoice     string                `json:"tool_choice,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openAIJSONSchema `json:"json_schema,omitempty"`
}

type openAIJSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

type openAIToolCall struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type openAIStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

type openAICompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func toOpenAIMessage(m Message) openAIMessage {
	out := openAIMessage{
		Role:       string(m.Role),
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	for _, call := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, openAIToolCall{
			ID:   call.ID,
			Type: "function",
			Function: openAIFunctionCall{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}
	return out
}

func decodeOpenAIChunk(data []byte) (Chunk, error) {
	var payload openAIStreamResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return Chunk{}, fmt.Errorf("llm: decode chunk: %w", err)
	}
	if len(payload.Choices) == 0 {
		return Chunk{}, nil
	}
	delta := payload.Choices[0].Delta
	chunk := Chunk{Content: delta.Content}
	for i, call := range delta.ToolCalls {
		idx := i
		if call.Index != nil {
			idx = *call.Index
		}
		chunk.ToolCalls = append(chunk.ToolCalls, ToolCallDelta{
			Index:     idx,
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return chunk, nil
}
