// Package tools is the executor behind the LLM's tool calls: named,
// schema-validated operations that return a Result instead of failing the
// request.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mohammad-safakhou/yurei/internal/llm"
)

var (
	// ErrUnknownTool means the model named a tool that is not registered or
	// not allowed for the domain. It is never repairable.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrToolFailed wraps an invocation failure.
	ErrToolFailed = errors.New("tool execution failed")
)

// ValidationError means the arguments do not satisfy the tool schema. It
// is the only condition the repair step handles.
type ValidationError struct {
	Tool string
	Args string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// InvokeFunc runs a tool with validated arguments.
type InvokeFunc func(ctx context.Context, args json.RawMessage) (map[string]any, error)

// Descriptor declares one tool.
type Descriptor struct {
	Name        string
	Description string
	Schema      map[string]any
	Invoke      InvokeFunc
	// FailureMessage replaces the raw error text in the Result; the cause is
	// kept on Result.Err for logging.
	FailureMessage string
	// EmptyPayload is returned alongside an error. Search tools use
	// {"results": []} so the client renders an empty list.
	EmptyPayload func() map[string]any
}

type entry struct {
	desc   Descriptor
	schema *jsonschema.Schema
}

// Registry is read-only after New and safe for concurrent use.
type Registry struct {
	tools map[string]entry
}

func New(descs ...Descriptor) (*Registry, error) {
	reg := &Registry{tools: make(map[string]entry, len(descs))}
	for _, d := range descs {
		if strings.TrimSpace(d.Name) == "" || d.Invoke == nil {
			return nil, fmt.Errorf("tool %q: name and invoke are required", d.Name)
		}
		if _, dup := reg.tools[d.Name]; dup {
			return nil, fmt.Errorf("tool %q registered twice", d.Name)
		}
		schema, err := compileSchema(d.Name, d.Schema)
		if err != nil {
			return nil, err
		}
		reg.tools[d.Name] = entry{desc: d, schema: schema}
	}
	return reg, nil
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("tool %s: marshal schema: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	resource := name + ".json"
	if err := compiler.AddResource(resource, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("tool %s: add schema resource: %w", name, err)
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("tool %s: compile schema: %w", name, err)
	}
	return compiled, nil
}

func (r *Registry) Lookup(name string) (Descriptor, bool) {
	e, ok := r.tools[name]
	return e.desc, ok
}

// Definitions returns the LLM tool declarations for names, in that order.
// Names that are not registered are skipped.
func (r *Registry) Definitions(names []string) []llm.Tool {
	out := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		e, ok := r.tools[name]
		if !ok {
			continue
		}
		out = append(out, llm.Tool{Name: name, Description: e.desc.Description, Parameters: e.desc.Schema})
	}
	return out
}

// Validate checks raw arguments against the tool schema and returns them in
// compact form. Errors are ErrUnknownTool or *ValidationError.
func (r *Registry) Validate(name, raw string) (json.RawMessage, error) {
	e, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "{}"
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, &ValidationError{Tool: name, Args: raw, Err: fmt.Errorf("arguments are not valid JSON: %w", err)}
	}
	if err := e.schema.Validate(doc); err != nil {
		return nil, &ValidationError{Tool: name, Args: raw, Err: err}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return nil, &ValidationError{Tool: name, Args: raw, Err: err}
	}
	return json.RawMessage(buf.Bytes()), nil
}

// Execute validates args and invokes the tool. It never returns an error:
// invalid arguments and invocation failures become a Result carrying an
// error message.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) Result {
	e, ok := r.tools[name]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownTool, name)
		return Result{Error: err.Error(), Err: err}
	}
	valid, err := r.Validate(name, string(args))
	if err != nil {
		return e.failed(err, err.Error())
	}
	payload, err := e.desc.Invoke(ctx, valid)
	if err != nil {
		msg := e.desc.FailureMessage
		if msg == "" {
			msg = err.Error()
		}
		return e.failed(fmt.Errorf("%w: %s: %w", ErrToolFailed, name, err), msg)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return Result{Payload: payload}
}

func (e entry) failed(err error, msg string) Result {
	res := Result{Error: msg, Err: err}
	if e.desc.EmptyPayload != nil {
		res.Payload = e.desc.EmptyPayload()
	}
	return res
}
