// Package repair rewrites tool-call arguments that failed schema
// validation with a single structured-output request.
package repair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/yurei/internal/llm"
	"github.com/mohammad-safakhou/yurei/internal/tools"
)

// ErrNotRepairable is returned for causes other than bad arguments, most
// importantly a tool name outside the whitelist.
var ErrNotRepairable = errors.New("tool call is not repairable")

type Repairer struct {
	client llm.Client
	now    func() time.Time
}

func New(client llm.Client) *Repairer {
	return &Repairer{client: client, now: time.Now}
}

// Repair asks the model once for arguments matching desc.Schema. The
// result is not validated here; the executor validates it on invocation
// and a second failure is an ordinary tool error.
func (r *Repairer) Repair(ctx context.Context, call llm.ToolCall, desc tools.Descriptor, cause error) (json.RawMessage, error) {
	var verr *tools.ValidationError
	if errors.Is(cause, tools.ErrUnknownTool) || !errors.As(cause, &verr) {
		return nil, fmt.Errorf("%w: %v", ErrNotRepairable, cause)
	}
	schema, err := json.Marshal(desc.Schema)
	if err != nil {
		return nil, fmt.Errorf("repair %s: marshal schema: %w", call.Name, err)
	}
	args := strings.TrimSpace(call.Arguments)
	if args == "" {
		args = "{}"
	}
	prompt := strings.Join([]string{
		fmt.Sprintf("The model tried to call the tool %q with the following arguments:", call.Name),
		args,
		"The arguments were rejected: " + verr.Err.Error(),
		"The tool accepts the following schema:",
		string(schema),
		"Please fix the arguments.",
		"Today's date is " + r.now().Format("January 2, 2006"),
	}, "\n")

	out, err := r.client.GenerateObject(ctx, llm.ObjectRequest{
		Prompt:      prompt,
		SchemaName:  call.Name + "_arguments",
		Schema:      desc.Schema,
		Temperature: llm.Temperature(0),
	})
	if err != nil {
		return nil, fmt.Errorf("repair %s: %w", call.Name, err)
	}
	return out, nil
}
