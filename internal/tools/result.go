package tools

import "encoding/json"

// Result is the outcome of one tool call. Payload is what the tool
// produced; Error is the message shown to the model and the client when it
// failed.
type Result struct {
	Payload map[string]any
	Error   string
	Err     error
}

func (r Result) Failed() bool { return r.Error != "" }

func (r Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Payload)+1)
	for k, v := range r.Payload {
		out[k] = v
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	return json.Marshal(out)
}

// ErrorResult builds a failed result without a payload.
func ErrorResult(err error) Result {
	return Result{Error: err.Error(), Err: err}
}
