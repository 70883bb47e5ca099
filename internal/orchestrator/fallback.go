package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mohammad-safakhou/yurei/internal/domain"
	"github.com/mohammad-safakhou/yurei/internal/llm"
	"github.com/mohammad-safakhou/yurei/internal/stream"
)

const (
	FallbackCallID = "fallback-tool-call"
	ApologyText    = "I'm sorry, but I encountered an error processing your request. Please try again."
)

// EmitFallback writes the two terminal frames used when the pipeline
// cannot finish: an empty result for the domain's primary tool echoing the
// user's last message, then the apology text.
func EmitFallback(ctx context.Context, sink stream.Sink, lastUserText string, cfg domain.Config) error {
	args, err := json.Marshal(map[string]string{"query": lastUserText})
	if err != nil {
		return err
	}
	if err := sink.Emit(ctx, stream.ToolResult{
		CallID:   FallbackCallID,
		ToolName: cfg.PrimaryTool(),
		Args:     args,
		Result:   []any{},
	}); err != nil {
		return err
	}
	return sink.Emit(ctx, stream.Text{Text: ApologyText})
}

// LastUserText returns the content of the most recent user message.
func LastUserText(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}
