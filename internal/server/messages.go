package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/yurei/internal/llm"
)

const (
	maxMessages      = 50
	maxMessageLength = 8000
)

type messageBody struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// conversation checks caller-supplied history. Only user and assistant turns
// are accepted; tool and system messages are produced server-side.
func conversation(in []messageBody) ([]llm.Message, error) {
	if len(in) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "messages must not be empty")
	}
	if len(in) > maxMessages {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("at most %d messages are accepted", maxMessages))
	}
	out := make([]llm.Message, 0, len(in))
	hasUser := false
	for i, m := range in {
		var role llm.Role
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "user":
			role = llm.RoleUser
			hasUser = true
		case "assistant":
			role = llm.RoleAssistant
		default:
			return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("messages[%d]: unsupported role %q", i, m.Role))
		}
		if strings.TrimSpace(m.Content) == "" {
			return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("messages[%d]: content is empty", i))
		}
		if len(m.Content) > maxMessageLength {
			return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("messages[%d]: content exceeds %d bytes", i, maxMessageLength))
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	if !hasUser {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "conversation has no user message")
	}
	return out, nil
}
