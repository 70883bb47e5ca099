package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/yurei/internal/llm"
)

const suggestionCount = 3

const suggestSystemPrompt = `You generate follow-up search questions. Produce exactly 3 questions based on the message history provided.
The questions should be open-ended, encourage further discussion and keep the whole context. Use 5 to 10 words per question.
Carry the context of the user's input into each question so the next search knows exactly what to look for.
Stay on the topic of the conversation and avoid questions that are too general or too specific.
Do not use pronouns such as he, she, him, his or her; always use the proper nouns from the context.`

var suggestSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"questions": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"minItems":    suggestionCount,
			"maxItems":    suggestionCount,
			"description": "The generated questions based on the message history.",
		},
	},
	"required":             []string{"questions"},
	"additionalProperties": false,
}

type suggestBody struct {
	Messages []messageBody `json:"messages"`
}

type suggestResponse struct {
	Questions []string `json:"questions"`
}

func (s *Server) suggestQuestions(c echo.Context) error {
	var body suggestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	msgs, err := conversation(body.Messages)
	if err != nil {
		return err
	}
	raw, err := s.deps.LLM.GenerateObject(c.Request().Context(), llm.ObjectRequest{
		System:      suggestSystemPrompt,
		Messages:    msgs,
		SchemaName:  "questions",
		Schema:      suggestSchema,
		Temperature: llm.Temperature(0),
		MaxTokens:   300,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "could not generate questions").SetInternal(err)
	}
	questions, err := parseQuestions(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "could not generate questions").SetInternal(err)
	}
	return c.JSON(http.StatusOK, suggestResponse{Questions: questions})
}

// parseQuestions keeps the first three non-blank questions and fails when
// the model returned fewer.
func parseQuestions(raw json.RawMessage) ([]string, error) {
	var out suggestResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	questions := make([]string, 0, suggestionCount)
	for _, q := range out.Questions {
		if q = strings.TrimSpace(q); q != "" {
			questions = append(questions, q)
		}
		if len(questions) == suggestionCount {
			return questions, nil
		}
	}
	return nil, errors.New("model returned fewer than 3 questions")
}
