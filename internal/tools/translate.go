package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/yurei/internal/llm"
)

type translateArgs struct {
	Text string `json:"text"`
	To   string `json:"to"`
}

// Translation is the structured answer of the translation model call.
type Translation struct {
	TranslatedText   string `json:"translatedText"`
	DetectedLanguage string `json:"detectedLanguage"`
}

var translationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"translatedText":   map[string]any{"type": "string"},
		"detectedLanguage": map[string]any{"type": "string"},
	},
	"required":             []string{"translatedText", "detectedLanguage"},
	"additionalProperties": false,
}

// TextTranslate asks the model for a translation. Any model failure is
// returned as is; there is no partial translation to fall back on.
func TextTranslate(client llm.Client) Descriptor {
	return Descriptor{
		Name:        "text_translate",
		Description: "Translate text from one language to another.",
		Schema: toolParams(map[string]any{
			"text": map[string]any{"type": "string", "minLength": 1, "description": "The text to translate."},
			"to":   map[string]any{"type": "string", "minLength": 2, "description": "The language to translate to (e.g., 'fr' for French)."},
		}, []string{"text", "to"}),
		Invoke: func(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
			var args translateArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("decode arguments: %w", err)
			}
			out, err := client.GenerateObject(ctx, llm.ObjectRequest{
				System:      "You translate text from one language to another and report the language you detected.",
				Prompt:      fmt.Sprintf("Translate the following text to %s language: %s", args.To, args.Text),
				SchemaName:  "translation",
				Schema:      translationSchema,
				Temperature: llm.Temperature(0),
			})
			if err != nil {
				return nil, fmt.Errorf("translate: %w", err)
			}
			var t Translation
			if err := json.Unmarshal(out, &t); err != nil {
				return nil, fmt.Errorf("translate: %w", err)
			}
			if strings.TrimSpace(t.TranslatedText) == "" {
				return nil, errors.New("translate: model returned no text")
			}
			return map[string]any{
				"translatedText":   t.TranslatedText,
				"detectedLanguage": t.DetectedLanguage,
			}, nil
		},
	}
}

// Builtin registers every tool the domains may reference.
func Builtin(deps SearchDeps, client llm.Client) (*Registry, error) {
	return New(
		YouTubeSearch(deps),
		RedditSearch(deps),
		LinkedInSearch(deps),
		HackerNewsSearch(deps),
		TextTranslate(client),
	)
}
