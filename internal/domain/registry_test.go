package domain

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func builtin(t *testing.T) *Registry {
	t.Helper()
	r, err := Builtin()
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	return r
}

func TestResolveKnownDomains(t *testing.T) {
	r := builtin(t)
	cases := map[string]string{
		"youtube":    "youtube_search",
		"reddit":     "reddit_search",
		"linkedin":   "linkedin_search",
		"hackernews": "hackernews_search",
		" YouTube ":  "youtube_search",
	}
	for id, primary := range cases {
		cfg := r.Resolve(id)
		if cfg.PrimaryTool() != primary {
			t.Fatalf("%q: expected primary %s, got %s", id, primary, cfg.PrimaryTool())
		}
		if cfg.ToolInstructions == "" || cfg.AnswerGuidelines == "" {
			t.Fatalf("%q: prompts missing", id)
		}
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	r := builtin(t)
	for _, id := range []string{"", "x", "myspace"} {
		cfg := r.Resolve(id)
		if cfg.ID != r.DefaultID() {
			t.Fatalf("%q resolved to %q, want default %q", id, cfg.ID, r.DefaultID())
		}
		if len(cfg.AllowedTools) == 0 {
			t.Fatalf("default domain must carry tools")
		}
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	r := builtin(t)
	first := r.Resolve("reddit")
	first.AllowedTools[0] = "mutated"
	second := r.Resolve("reddit")
	third := r.Resolve("reddit")
	if !reflect.DeepEqual(second, third) {
		t.Fatalf("resolve returned different values")
	}
	if second.AllowedTools[0] != "reddit_search" {
		t.Fatalf("caller mutation leaked into the registry")
	}
}

func TestPromptsRenderDate(t *testing.T) {
	r := builtin(t)
	cfg := r.Resolve("hackernews")
	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	got := cfg.ToolPrompt(day)
	if strings.Contains(got, todayPlaceholder) || !strings.Contains(got, "Mon, Oct 19, 2026") {
		t.Fatalf("date not rendered: %q", got)
	}
	if !strings.Contains(cfg.AnswerPrompt(day), "Oct 19, 2026") {
		t.Fatalf("answer prompt date not rendered")
	}
}

func TestLoadRejectsBadTables(t *testing.T) {
	bad := []string{
		"default: a\ndomains: []\n",
		"default: a\ndomains:\n  - id: a\n    tools: []\n",
		"default: b\ndomains:\n  - id: a\n    tools: [t]\n",
		"default: a\ndomains:\n  - id: a\n    tools: [t, t]\n",
		"default: a\ndomains:\n  - id: a\n    tools: [t]\n  - id: a\n    tools: [u]\n",
	}
	for _, doc := range bad {
		if _, err := Load([]byte(doc)); err == nil {
			t.Fatalf("expected error for table:\n%s", doc)
		}
	}
}

func TestToolNamesUnion(t *testing.T) {
	r := builtin(t)
	names := r.ToolNames()
	want := []string{"youtube_search", "text_translate", "reddit_search", "linkedin_search", "hackernews_search"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("unexpected tool names %v", names)
	}
}
