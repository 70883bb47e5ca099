// Package domain resolves a content domain to the tools and prompts used for
// a search turn. The table is static and embedded at build time.
package domain

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed domains.yaml
var domainsYAML []byte

const todayPlaceholder = "{{today}}"

// Config is the immutable description of one domain.
type Config struct {
	ID               string   `yaml:"id" json:"id"`
	Name             string   `yaml:"name" json:"name"`
	Description      string   `yaml:"description" json:"description"`
	AllowedTools     []string `yaml:"tools" json:"tools"`
	ToolInstructions string   `yaml:"tool_instructions" json:"-"`
	AnswerGuidelines string   `yaml:"answer_guidelines" json:"-"`
}

// PrimaryTool is the first whitelisted tool.
func (c Config) PrimaryTool() string {
	if len(c.AllowedTools) == 0 {
		return ""
	}
	return c.AllowedTools[0]
}

// Allows reports whether name is in the whitelist.
func (c Config) Allows(name string) bool {
	for _, t := range c.AllowedTools {
		if t == name {
			return true
		}
	}
	return false
}

// ToolPrompt renders the phase-1 system prompt for the given day.
func (c Config) ToolPrompt(now time.Time) string {
	return renderDate(c.ToolInstructions, now)
}

// AnswerPrompt renders the phase-2 system prompt for the given day.
func (c Config) AnswerPrompt(now time.Time) string {
	return renderDate(c.AnswerGuidelines, now)
}

func renderDate(tmpl string, now time.Time) string {
	return strings.ReplaceAll(tmpl, todayPlaceholder, now.Format("Mon, Jan 02, 2006"))
}

func (c Config) clone() Config {
	out := c
	out.AllowedTools = append([]string(nil), c.AllowedTools...)
	return out
}

// Registry is a read-only lookup table keyed by domain id.
type Registry struct {
	byID      map[string]Config
	order     []string
	defaultID string
}

type table struct {
	Default string   `yaml:"default"`
	Domains []Config `yaml:"domains"`
}

// Load parses and validates a domain table.
func Load(data []byte) (*Registry, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse domain table: %w", err)
	}
	if len(t.Domains) == 0 {
		return nil, errors.New("domain table is empty")
	}
	r := &Registry{byID: make(map[string]Config, len(t.Domains)), defaultID: t.Default}
	for _, d := range t.Domains {
		d.ID = strings.TrimSpace(d.ID)
		if d.ID == "" {
			return nil, errors.New("domain without id")
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate domain %q", d.ID)
		}
		if len(d.AllowedTools) == 0 {
			return nil, fmt.Errorf("domain %q has no tools", d.ID)
		}
		seen := make(map[string]struct{}, len(d.AllowedTools))
		for _, name := range d.AllowedTools {
			if _, dup := seen[name]; dup {
				return nil, fmt.Errorf("domain %q lists tool %q twice", d.ID, name)
			}
			seen[name] = struct{}{}
		}
		r.byID[d.ID] = d
		r.order = append(r.order, d.ID)
	}
	if _, ok := r.byID[r.defaultID]; !ok {
		return nil, fmt.Errorf("default domain %q is not defined", r.defaultID)
	}
	return r, nil
}

// Builtin returns the registry compiled into the binary.
func Builtin() (*Registry, error) {
	return Load(domainsYAML)
}

// Resolve returns the config for id, or the default domain when id is empty
// or unknown. It never fails.
func (r *Registry) Resolve(id string) Config {
	if d, ok := r.byID[strings.ToLower(strings.TrimSpace(id))]; ok {
		return d.clone()
	}
	return r.byID[r.defaultID].clone()
}

// DefaultID is the fallback domain id.
func (r *Registry) DefaultID() string { return r.defaultID }

// List returns every domain in table order.
func (r *Registry) List() []Config {
	out := make([]Config, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].clone())
	}
	return out
}

// ToolNames returns the union of every whitelisted tool, in first-seen order.
func (r *Registry) ToolNames() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, id := range r.order {
		for _, name := range r.byID[id].AllowedTools {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}
