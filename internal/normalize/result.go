// Package normalize turns raw upstream payloads into CanonicalResult
// records. Every adapter derives a natural key from the result URL, drops
// records without one, keeps the first occurrence of each key and only then
// applies the optional highlight-score threshold.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mohammad-safakhou/yurei/internal/helpers"
)

// CanonicalResult is one normalized search hit. Fields carries the few
// attributes only one source has (community, score, views, ...); they are
// flattened into the JSON object next to the common keys.
type CanonicalResult struct {
	SourceID    string
	URL         string
	Title       string
	Text        string
	PublishedAt *time.Time
	Highlights  []string
	Fields      map[string]any
}

func (r CanonicalResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+6)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["id"] = r.SourceID
	out["url"] = r.URL
	if r.Title != "" {
		out["title"] = r.Title
	}
	if r.Text != "" {
		out["text"] = r.Text
	}
	if r.PublishedAt != nil {
		out["publishedDate"] = r.PublishedAt.UTC().Format(time.RFC3339)
	}
	if len(r.Highlights) > 0 {
		out["highlights"] = r.Highlights
	}
	return json.Marshal(out)
}

// Options are per-call adapter settings.
type Options struct {
	// MinHighlightScore drops records whose best highlight score is below
	// it. Zero disables the filter; records without scores always pass.
	MinHighlightScore float64
}

func (o Options) keep(score *float64) bool {
	if o.MinHighlightScore <= 0 || score == nil {
		return true
	}
	return *score >= o.MinHighlightScore
}

// candidate is a raw record that produced a natural key.
type candidate[T any] struct {
	key string
	url string
	raw T
}

// keyed canonicalises each record's URL, extracts its natural key and
// removes records without one and later duplicates.
func keyed[T any](items []T, rawURL func(T) string, key func(canonical string) string) []candidate[T] {
	seen := make(map[string]struct{}, len(items))
	out := make([]candidate[T], 0, len(items))
	for _, item := range items {
		raw := strings.TrimSpace(rawURL(item))
		canonical, err := helpers.CanonicalURL(raw)
		if err != nil {
			continue
		}
		k := key(canonical)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, candidate[T]{key: k, url: raw, raw: item})
	}
	return out
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// recoverDetail turns a panicking detail fetch into a degraded item: the
// record is reset to what the search alone provided.
func recoverDetail(log logrus.FieldLogger, res *CanonicalResult, base func() CanonicalResult) {
	if r := recover(); r != nil {
		*res = base()
		log.WithField("panic", fmt.Sprint(r)).Error("detail fetch panicked")
	}
}
