package normalize

import (
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/yurei/internal/helpers"
	"github.com/mohammad-safakhou/yurei/internal/sources/exa"
)

var (
	redditPostID        = regexp.MustCompile(`reddit\.com/r/[^/]+/comments/([^/?#]+)`)
	redditCommunityURL  = regexp.MustCompile(`(?i)reddit\.com/r/([^/?#]+)`)
	redditCommunityText = regexp.MustCompile(`(?i)\br/([a-zA-Z0-9_]+)`)

	linkedInActivity = regexp.MustCompile(`activity[-:](\d+)`)
	linkedInAuthor   = regexp.MustCompile(`linkedin\.com/posts/([^/_?#]+)_`)
)

// RedditKey extracts the post id from a canonical reddit URL.
func RedditKey(canonical string) string {
	return helpers.MatchKey(redditPostID, canonical)
}

// LinkedInKey extracts the activity id from a canonical linkedin URL.
func LinkedInKey(canonical string) string {
	return helpers.MatchKey(linkedInActivity, canonical)
}

func exaURL(r exa.Result) string { return r.URL }

// Reddit normalizes Exa hits restricted to reddit.com.
func Reddit(items []exa.Result, opts Options) []CanonicalResult {
	out := make([]CanonicalResult, 0, len(items))
	for _, c := range keyed(items, exaURL, RedditKey) {
		if !opts.keep(c.raw.MaxHighlightScore()) {
			continue
		}
		text := strings.TrimSpace(c.raw.Text)
		if text == "" {
			text = strings.TrimSpace(c.raw.Title)
		}
		res := CanonicalResult{
			SourceID:    c.key,
			URL:         c.url,
			Title:       strings.TrimSpace(c.raw.Title),
			Text:        text,
			PublishedAt: parseDate(c.raw.PublishedDate),
			Highlights:  nonEmpty(c.raw.Highlights),
		}
		if community := redditCommunity(c.url, c.raw.Text); community != "" {
			res.Fields = map[string]any{"community": community}
		}
		out = append(out, res)
	}
	return out
}

func redditCommunity(rawURL, text string) string {
	if m := helpers.MatchKey(redditCommunityURL, rawURL); m != "" {
		return m
	}
	return helpers.MatchKey(redditCommunityText, text)
}

// LinkedIn normalizes Exa hits restricted to linkedin.com.
func LinkedIn(items []exa.Result, opts Options) []CanonicalResult {
	out := make([]CanonicalResult, 0, len(items))
	for _, c := range keyed(items, exaURL, LinkedInKey) {
		if !opts.keep(c.raw.MaxHighlightScore()) {
			continue
		}
		res := CanonicalResult{
			SourceID:    c.key,
			URL:         c.url,
			Title:       strings.TrimSpace(c.raw.Title),
			Text:        strings.TrimSpace(c.raw.Text),
			PublishedAt: parseDate(c.raw.PublishedDate),
			Highlights:  nonEmpty(c.raw.Highlights),
		}
		author := strings.TrimSpace(c.raw.Author)
		if author == "" {
			author = helpers.MatchKey(linkedInAuthor, c.url)
		}
		if author != "" {
			res.Fields = map[string]any{"author": author}
		}
		out = append(out, res)
	}
	return out
}
