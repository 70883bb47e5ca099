package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mohammad-safakhou/yurei/internal/logging"
	"github.com/mohammad-safakhou/yurei/internal/normalize"
	"github.com/mohammad-safakhou/yurei/internal/sources/exa"
	"github.com/mohammad-safakhou/yurei/internal/sources/youtube"
)

// ExaSearcher is the keyword/neural search capability.
type ExaSearcher interface {
	Search(ctx context.Context, req exa.SearchRequest) ([]exa.Result, error)
}

// VideoSource searches videos and fetches their details.
type VideoSource interface {
	Search(ctx context.Context, query string, max int64) ([]youtube.Hit, error)
	normalize.VideoFetcher
}

// SearchDeps wires the upstream clients into the search tools.
type SearchDeps struct {
	Exa        ExaSearcher
	YouTube    VideoSource
	HackerNews normalize.HNItemFetcher
	Logger     logrus.FieldLogger

	RedditResults     int
	HackerNewsResults int
	LinkedInResults   int
	YouTubeResults    int64
	MinHighlightScore float64
}

type searchArgs struct {
	Query     string `json:"query"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

func dateRangeSchema(queryHint string) map[string]any {
	return toolParams(map[string]any{
		"query":     map[string]any{"type": "string", "minLength": 1, "description": queryHint},
		"startDate": map[string]any{"type": "string", "format": "date", "description": "The start date in YYYY-MM-DD format"},
		"endDate":   map[string]any{"type": "string", "format": "date", "description": "The end date in YYYY-MM-DD format"},
	}, []string{"query"})
}

func toolParams(properties map[string]any, required []string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

func emptyResults() map[string]any {
	return map[string]any{"results": []normalize.CanonicalResult{}}
}

func decodeArgs(raw json.RawMessage) (searchArgs, error) {
	var args searchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, fmt.Errorf("decode arguments: %w", err)
	}
	return args, nil
}

func timeRange(args searchArgs) string {
	if args.StartDate != "" && args.EndDate != "" {
		return fmt.Sprintf("from %s to %s", args.StartDate, args.EndDate)
	}
	return "anytime"
}

func (d SearchDeps) logger() logrus.FieldLogger {
	if d.Logger == nil {
		return logging.Discard()
	}
	return d.Logger
}

func (d SearchDeps) options() normalize.Options {
	return normalize.Options{MinHighlightScore: d.MinHighlightScore}
}

// RedditSearch searches reddit.com through Exa. Dates are echoed back in
// timeRange but not sent upstream: Exa's published dates for reddit are
// unreliable enough to hide relevant threads.
func RedditSearch(d SearchDeps) Descriptor {
	return Descriptor{
		Name:           "reddit_search",
		Description:    "Search Reddit posts.",
		Schema:         dateRangeSchema("The search query, use u/username for usernames"),
		FailureMessage: "Failed to fetch Reddit results. Please try again later.",
		EmptyPayload:   emptyResults,
		Invoke: func(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
			args, err := decodeArgs(raw)
			if err != nil {
				return nil, err
			}
			hits, err := d.Exa.Search(ctx, exa.SearchRequest{
				Query:          args.Query,
				NumResults:     d.RedditResults,
				IncludeDomains: []string{"reddit.com"},
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"query":     args.Query,
				"results":   normalize.Reddit(hits, d.options()),
				"timeRange": timeRange(args),
			}, nil
		},
	}
}

func LinkedInSearch(d SearchDeps) Descriptor {
	return Descriptor{
		Name:           "linkedin_search",
		Description:    "Search LinkedIn posts.",
		Schema:         dateRangeSchema("The search query, find posts discussing this"),
		FailureMessage: "Failed to fetch LinkedIn results. Please try again later.",
		EmptyPayload:   emptyResults,
		Invoke: func(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
			args, err := decodeArgs(raw)
			if err != nil {
				return nil, err
			}
			hits, err := d.Exa.Search(ctx, exa.SearchRequest{
				Query:              args.Query,
				NumResults:         d.LinkedInResults,
				IncludeDomains:     []string{"linkedin.com"},
				StartPublishedDate: args.StartDate,
				EndPublishedDate:   args.EndDate,
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"query":     args.Query,
				"results":   normalize.LinkedIn(hits, d.options()),
				"timeRange": timeRange(args),
			}, nil
		},
	}
}

func HackerNewsSearch(d SearchDeps) Descriptor {
	return Descriptor{
		Name:           "hackernews_search",
		Description:    "Search HackerNews posts.",
		Schema:         dateRangeSchema("The search query, find similar things to this"),
		FailureMessage: "Failed to fetch Hacker News results. Please try again later.",
		EmptyPayload:   emptyResults,
		Invoke: func(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
			args, err := decodeArgs(raw)
			if err != nil {
				return nil, err
			}
			hits, err := d.Exa.Search(ctx, exa.SearchRequest{
				Query:              args.Query,
				NumResults:         d.HackerNewsResults,
				IncludeDomains:     []string{"news.ycombinator.com"},
				StartPublishedDate: args.StartDate,
				EndPublishedDate:   args.EndDate,
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"results": normalize.HackerNews(ctx, hits, d.HackerNews, d.options(), d.logger()),
			}, nil
		},
	}
}

func YouTubeSearch(d SearchDeps) Descriptor {
	return Descriptor{
		Name:        "youtube_search",
		Description: "Search YouTube videos using YouTube Data API v3 and get detailed video information.",
		Schema: toolParams(map[string]any{
			"query": map[string]any{"type": "string", "minLength": 1, "description": "The search query for YouTube videos"},
		}, []string{"query"}),
		FailureMessage: "Failed to fetch YouTube results. Please try again later.",
		EmptyPayload:   emptyResults,
		Invoke: func(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
			args, err := decodeArgs(raw)
			if err != nil {
				return nil, err
			}
			hits, err := d.YouTube.Search(ctx, args.Query, d.YouTubeResults)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"results": normalize.YouTube(ctx, hits, d.YouTube, d.logger()),
			}, nil
		},
	}
}
