// Package exa is a client for the Exa keyword/neural search API.
package exa

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mohammad-safakhou/yurei/internal/sources"
)

const defaultBaseURL = "https://api.exa.ai"

type Client struct {
	http    *sources.Client
	apiKey  string
	baseURL string
}

func New(httpClient *sources.Client, apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{http: httpClient, apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/")}
}

// SearchRequest mirrors the /search body. Dates are YYYY-MM-DD or full
// ISO timestamps.
type SearchRequest struct {
	Query              string   `json:"query"`
	Type               string   `json:"type,omitempty"`
	NumResults         int      `json:"numResults,omitempty"`
	IncludeDomains     []string `json:"includeDomains,omitempty"`
	StartPublishedDate string   `json:"startPublishedDate,omitempty"`
	EndPublishedDate   string   `json:"endPublishedDate,omitempty"`
	SortBy             string   `json:"sortBy,omitempty"`
	SortOrder          string   `json:"sortOrder,omitempty"`
	Contents           Contents `json:"contents"`
}

type Contents struct {
	Text       bool `json:"text"`
	Highlights bool `json:"highlights"`
}

// Result is one raw hit. Every field except URL may be missing.
type Result struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	PublishedDate   string    `json:"publishedDate"`
	Text            string    `json:"text"`
	Highlights      []string  `json:"highlights"`
	HighlightScores []float64 `json:"highlightScores"`
	Score           *float64  `json:"score"`
}

type SearchResponse struct {
	RequestID string   `json:"requestId"`
	Results   []Result `json:"results"`
}

// Search runs req with text and highlight contents, newest first.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.New("exa: empty query")
	}
	if req.Type == "" {
		req.Type = "auto"
	}
	if req.SortBy == "" {
		req.SortBy, req.SortOrder = "date", "desc"
	}
	req.Contents = Contents{Text: true, Highlights: true}

	var resp SearchResponse
	headers := map[string]string{"x-api-key": c.apiKey}
	if err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/search", headers, req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// MaxHighlightScore is the best score among a result's highlights, or nil
// when upstream sent none.
func (r Result) MaxHighlightScore() *float64 {
	if len(r.HighlightScores) == 0 {
		return nil
	}
	best := r.HighlightScores[0]
	for _, s := range r.HighlightScores[1:] {
		if s > best {
			best = s
		}
	}
	return &best
}
