// Package hackernews reads items from the Hacker News firebase API.
package hackernews

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohammad-safakhou/yurei/internal/sources"
)

const defaultBaseURL = "https://hacker-news.firebaseio.com/v0"

var ErrNotFound = errors.New("hackernews: item not found")

type Item struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	URL         string `json:"url"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	Kids        []int  `json:"kids"`
	Dead        bool   `json:"dead"`
	Deleted     bool   `json:"deleted"`
}

// Published converts the unix timestamp, zero when absent.
func (i Item) Published() time.Time {
	if i.Time == 0 {
		return time.Time{}
	}
	return time.Unix(i.Time, 0).UTC()
}

type Client struct {
	http    *sources.Client
	baseURL string
}

func New(httpClient *sources.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

// Item fetches /item/{id}.json. The API answers "null" for unknown ids.
func (c *Client) Item(ctx context.Context, id string) (*Item, error) {
	var item *Item
	endpoint := fmt.Sprintf("%s/item/%s.json", c.baseURL, url.PathEscape(id))
	if err := c.http.DoJSON(ctx, http.MethodGet, endpoint, nil, nil, &item); err != nil {
		return nil, err
	}
	if item == nil || item.Deleted {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return item, nil
}
