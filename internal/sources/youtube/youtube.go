// Package youtube wraps the YouTube Data API v3 calls used by video search:
// search.list, videos.list and captions.list.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/mohammad-safakhou/yurei/internal/sources"
)

var ErrVideoNotFound = errors.New("youtube: video not found")

// Hit is one search.list item.
type Hit struct {
	VideoID      string
	Title        string
	ChannelTitle string
}

// Video is the subset of videos.list we surface.
type Video struct {
	ID           string
	Title        string
	ChannelTitle string
	ChannelID    string
	Description  string
	PublishedAt  time.Time
	ThumbnailURL string
	Views        uint64
	Likes        uint64
	Duration     string
	HasStats     bool
}

type Client struct {
	svc     *yt.Service
	breaker *sources.Breaker
}

type Options struct {
	APIKey   string
	Endpoint string // tests only
	Timeout  time.Duration
	Breaker  *sources.Breaker
}

func New(ctx context.Context, opts Options) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: &transport.APIKey{Key: opts.APIKey, Transport: http.DefaultTransport},
	}
	clientOpts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(strings.TrimRight(opts.Endpoint, "/")+"/"))
	}
	svc, err := yt.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("youtube: create service: %w", err)
	}
	return &Client{svc: svc, breaker: opts.Breaker}, nil
}

func (c *Client) run(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	return c.breaker.Run(fn)
}

// Search lists up to max videos for query.
func (c *Client) Search(ctx context.Context, query string, max int64) ([]Hit, error) {
	var resp *yt.SearchListResponse
	err := c.run(func() error {
		var err error
		resp, err = c.svc.Search.List([]string{"id", "snippet"}).
			Q(query).
			MaxResults(max).
			Type("video").
			Context(ctx).
			Do()
		return classify(err)
	})
	if err != nil {
		return nil, fmt.Errorf("youtube: search: %w", err)
	}
	hits := make([]Hit, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item == nil || item.Id == nil {
			continue
		}
		hit := Hit{VideoID: item.Id.VideoId}
		if item.Snippet != nil {
			hit.Title = item.Snippet.Title
			hit.ChannelTitle = item.Snippet.ChannelTitle
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Video fetches snippet, statistics and content details for one id.
func (c *Client) Video(ctx context.Context, id string) (*Video, error) {
	var resp *yt.VideoListResponse
	err := c.run(func() error {
		var err error
		resp, err = c.svc.Videos.List([]string{"snippet", "statistics", "contentDetails"}).
			Id(id).
			Context(ctx).
			Do()
		return classify(err)
	})
	if err != nil {
		return nil, fmt.Errorf("youtube: video %s: %w", id, err)
	}
	if len(resp.Items) == 0 || resp.Items[0] == nil {
		return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, id)
	}
	v := resp.Items[0]
	out := &Video{ID: v.Id}
	if s := v.Snippet; s != nil {
		out.Title = s.Title
		out.ChannelTitle = s.ChannelTitle
		out.ChannelID = s.ChannelId
		out.Description = s.Description
		if t, err := time.Parse(time.RFC3339, s.PublishedAt); err == nil {
			out.PublishedAt = t
		}
		out.ThumbnailURL = bestThumbnail(s.Thumbnails)
	}
	if st := v.Statistics; st != nil {
		out.HasStats = true
		out.Views = st.ViewCount
		out.Likes = st.LikeCount
	}
	if cd := v.ContentDetails; cd != nil {
		out.Duration = cd.Duration
	}
	return out, nil
}

// CaptionLanguage reports the language of the preferred caption track
// (English when present, otherwise the first). Empty means no captions.
func (c *Client) CaptionLanguage(ctx context.Context, videoID string) (string, error) {
	var resp *yt.CaptionListResponse
	err := c.run(func() error {
		var err error
		resp, err = c.svc.Captions.List([]string{"snippet"}, videoID).Context(ctx).Do()
		return classify(err)
	})
	if err != nil {
		return "", fmt.Errorf("youtube: captions %s: %w", videoID, err)
	}
	var first string
	for _, item := range resp.Items {
		if item == nil || item.Snippet == nil {
			continue
		}
		lang := item.Snippet.Language
		if lang == "en" {
			return lang, nil
		}
		if first == "" {
			first = lang
			if first == "" {
				first = "unknown language"
			}
		}
	}
	return first, nil
}

func bestThumbnail(t *yt.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*yt.Thumbnail{t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}

// classify maps googleapi errors onto sources.StatusError so the breaker
// can tell quota problems from outages.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &sources.StatusError{Upstream: "youtube", StatusCode: gerr.Code, Body: gerr.Message}
	}
	return err
}
