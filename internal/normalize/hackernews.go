package normalize

import (
	"context"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/yurei/internal/helpers"
	"github.com/mohammad-safakhou/yurei/internal/sources/exa"
	"github.com/mohammad-safakhou/yurei/internal/sources/hackernews"
)

var hnItemID = regexp.MustCompile(`news\.ycombinator\.com/item\?id=(\d+)`)

const detailConcurrency = 5

// HNKey extracts the item id from a canonical Hacker News URL.
func HNKey(canonical string) string {
	return helpers.MatchKey(hnItemID, canonical)
}

// HNItemFetcher loads one item's details.
type HNItemFetcher interface {
	Item(ctx context.Context, id string) (*hackernews.Item, error)
}

// HackerNews normalizes Exa hits on news.ycombinator.com and enriches each
// surviving item from the item API. An item whose detail fetch fails keeps
// its id, url and highlights.
func HackerNews(ctx context.Context, items []exa.Result, fetcher HNItemFetcher, opts Options, logger logrus.FieldLogger) []CanonicalResult {
	var kept []candidate[exa.Result]
	for _, c := range keyed(items, exaURL, HNKey) {
		if opts.keep(c.raw.MaxHighlightScore()) {
			kept = append(kept, c)
		}
	}

	out := make([]CanonicalResult, len(kept))
	g := new(errgroup.Group)
	g.SetLimit(detailConcurrency)
	for i, c := range kept {
		i, c := i, c
		base := CanonicalResult{
			SourceID:   c.key,
			URL:        c.url,
			Highlights: nonEmpty(c.raw.Highlights),
		}
		out[i] = base
		g.Go(func() error {
			defer recoverDetail(logger.WithField("item", c.key), &out[i], func() CanonicalResult { return base })
			item, err := fetcher.Item(ctx, c.key)
			if err != nil {
				logger.WithError(err).WithField("item", c.key).Warn("hackernews detail fetch failed")
				return nil
			}
			res := &out[i]
			res.Title = strings.TrimSpace(item.Title)
			res.Text = helpers.HTMLToText(item.Text)
			if published := item.Published(); !published.IsZero() {
				res.PublishedAt = &published
			}
			comments := item.Kids
			if comments == nil {
				comments = []int{}
			}
			res.Fields = map[string]any{
				"author":      item.By,
				"score":       item.Score,
				"descendants": item.Descendants,
				"comments":    comments,
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
