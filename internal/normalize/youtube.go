package normalize

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/yurei/internal/helpers"
	"github.com/mohammad-safakhou/yurei/internal/sources/youtube"
)

var youtubeVideoID = regexp.MustCompile(`youtube\.com/watch\?(?:.*&)?v=([A-Za-z0-9_-]+)`)

// YouTubeKey extracts the video id from a canonical watch URL.
func YouTubeKey(canonical string) string {
	return helpers.MatchKey(youtubeVideoID, canonical)
}

// VideoFetcher loads per-video details and caption availability.
type VideoFetcher interface {
	Video(ctx context.Context, id string) (*youtube.Video, error)
	CaptionLanguage(ctx context.Context, videoID string) (string, error)
}

func watchURL(h youtube.Hit) string {
	if h.VideoID == "" {
		return ""
	}
	return "https://www.youtube.com/watch?v=" + h.VideoID
}

// YouTube normalizes search hits and fetches details for each video. A
// failed detail fetch leaves the record with its id, url and the search
// title; a failed caption lookup only omits the caption note.
func YouTube(ctx context.Context, hits []youtube.Hit, fetcher VideoFetcher, logger logrus.FieldLogger) []CanonicalResult {
	kept := keyed(hits, watchURL, YouTubeKey)
	out := make([]CanonicalResult, len(kept))
	g := new(errgroup.Group)
	g.SetLimit(detailConcurrency)
	for i, c := range kept {
		i, c := i, c
		base := func() CanonicalResult {
			return CanonicalResult{
				SourceID: c.key,
				URL:      c.url,
				Title:    strings.TrimSpace(c.raw.Title),
				Fields:   map[string]any{"videoId": c.key},
			}
		}
		out[i] = base()
		g.Go(func() error {
			log := logger.WithField("video", c.key)
			defer recoverDetail(log, &out[i], base)
			video, err := fetcher.Video(ctx, c.key)
			if err != nil {
				log.WithError(err).Warn("youtube detail fetch failed")
				return nil
			}
			res := &out[i]
			applyVideo(res, video)

			lang, err := fetcher.CaptionLanguage(ctx, c.key)
			if err != nil {
				log.WithError(err).Debug("youtube caption lookup failed")
			} else if lang != "" {
				res.Fields["captions"] = fmt.Sprintf("Video has captions available in %s", lang)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func applyVideo(res *CanonicalResult, v *youtube.Video) {
	if v.Title != "" {
		res.Title = v.Title
	}
	res.Text = strings.TrimSpace(v.Description)
	if !v.PublishedAt.IsZero() {
		published := v.PublishedAt.UTC()
		res.PublishedAt = &published
	}
	details := map[string]any{
		"title":         v.Title,
		"author_name":   v.ChannelTitle,
		"thumbnail_url": v.ThumbnailURL,
		"type":          "video",
		"provider_name": "YouTube",
		"provider_url":  "https://www.youtube.com",
	}
	if v.ChannelID != "" {
		details["author_url"] = "https://www.youtube.com/channel/" + v.ChannelID
	}
	res.Fields["details"] = details
	if v.HasStats {
		res.Fields["views"] = v.Views
		res.Fields["likes"] = v.Likes
	}
	if v.Duration != "" {
		res.Fields["duration"] = v.Duration
	}
	if stamps := Timestamps(v.Description); len(stamps) > 0 {
		res.Fields["timestamps"] = stamps
	}
}

var (
	timeCode      = regexp.MustCompile(`\d{1,2}:(?:\d{1,2}:)?\d{2}`)
	chapterPrefix = regexp.MustCompile(`^[ \t]*[-–—:][ \t]*`)
)

// Timestamps pulls chapter markers out of a video description. The first
// pass looks for "time - label" pairs where the label runs to the end of
// the line or the next time code and is 3 to 50 characters long. Only when
// that finds nothing are bare time codes returned.
func Timestamps(description string) []string {
	if description == "" {
		return nil
	}
	locs := timeCode.FindAllStringIndex(description, -1)
	if len(locs) == 0 {
		return nil
	}
	var chapters []string
	for i, loc := range locs {
		end := len(description)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		rest := description[loc[1]:end]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[:nl]
		}
		sep := chapterPrefix.FindStringIndex(rest)
		if sep == nil {
			continue
		}
		label := rest[sep[1]:]
		if n := utf8.RuneCountInString(label); n < 3 || n > 50 {
			continue
		}
		chapters = append(chapters, description[loc[0]:loc[1]]+" - "+strings.TrimSpace(label))
	}
	if len(chapters) > 0 {
		return chapters
	}
	bare := make([]string, 0, len(locs))
	for _, loc := range locs {
		bare = append(bare, description[loc[0]:loc[1]])
	}
	return bare
}
