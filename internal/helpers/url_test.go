package helpers

import (
	"regexp"
	"testing"
)

func TestCanonicalURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "keeps the hacker news item query",
			in:   "https://news.ycombinator.com/item?id=4242&utm_source=exa#comments",
			want: "https://news.ycombinator.com/item?id=4242",
		},
		{
			name: "drops www and default port",
			in:   "HTTPS://www.Reddit.com:443/r/golang/comments/abc123/title/",
			want: "https://reddit.com/r/golang/comments/abc123/title/",
		},
		{
			name: "old reddit collapses onto the same spelling",
			in:   "https://old.reddit.com/r/golang/comments/abc123/title/",
			want: "https://reddit.com/r/golang/comments/abc123/title/",
		},
		{
			name: "schemeless with tracking params",
			in:   "linkedin.com/posts/jane-doe_go-activity-7101-xyz?trk=public&utm_medium=x",
			want: "https://linkedin.com/posts/jane-doe_go-activity-7101-xyz",
		},
		{
			name: "sorts query and cleans path",
			in:   "https://youtube.com/a/../watch?v=abc&list=PL1&si=share",
			want: "https://youtube.com/watch?list=PL1&v=abc",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := CanonicalURL(tt.in)
			if err != nil {
				t.Fatalf("CanonicalURL() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("CanonicalURL() got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCanonicalURLErrors(t *testing.T) {
	t.Parallel()
	if _, err := CanonicalURL("   "); err == nil {
		t.Fatalf("expected error for empty input")
	}
	if _, err := CanonicalURL(":///invalid"); err == nil {
		t.Fatalf("expected error for malformed url")
	}
}

func TestMatchKey(t *testing.T) {
	re := regexp.MustCompile(`item\?id=(\d+)`)
	if got := MatchKey(re, "https://news.ycombinator.com/item?id=77"); got != "77" {
		t.Fatalf("expected 77, got %q", got)
	}
	if got := MatchKey(re, "https://news.ycombinator.com/newest"); got != "" {
		t.Fatalf("expected no key, got %q", got)
	}
}
