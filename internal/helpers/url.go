package helpers

import (
	"errors"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
)

var trackingQueryParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"utm_id":       {},
	"gclid":        {},
	"fbclid":       {},
	"igshid":       {},
	"si":           {},
	"feature":      {},
	"ref":          {},
	"ref_src":      {},
	"trk":          {},
	"rcm":          {},
}

// CanonicalURL normalises a result URL so that the natural-key patterns can
// be matched against a single spelling. It lowercases scheme and host, drops
// a leading "www." and "old."/"m." mobile prefixes, removes default ports,
// fragments and tracking parameters, cleans the path and sorts the remaining
// query. A missing scheme defaults to https.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}
	parsed, err := parseLenient(raw)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", errors.New("url missing host")
	}
	for _, prefix := range []string{"www.", "old.", "m."} {
		host = strings.TrimPrefix(host, prefix)
	}
	if port := parsed.Port(); port != "" {
		if !(parsed.Scheme == "http" && port == "80") && !(parsed.Scheme == "https" && port == "443") {
			host += ":" + port
		}
	}
	parsed.Host = host
	parsed.User = nil

	p := path.Clean("/" + parsed.Path)
	if p != "/" && strings.HasSuffix(parsed.Path, "/") {
		p += "/"
	}
	parsed.Path = p
	parsed.RawPath = ""
	parsed.Fragment = ""

	query := parsed.Query()
	for key := range query {
		if _, drop := trackingQueryParams[strings.ToLower(key)]; drop {
			query.Del(key)
		}
	}
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, key := range keys {
		values := append([]string(nil), query[key]...)
		sort.Strings(values)
		for _, value := range values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			if value != "" {
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(value))
			}
		}
	}
	parsed.RawQuery = b.String()
	return parsed.String(), nil
}

// MatchKey returns the first capture group of re in s, or "" when re does
// not match or the group is empty.
func MatchKey(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func parseLenient(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" && parsed.Host == "" {
		if strings.HasPrefix(raw, "//") {
			return url.Parse("https:" + raw)
		}
		return url.Parse("https://" + raw)
	}
	return parsed, nil
}
