package transport

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Link is one parsed RFC 8288 Link header entry, with Target already
// resolved against the request URL (ACME servers often emit relative Link
// targets).
type Link struct {
	Target string
	Rel    string
}

// ParseLinks parses every Link header value, resolving each target URI
// against base.
func ParseLinks(resp *http.Response, base *url.URL) []Link {
	var links []Link
	for _, header := range resp.Header.Values("Link") {
		for _, part := range splitLinkHeader(header) {
			link, ok := parseLinkPart(part, base)
			if ok {
				links = append(links, link)
			}
		}
	}
	return links
}

// LinksWithRel filters ParseLinks's output to a specific relation.
func LinksWithRel(resp *http.Response, base *url.URL, rel string) []string {
	var out []string
	for _, l := range ParseLinks(resp, base) {
		if l.Rel == rel {
			out = append(out, l.Target)
		}
	}
	return out
}

// splitLinkHeader splits a Link header's comma-separated list of
// "<uri>; params" entries, being careful not to split on commas that occur
// inside a quoted parameter value.
func splitLinkHeader(header string) []string {
	var parts []string
	depth := 0
	inQuotes := false
	start := 0
	for i, r := range header {
		switch r {
		case '"':
			inQuotes = !inQuotes
		case '<':
			if !inQuotes {
				depth++
			}
		case '>':
			if !inQuotes && depth > 0 {
				depth--
			}
		case ',':
			if !inQuotes && depth == 0 {
				parts = append(parts, header[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, header[start:])
	return parts
}

func parseLinkPart(part string, base *url.URL) (Link, bool) {
	part = strings.TrimSpace(part)
	if !strings.HasPrefix(part, "<") {
		return Link{}, false
	}
	end := strings.Index(part, ">")
	if end < 0 {
		return Link{}, false
	}
	target := part[1:end]
	if base != nil {
		if u, err := url.Parse(target); err == nil {
			target = base.ResolveReference(u).String()
		}
	}

	rel := ""
	for _, param := range strings.Split(part[end+1:], ";") {
		param = strings.TrimSpace(param)
		if rest, ok := strings.CutPrefix(param, "rel="); ok {
			rel = strings.Trim(rest, `"`)
		}
	}
	if rel == "" {
		return Link{}, false
	}
	return Link{Target: target, Rel: rel}, true
}

// ParseRetryAfter parses a Retry-After header, which per RFC 7231 is either
// an integer number of delta-seconds or an HTTP-date. Delta-seconds are
// resolved relative to "now" (the caller should pass the server's Date
// header value, falling back to the local clock, so polling math stays
// correct even under clock skew).
func ParseRetryAfter(value string, now time.Time) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return now.Add(time.Duration(secs) * time.Second), true
	}
	if t, err := http.ParseTime(value); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// ResponseDate parses a response's Date header, falling back to the
// provided default when absent or malformed.
func ResponseDate(resp *http.Response, fallback time.Time) time.Time {
	if raw := resp.Header.Get("Date"); raw != "" {
		if t, err := http.ParseTime(raw); err == nil {
			return t
		}
	}
	return fallback
}
