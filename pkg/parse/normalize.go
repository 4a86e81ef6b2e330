package parse

import (
	"net"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL for use as a cache key.
// It lowercases the scheme and host, removes default ports, trims a trailing slash from non-root
// paths and drops the fragment. The query is kept: file hosts identify files by it.
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil {
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" {
		normalized.Path = "/"
	} else if len(normalized.Path) > 1 && strings.HasSuffix(normalized.Path, "/") {
		normalized.Path = normalized.Path[:len(normalized.Path)-1]
	}

	normalized.Fragment = ""
	normalized.RawFragment = ""

	return normalized.String()
}

// CacheKey normalizes a raw link. Links that do not parse as absolute URLs are returned unchanged,
// so distinct raw strings never share a key by accident.
func CacheKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	return NormalizeURL(u)
}
