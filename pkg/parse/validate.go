package parse

import (
	"net/url"
	"strings"
)

// Validator checks seed URLs against the domain allow-list
type Validator struct {
	domains []string
}

// NewValidator creates a Validator. Domains are compared case-insensitively.
func NewValidator(allowedDomains []string) *Validator {
	domains := make([]string, 0, len(allowedDomains))
	for _, d := range allowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			domains = append(domains, d)
		}
	}
	return &Validator{domains: domains}
}

// IsValid reports whether raw parses as an http(s) URL whose host is an allowed domain or one of
// its subdomains. "evilexample.com" does not match "example.com".
func (v *Validator) IsValid(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, d := range v.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// SeedList is the bounded, validated URL list of one ingested file
type SeedList struct {
	URLs       []string // Valid URLs in file order, at most the cap
	TotalValid int      // Valid URLs before the cap
	Dropped    int      // Non-blank, non-comment lines that failed validation
	Truncated  bool
}

// ParseSeedList turns file content into a seed list: one URL per line, trimmed; blank lines and
// lines starting with "#" or "//" are skipped, invalid URLs are dropped silently, and the first
// limit valid URLs are kept in file order. limit <= 0 means no cap.
func ParseSeedList(content string, v *Validator, limit int) SeedList {
	var list SeedList
	var valid []string

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		if !v.IsValid(line) {
			list.Dropped++
			continue
		}
		valid = append(valid, line)
	}

	list.TotalValid = len(valid)
	if limit > 0 && len(valid) > limit {
		valid = valid[:limit]
		list.Truncated = true
	}
	list.URLs = valid
	return list
}
