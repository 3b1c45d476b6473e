package crawler

import (
	"net/url"
	"strings"
)

// Normalize strips the fragment from rawURL and leaves everything else
// untouched. Two URLs that differ only by fragment map to the same target.
func Normalize(rawURL string) CrawlTarget {
	before, _, _ := strings.Cut(rawURL, "#")
	return CrawlTarget(before)
}

// IsInScope reports whether rawURL shares scheme, host and port with
// domainRoot. Anything that fails to parse is out of scope.
func IsInScope(rawURL, domainRoot string) bool {
	u, ok := parseAuthority(rawURL)
	if !ok {
		return false
	}
	root, ok := parseAuthority(domainRoot)
	if !ok {
		return false
	}
	return u.Scheme == root.Scheme &&
		strings.EqualFold(u.Hostname(), root.Hostname()) &&
		u.Port() == root.Port()
}

// ResolveLink resolves href against base and normalizes the result.
func ResolveLink(base *url.URL, href string) (CrawlTarget, bool) {
	if base == nil {
		return "", false
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	return Normalize(base.ResolveReference(ref).String()), true
}

// ValidateTarget checks that rawURL is an absolute http(s) URL with a host.
func ValidateTarget(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return invalidInput("parse %q: %v", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalidInput("%q must use http or https", rawURL)
	}
	if u.Host == "" {
		return invalidInput("%q has no host", rawURL)
	}
	return nil
}

func parseAuthority(rawURL string) (*url.URL, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, false
	}
	return u, true
}
