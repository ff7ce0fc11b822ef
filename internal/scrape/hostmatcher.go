package scrape

import (
	"net/url"
	"path"
	"strings"
)

// HostMatcher matches target URLs by glob-style host patterns
// (e.g. "linkedin.com", "*.indeed.com").
type HostMatcher struct {
	patterns []string
}

// NewHostMatcher creates a HostMatcher. With no patterns every http(s) URL
// matches.
func NewHostMatcher(patterns []string) *HostMatcher {
	clean := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			clean = append(clean, p)
		}
	}
	return &HostMatcher{patterns: clean}
}

// Patterns returns the configured patterns.
func (m *HostMatcher) Patterns() []string {
	return m.patterns
}

// Matches reports whether rawURL is an http(s) URL whose host matches.
func (m *HostMatcher) Matches(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	if len(m.patterns) == 0 {
		return true
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, p := range m.patterns {
		if matchHost(p, host) {
			return true
		}
	}
	return false
}

// matchHost matches host against pattern. A bare domain pattern also
// matches its subdomains, so "indeed.com" matches "uk.indeed.com".
func matchHost(pattern, host string) bool {
	if ok, _ := path.Match(pattern, host); ok {
		return true
	}
	if !strings.ContainsAny(pattern, "*?[") {
		return strings.HasSuffix(host, "."+pattern)
	}
	return false
}
