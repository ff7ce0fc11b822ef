package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostMatcher_Matches(t *testing.T) {
	m := NewHostMatcher([]string{"linkedin.com", "*.indeed.com", " "})
	assert.Equal(t, []string{"linkedin.com", "*.indeed.com"}, m.Patterns())

	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.linkedin.com/jobs/search?keywords=go", true},
		{"https://uk.linkedin.com/jobs", true},
		{"https://uk.indeed.com/q-go-jobs.html", true},
		{"https://indeed.com/jobs", false},
		{"https://example.com/jobs", false},
		{"ftp://linkedin.com/jobs", false},
		{"not a url", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Matches(tt.url))
		})
	}
}

func TestHostMatcher_EmptyMatchesAnyHTTP(t *testing.T) {
	m := NewHostMatcher(nil)
	assert.True(t, m.Matches("https://jobs.example.com/search"))
	assert.True(t, m.Matches("http://localhost:8080/"))
	assert.False(t, m.Matches("/relative/path"))
}
