// Package scrape turns a search target into raw job-posting records.
package scrape

import (
	"context"

	"github.com/sells-group/outreach-cli/internal/model"
)

// LeadScraper fetches the raw job postings behind a search target.
type LeadScraper interface {
	ScrapeLeads(ctx context.Context, target string) ([]model.RawLead, error)
	Name() string
	Supports(target string) bool
}
