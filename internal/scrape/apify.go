package scrape

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/apify"
)

// ApifyJobs scrapes job postings by running a jobs actor on the target URL.
type ApifyJobs struct {
	client  apify.Client
	actorID string
	hosts   *HostMatcher
	poll    []apify.PollOption
}

// NewApifyJobs creates an ApifyJobs scraper. A nil matcher supports every
// http(s) target.
func NewApifyJobs(client apify.Client, actorID string, hosts *HostMatcher, poll ...apify.PollOption) *ApifyJobs {
	if hosts == nil {
		hosts = NewHostMatcher(nil)
	}
	return &ApifyJobs{client: client, actorID: actorID, hosts: hosts, poll: poll}
}

// Name implements LeadScraper.
func (a *ApifyJobs) Name() string { return "apify" }

// Supports implements LeadScraper.
func (a *ApifyJobs) Supports(target string) bool { return a.hosts.Matches(target) }

// ScrapeLeads starts the actor with {"urls":[target]} and returns its
// dataset items as raw leads.
func (a *ApifyJobs) ScrapeLeads(ctx context.Context, target string) ([]model.RawLead, error) {
	input := map[string]any{"urls": []string{target}}
	items, err := apify.RunAndCollect(ctx, a.client, a.actorID, input, a.poll...)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: apify actor %s", a.actorID)
	}
	leads := make([]model.RawLead, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		leads = append(leads, model.RawLead(item))
	}
	return leads, nil
}
