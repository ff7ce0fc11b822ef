package scrape

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Chain tries scrapers in order, returning the first success.
type Chain struct {
	scrapers []LeadScraper
}

// NewChain creates a Chain. Scrapers are tried in order; an empty result
// counts as success.
func NewChain(scrapers ...LeadScraper) *Chain {
	return &Chain{scrapers: scrapers}
}

// ScrapeLeads runs each scraper that supports target until one succeeds.
func (c *Chain) ScrapeLeads(ctx context.Context, target string) ([]model.RawLead, error) {
	var lastErr error
	for _, s := range c.scrapers {
		if !s.Supports(target) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		leads, err := s.ScrapeLeads(ctx, target)
		if err == nil {
			zap.L().Debug("scrape: scraper succeeded",
				zap.String("scraper", s.Name()),
				zap.Int("leads", len(leads)),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
			if leads == nil {
				leads = []model.RawLead{}
			}
			return leads, nil
		}
		zap.L().Debug("scrape: scraper failed, trying next",
			zap.String("scraper", s.Name()),
			zap.String("target", target),
			zap.Error(err),
		)
		lastErr = err
	}
	if lastErr != nil {
		return nil, eris.Wrap(lastErr, "scrape: all scrapers failed")
	}
	return nil, eris.Errorf("scrape: no suitable scraper for target: %s", target)
}
