// Package enrich resolves the hiring contact behind a job posting.
package enrich

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Resolver turns a lead's profile link into ContactInfo.
type Resolver struct {
	lookup  ProfileLookup
	breaker *resilience.CircuitBreaker
}

// NewResolver creates a Resolver. Lookups run through a breaker built from
// cfg so a failing provider stops being called.
func NewResolver(lookup ProfileLookup, cfg resilience.CircuitBreakerConfig) *Resolver {
	if cfg.Name == "" {
		cfg.Name = "profile_lookup"
	}
	return &Resolver{lookup: lookup, breaker: resilience.NewCircuitBreaker(cfg)}
}

// Resolve looks up the contact for lead. It returns nil, nil when the lead has
// no resolvable profile link or the provider returns nothing usable. Errors
// are lookup failures, including resilience.ErrCircuitOpen.
func (r *Resolver) Resolve(ctx context.Context, lead model.Lead) (*model.ContactInfo, error) {
	return r.resolve(ctx, lead.ProfileLink(), lead.Organization)
}

// ResolveLink resolves a bare profile link with no job context.
func (r *Resolver) ResolveLink(ctx context.Context, profileLink string) (*model.ContactInfo, error) {
	return r.resolve(ctx, profileLink, "")
}

// Breaker exposes the lookup breaker's state for status reporting.
func (r *Resolver) Breaker() *resilience.CircuitBreaker { return r.breaker }

func (r *Resolver) resolve(ctx context.Context, link, jobOrg string) (*model.ContactInfo, error) {
	if !IsProfileURL(link) {
		return nil, nil
	}

	start := time.Now()
	rec, err := resilience.ExecuteVal(ctx, r.breaker, func(ctx context.Context) (model.RawRecord, error) {
		return r.lookup.LookupProfile(ctx, link)
	})
	if err != nil {
		return nil, eris.Wrap(err, "enrich: lookup profile")
	}
	if rec == nil {
		return nil, nil
	}

	contact := contactFromProfile(rec, link)
	if contact == nil {
		return nil, nil
	}
	contact.IsExternalRecruiter = IsExternalRecruiter(contact.Headline, contact.Organization, jobOrg)

	zap.L().Debug("enrich: profile resolved",
		zap.Bool("has_email", contact.Email != ""),
		zap.Bool("external_recruiter", contact.IsExternalRecruiter),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return contact, nil
}
