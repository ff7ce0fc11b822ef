// Package pipeline runs outreach requests: scrape, filter, enrich, and
// dispatch, persisting each stage's output as it completes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/message"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// LeadScraper fetches raw postings for a target.
type LeadScraper interface {
	ScrapeLeads(ctx context.Context, target string) ([]model.RawLead, error)
}

// ContactResolver finds the hiring contact for a lead. nil, nil means none.
type ContactResolver interface {
	Resolve(ctx context.Context, lead model.Lead) (*model.ContactInfo, error)
}

// MessageGenerator drafts a message for a lead.
type MessageGenerator interface {
	Generate(ctx context.Context, in message.Input) (*message.Message, error)
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, ownerID string, out dispatch.Outbound) dispatch.Result
}

// Options tunes the dispatch stage.
type Options struct {
	// DispatchCap is how many contactable leads get a message per run.
	DispatchCap int
	// SendDelay separates consecutive send attempts within a run.
	SendDelay time.Duration
}

// DefaultOptions sends to the first three contactable leads, one second apart.
func DefaultOptions() Options {
	return Options{DispatchCap: 3, SendDelay: time.Second}
}

// errStopped ends a run without further writes: the run's context was
// cancelled or the row left processing underneath it.
var errStopped = eris.New("pipeline: run stopped")

type scrapeFailure struct{ err error }

func (e *scrapeFailure) Error() string { return e.err.Error() }

// Orchestrator executes one request end to end. Collaborator calls within a
// run are sequential.
type Orchestrator struct {
	store     store.RequestStore
	scraper   LeadScraper
	resolver  ContactResolver
	generator MessageGenerator
	sender    Sender
	opts      Options
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(st store.RequestStore, scraper LeadScraper, resolver ContactResolver, generator MessageGenerator, sender Sender, opts Options) *Orchestrator {
	if opts.DispatchCap < 0 {
		opts.DispatchCap = 0
	}
	return &Orchestrator{
		store:     st,
		scraper:   scraper,
		resolver:  resolver,
		generator: generator,
		sender:    sender,
		opts:      opts,
		sleep:     sleepCtx,
	}
}

// Run executes requestID from pending to completed or failed. A cancelled
// run returns nil and leaves the row as the canceller wrote it. The error
// is reserved for store failures.
func (o *Orchestrator) Run(ctx context.Context, requestID string) error {
	log := zap.L().With(zap.String("request_id", requestID))

	req, err := o.store.GetRequest(ctx, requestID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load request")
	}
	if err := o.store.TransitionStatus(ctx, requestID, model.RequestStatusProcessing, ""); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			log.Info("pipeline: request no longer pending, skipping")
			return nil
		}
		return eris.Wrap(err, "pipeline: start request")
	}
	log.Info("pipeline: started", zap.String("target", req.Target))
	start := time.Now()

	err = o.execute(ctx, req, log)
	switch {
	case err == nil:
		log.Info("pipeline: completed", zap.Int64("duration_ms", time.Since(start).Milliseconds()))
		return nil
	case errors.Is(err, errStopped):
		log.Info("pipeline: stopped", zap.Int64("duration_ms", time.Since(start).Milliseconds()))
		return nil
	default:
		log.Error("pipeline: store failure", zap.Error(err))
		detail := fmt.Sprintf("%s: %v", model.ErrorStore, err)
		if ferr := o.store.TransitionStatus(context.WithoutCancel(ctx), requestID, model.RequestStatusFailed, detail); ferr != nil {
			log.Error("pipeline: could not record failure", zap.Error(ferr))
		}
		return err
	}
}

func (o *Orchestrator) execute(ctx context.Context, req *model.PipelineRequest, log *zap.Logger) error {
	id := req.ID

	stage := func(name model.Stage, fn func() error) error {
		if err := o.checkpoint(ctx, o.store.SetStage(ctx, id, name)); err != nil {
			return err
		}
		started := time.Now()
		err := fn()
		log.Info("pipeline: stage finished",
			zap.String("stage", string(name)),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
			zap.Bool("ok", err == nil),
		)
		return err
	}

	// Scrape. The only stage whose failure fails the request.
	var raw []model.RawLead
	err := stage(model.StageScrape, func() error {
		var err error
		if raw, err = o.scraper.ScrapeLeads(ctx, req.Target); err != nil {
			if ctx.Err() != nil {
				return errStopped
			}
			return &scrapeFailure{err: err}
		}
		return o.checkpoint(ctx, o.store.SaveRawLeads(ctx, id, raw))
	})
	var sf *scrapeFailure
	if errors.As(err, &sf) {
		log.Warn("pipeline: scrape failed", zap.Error(sf.err))
		detail := fmt.Sprintf("%s: %v", model.ErrorScrapeFailed, sf.err)
		return o.checkpoint(ctx, o.store.TransitionStatus(ctx, id, model.RequestStatusFailed, detail))
	}
	if err != nil {
		return err
	}

	var filtered []model.Lead
	err = stage(model.StageFilter, func() error {
		filtered = NormalizeLeads(raw)
		return o.checkpoint(ctx, o.store.SaveFilteredLeads(ctx, id, filtered))
	})
	if err != nil {
		return err
	}

	var enriched []model.EnrichedLead
	err = stage(model.StageEnrich, func() error {
		var err error
		if enriched, err = o.enrich(ctx, filtered, log); err != nil {
			return err
		}
		return o.checkpoint(ctx, o.store.SaveEnrichedLeads(ctx, id, enriched))
	})
	if err != nil {
		return err
	}

	err = stage(model.StageDispatch, func() error {
		results, err := o.dispatch(ctx, req, enriched, log)
		if err != nil {
			return err
		}
		return o.checkpoint(ctx, o.store.SaveDispatchResults(ctx, id, results))
	})
	if err != nil {
		return err
	}

	return o.checkpoint(ctx, o.store.TransitionStatus(ctx, id, model.RequestStatusCompleted, ""))
}

// checkpoint maps a stage write's error onto the run's control flow.
func (o *Orchestrator) checkpoint(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil ||
		errors.Is(err, store.ErrNotProcessing) ||
		errors.Is(err, store.ErrInvalidTransition) {
		return errStopped
	}
	return err
}

func (o *Orchestrator) enrich(ctx context.Context, leads []model.Lead, log *zap.Logger) ([]model.EnrichedLead, error) {
	out := make([]model.EnrichedLead, len(leads))
	for i, lead := range leads {
		if ctx.Err() != nil {
			return nil, errStopped
		}
		contact, err := o.resolver.Resolve(ctx, lead)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errStopped
			}
			log.Debug("pipeline: enrichment failed, lead not contactable", zap.Int("lead_index", i), zap.Error(err))
			contact = nil
		}
		out[i] = model.NewEnrichedLead(lead, contact)
	}
	return out, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, req *model.PipelineRequest, leads []model.EnrichedLead, log *zap.Logger) ([]model.DispatchResult, error) {
	results := []model.DispatchResult{}

	for i, lead := range leads {
		if len(results) >= o.opts.DispatchCap {
			break
		}
		if !lead.Contactable {
			continue
		}
		res := model.DispatchResult{
			LeadIndex:    i,
			Organization: lead.Organization,
			Title:        lead.Title,
			Recipient:    lead.Contact.Email,
		}
		if len(results) > 0 && o.opts.SendDelay > 0 {
			if err := o.sleep(ctx, o.opts.SendDelay); err != nil {
				return nil, errStopped
			}
		}
		if ctx.Err() != nil {
			return nil, errStopped
		}

		msg, err := o.generator.Generate(ctx, message.Input{
			Role:             lead.Title,
			Organization:     lead.Organization,
			RoleDescription:  lead.Description,
			CandidateProfile: req.CandidateProfile,
			RecipientName:    lead.Contact.Name,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, errStopped
			}
			log.Warn("pipeline: generation failed", zap.Int("lead_index", i), zap.Error(err))
			res.Reason = dispatch.ReasonGenerationError
			results = append(results, res)
			continue
		}

		sent := o.sender.Send(ctx, req.OwnerID, dispatch.Outbound{
			Recipient:        lead.Contact.Email,
			Subject:          msg.Subject,
			Body:             msg.Body,
			RequestID:        req.ID,
			LeadOrganization: lead.Organization,
			LeadTitle:        lead.Title,
		})
		res.Sent = sent.Sent
		res.Reason = sent.Reason
		res.ProviderMessageID = sent.ProviderMessageID
		results = append(results, res)
	}
	return results, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
