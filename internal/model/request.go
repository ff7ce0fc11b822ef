package model

import (
	"time"
)

// RequestStatus represents the lifecycle state of a pipeline request.
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusProcessing RequestStatus = "processing"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusFailed     RequestStatus = "failed"
	RequestStatusCancelled  RequestStatus = "cancelled"
)

// IsValid reports whether s is a known status.
func (s RequestStatus) IsValid() bool {
	switch s {
	case RequestStatusPending, RequestStatusProcessing, RequestStatusCompleted,
		RequestStatusFailed, RequestStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition may leave s.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestStatusCompleted, RequestStatusFailed, RequestStatusCancelled:
		return true
	default:
		return false
	}
}

// transitions is the full request state graph. Anything not listed is rejected.
var transitions = map[RequestStatus][]RequestStatus{
	RequestStatusPending:    {RequestStatusProcessing, RequestStatusCancelled},
	RequestStatusProcessing: {RequestStatusCompleted, RequestStatusFailed, RequestStatusCancelled},
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to RequestStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every status from which to is reachable in one step.
func SourcesFor(to RequestStatus) []RequestStatus {
	var out []RequestStatus
	for _, from := range []RequestStatus{RequestStatusPending, RequestStatusProcessing} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Stage names the pipeline step a processing request is executing.
type Stage string

const (
	StageScrape   Stage = "scrape"
	StageFilter   Stage = "filter"
	StageEnrich   Stage = "enrich"
	StageDispatch Stage = "dispatch"
)

// Machine-readable prefixes for PipelineRequest.ErrorDetail.
const (
	ErrorScrapeFailed      = "scrape_failed"
	ErrorWorkerInterrupted = "worker_interrupted"
	ErrorStore             = "store_error"
)

// PipelineRequest is one submitted search and everything the pipeline learned
// about it. Lead snapshots are replaced wholesale by each stage.
type PipelineRequest struct {
	ID               string        `json:"id"`
	OwnerID          string        `json:"owner_id"`
	Target           string        `json:"target"`
	CandidateProfile string        `json:"candidate_profile,omitempty"`
	Status           RequestStatus `json:"status"`
	Stage            Stage         `json:"stage,omitempty"`

	RawLeads      []RawLead      `json:"raw_leads,omitempty"`
	FilteredLeads []Lead         `json:"filtered_leads,omitempty"`
	EnrichedLeads []EnrichedLead `json:"enriched_leads,omitempty"`

	TotalFound          int `json:"total_found"`
	ContactableCount    int `json:"contactable_count"`
	NonContactableCount int `json:"non_contactable_count"`
	SentCount           int `json:"sent_count"`

	DispatchResults []DispatchResult `json:"dispatch_results,omitempty"`

	ErrorDetail string     `json:"error_detail,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// HasEnriched reports whether the enrich stage has written its snapshot.
// An enrich stage that produced zero leads still counts.
func (r *PipelineRequest) HasEnriched() bool {
	return r.EnrichedLeads != nil
}

// DispatchResult records one generate+send attempt within a run.
type DispatchResult struct {
	LeadIndex         int    `json:"lead_index"`
	Organization      string `json:"organization"`
	Title             string `json:"title"`
	Recipient         string `json:"recipient"`
	Sent              bool   `json:"sent"`
	Reason            string `json:"reason,omitempty"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
}

// LeadCounts holds the counters derived from an enriched lead list.
type LeadCounts struct {
	TotalFound          int `json:"total_found"`
	ContactableCount    int `json:"contactable_count"`
	NonContactableCount int `json:"non_contactable_count"`
}

// CountLeads derives the request counters from the enriched snapshot.
// Contactable + NonContactable always equals len(leads).
func CountLeads(leads []EnrichedLead) LeadCounts {
	c := LeadCounts{TotalFound: len(leads)}
	for _, l := range leads {
		if l.Contactable {
			c.ContactableCount++
		}
	}
	c.NonContactableCount = c.TotalFound - c.ContactableCount
	return c
}
