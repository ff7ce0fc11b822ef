package pipeline

import (
	"time"

	"github.com/sells-group/outreach-cli/internal/model"
)

// ContactView is the client-facing shape of a resolved contact.
type ContactView struct {
	Name                string `json:"name"`
	Email               string `json:"email,omitempty"`
	Headline            string `json:"headline,omitempty"`
	ProfileImage        string `json:"profileImage,omitempty"`
	ProfileLink         string `json:"profileLink,omitempty"`
	Organization        string `json:"organization,omitempty"`
	IsExternalRecruiter bool   `json:"isExternalRecruiter"`
}

// LeadView is one lead as a client sees it.
type LeadView struct {
	Title        string       `json:"title"`
	Organization string       `json:"organization"`
	Location     string       `json:"location"`
	Link         string       `json:"link"`
	Description  string       `json:"description"`
	ContactLink  string       `json:"contactLink,omitempty"`
	PostedAt     string       `json:"postedAt,omitempty"`
	Contact      *ContactView `json:"contact"`
	Contactable  bool         `json:"contactable"`
}

// DispatchView is one generate+send attempt.
type DispatchView struct {
	LeadIndex         int    `json:"leadIndex"`
	Organization      string `json:"organization"`
	Title             string `json:"title"`
	Recipient         string `json:"recipient"`
	Sent              bool   `json:"sent"`
	Reason            string `json:"reason,omitempty"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
}

// StatusView is the pollable projection of a PipelineRequest.
type StatusView struct {
	ID                  string              `json:"id"`
	Status              model.RequestStatus `json:"status"`
	Stage               model.Stage         `json:"stage,omitempty"`
	Leads               []LeadView          `json:"leads"`
	TotalFound          int                 `json:"totalFound"`
	ContactableCount    int                 `json:"contactableCount"`
	NonContactableCount int                 `json:"nonContactableCount"`
	SentCount           int                 `json:"sentCount"`
	Error               string              `json:"error,omitempty"`
	Dispatches          []DispatchView      `json:"dispatches"`
	CreatedAt           time.Time           `json:"createdAt"`
	CompletedAt         *time.Time          `json:"completedAt,omitempty"`
}

// Project renders req for clients. Leads come from the enriched snapshot
// when the enrich stage has run, otherwise from the filtered snapshot as
// non-contactable entries. Project does not modify req.
func Project(req *model.PipelineRequest) StatusView {
	v := StatusView{
		ID:          req.ID,
		Status:      req.Status,
		Stage:       req.Stage,
		SentCount:   req.SentCount,
		Error:       req.ErrorDetail,
		CreatedAt:   req.CreatedAt,
		CompletedAt: req.CompletedAt,
		Dispatches:  make([]DispatchView, len(req.DispatchResults)),
	}
	for i, d := range req.DispatchResults {
		v.Dispatches[i] = DispatchView(d)
	}

	if req.HasEnriched() {
		v.Leads = make([]LeadView, len(req.EnrichedLeads))
		for i, l := range req.EnrichedLeads {
			v.Leads[i] = leadView(l.Lead, l.Contact, l.Contactable)
		}
		v.TotalFound = req.TotalFound
		v.ContactableCount = req.ContactableCount
		v.NonContactableCount = req.NonContactableCount
		return v
	}

	v.Leads = make([]LeadView, len(req.FilteredLeads))
	for i, l := range req.FilteredLeads {
		v.Leads[i] = leadView(l, nil, false)
	}
	v.TotalFound = len(v.Leads)
	v.NonContactableCount = len(v.Leads)
	return v
}

// NewContactView converts a resolved contact; nil stays nil.
func NewContactView(c *model.ContactInfo) *ContactView {
	if c == nil {
		return nil
	}
	return &ContactView{
		Name:                c.Name,
		Email:               c.Email,
		Headline:            c.Headline,
		ProfileImage:        c.ProfileImage,
		ProfileLink:         c.ProfileLink,
		Organization:        c.Organization,
		IsExternalRecruiter: c.IsExternalRecruiter,
	}
}

func leadView(l model.Lead, c *model.ContactInfo, contactable bool) LeadView {
	return LeadView{
		Title:        l.Title,
		Organization: l.Organization,
		Location:     l.Location,
		Link:         l.Link,
		Description:  l.Description,
		ContactLink:  l.ContactLink,
		PostedAt:     l.PostedAt,
		Contact:      NewContactView(c),
		Contactable:  contactable,
	}
}
